package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"checkout-service/internal/models"

	"github.com/lib/pq"
)

// SQLSTATE classes worth retrying: connection, transaction rollback (serialization,
// deadlock), insufficient resources, operator intervention, system error.
var transientClasses = map[pq.ErrorClass]bool{
	"08": true,
	"40": true,
	"53": true,
	"57": true,
	"58": true,
}

const uniqueViolation = pq.ErrorCode("23505")

// classify tags a driver error as transient or fatal for the finalizer's retry policy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrPersistenceTransient) || errors.Is(err, models.ErrPersistenceFatal) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", models.ErrPersistenceTransient, err)
	}
	return fmt.Errorf("%w: %v", models.ErrPersistenceFatal, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientClasses[pqErr.Code.Class()]
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
