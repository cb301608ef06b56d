package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"checkout-service/internal/models"
)

const paymentColumns = `payment_id, order_id, amount, currency, status, user_email, notes, created_at, updated_at`

// RecordPayment upserts a gateway payment fact. Refunded and failed are
// terminal: later deliveries for the same payment do not overwrite them.
func (s *Store) RecordPayment(ctx context.Context, payment *models.GatewayPayment) error {
	query := `
		INSERT INTO payments (payment_id, order_id, amount, currency, status, user_email, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (payment_id) DO UPDATE SET
			status = CASE WHEN payments.status IN ('refunded', 'failed') THEN payments.status ELSE EXCLUDED.status END,
			order_id = COALESCE(NULLIF(EXCLUDED.order_id, ''), payments.order_id),
			user_email = COALESCE(NULLIF(EXCLUDED.user_email, ''), payments.user_email),
			notes = payments.notes || EXCLUDED.notes,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		payment.PaymentID, payment.OrderID, payment.Amount, payment.Currency, payment.Status,
		payment.UserEmail, payment.Notes, payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record payment %s: %w", payment.PaymentID, err)
	}
	return nil
}

// GetPayment retrieves a gateway payment by id
func (s *Store) GetPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	var payment models.GatewayPayment
	err := s.db.GetContext(ctx, &payment, "SELECT "+paymentColumns+" FROM payments WHERE payment_id = $1", paymentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, paymentID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPayments returns gateway payments created in [from, to), optionally for one user
func (s *Store) ListPayments(ctx context.Context, from, to time.Time, userEmail string) ([]models.GatewayPayment, error) {
	var payments []models.GatewayPayment
	err := s.db.SelectContext(ctx, &payments, `
		SELECT `+paymentColumns+` FROM payments
		WHERE created_at >= $1 AND created_at < $2
			AND ($3 = '' OR LOWER(user_email) = LOWER($3))
		ORDER BY created_at DESC`, from, to, userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}
