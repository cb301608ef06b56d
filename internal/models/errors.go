package models

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors, surfaced to the caller before any payment side effect.
var (
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidSize        = errors.New("invalid size")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrProductNotFound    = errors.New("product not found")
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrCouponExpired      = errors.New("coupon expired")
	ErrCouponExhausted    = errors.New("coupon usage limit reached")
	ErrCouponBelowMinimum = errors.New("order amount below coupon minimum")
	ErrCouponExists       = errors.New("coupon code already exists")
	ErrInvalidRequest     = errors.New("invalid request")
)

// Persistence errors. Transient failures are retried by the finalizer; fatal ones are not.
var (
	ErrPersistenceTransient = errors.New("transient persistence failure")
	ErrPersistenceFatal     = errors.New("fatal persistence failure")
	ErrVersionConflict      = errors.New("inventory version conflict")
	ErrContention           = errors.New("inventory update contended, retries exhausted")
)

// Operational conditions that must reach the recovery path.
var (
	ErrDegraded               = errors.New("payment succeeded, order not saved")
	ErrReconciliationMismatch = errors.New("gateway payment has no matching order")
	ErrOrderNotFound          = errors.New("order not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrPaymentNotCaptured     = errors.New("payment not captured")
)

// StockShortfall describes one cart line that cannot be served.
type StockShortfall struct {
	ProductID string `json:"productId"`
	Size      Size   `json:"size"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	SoldOut   bool   `json:"soldOut"`
}

// StockError itemizes every offending line of a rejected checkout.
type StockError struct {
	Shortfalls []StockShortfall
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s/%s requested=%d available=%d", s.ProductID, s.Size, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock, strings.Join(parts, "; "))
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// CouponErrorCode maps a coupon validation error to its stable API code.
func CouponErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCouponNotFound):
		return "CouponNotFound"
	case errors.Is(err, ErrCouponExpired):
		return "CouponExpired"
	case errors.Is(err, ErrCouponExhausted):
		return "CouponExhausted"
	case errors.Is(err, ErrCouponBelowMinimum):
		return "CouponBelowMinimum"
	default:
		return ""
	}
}
