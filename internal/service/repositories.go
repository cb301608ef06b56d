package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// InventoryRepository persists product inventory documents and their history.
// UpdateInventory must fail with models.ErrVersionConflict when the stored
// version differs from expectedVersion.
type InventoryRepository interface {
	GetInventory(ctx context.Context, productID string) (*models.ProductInventory, error)
	CreateProduct(ctx context.Context, inv *models.ProductInventory) error
	UpdateInventory(ctx context.Context, inv *models.ProductInventory, expectedVersion int64, entries []models.HistoryEntry) error
	AppendHistory(ctx context.Context, entry models.HistoryEntry) error
	ListHistory(ctx context.Context, productID string, limit int) ([]models.HistoryEntry, error)
}

// CouponRepository persists coupons. IncrementCouponUsage is a conditional
// update that never lets usedCount pass totalAvailable.
type CouponRepository interface {
	GetCoupon(ctx context.Context, code string) (*models.Coupon, error)
	CreateCoupon(ctx context.Context, coupon *models.Coupon) error
	IncrementCouponUsage(ctx context.Context, code string) error
}

// OrderRepository is the order store. InsertIfAbsent is the idempotency gate.
// Lookups and updates by order id address the earliest order carrying it.
// AttachProductDetails only changes an order whose details are incomplete and
// reports whether it did.
type OrderRepository interface {
	InsertIfAbsent(ctx context.Context, order *models.Order) (*models.InsertResult, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	AttachProductDetails(ctx context.Context, orderID string, items models.ItemDetails) (*models.Order, bool, error)
	UpdateTracking(ctx context.Context, orderID, trackingID, itemStatus string) (*models.Order, error)
	FindMissing(ctx context.Context, paymentIDs []string) (map[string]struct{}, error)
	GetOrdersByPaymentIDs(ctx context.Context, paymentIDs []string) ([]models.Order, error)
}

// PaymentLedger mirrors the gateway's payment records.
type PaymentLedger interface {
	RecordPayment(ctx context.Context, payment *models.GatewayPayment) error
	GetPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error)
	ListPayments(ctx context.Context, from, to time.Time, userEmail string) ([]models.GatewayPayment, error)
}

// EventPublisher emits domain events to downstream consumers.
type EventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error
	PublishOrderDegraded(ctx context.Context, event *models.OrderDegradedEvent) error
	PublishOrderRecovered(ctx context.Context, event *models.OrderRecoveredEvent) error
	PublishInventoryDiscrepancy(ctx context.Context, event *models.InventoryDiscrepancyEvent) error
	PublishCouponRedemptionFailed(ctx context.Context, event *models.CouponRedemptionFailedEvent) error
	PublishReconciliationMismatch(ctx context.Context, event *models.ReconciliationMismatchEvent) error
}

// DegradedLog is the side log of paid checkouts whose order was not saved.
// It lives outside the order store.
type DegradedLog interface {
	AppendDegraded(ctx context.Context, rec *models.DegradedRecord) error
	PendingDegraded(ctx context.Context, limit int) ([]models.DegradedRecord, error)
	UpdateDegraded(ctx context.Context, rec *models.DegradedRecord) error
	AckDegraded(ctx context.Context, rec *models.DegradedRecord) error
}

// IdempotencyCache is a fast-path marker of payments that already have an order.
type IdempotencyCache interface {
	MarkFinalized(ctx context.Context, paymentID, orderID string, ttl time.Duration) error
	LookupFinalized(ctx context.Context, paymentID string) (string, bool, error)
}

// Locker is a distributed mutex keyed by name.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}
