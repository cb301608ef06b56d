package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderConfirmed         = "ORDER_CONFIRMED"
	EventTypeOrderDegraded          = "ORDER_DEGRADED"
	EventTypeOrderRecovered         = "ORDER_RECOVERED"
	EventTypeInventoryDiscrepancy   = "INVENTORY_DISCREPANCY"
	EventTypeCouponRedemptionFailed = "COUPON_REDEMPTION_FAILED"
	EventTypeReconciliationMismatch = "RECONCILIATION_MISMATCH"
	EventTypePaymentCaptured        = "PAYMENT_CAPTURED"
	EventTypePaymentRefunded        = "PAYMENT_REFUNDED"
	EventTypePaymentFailed          = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderConfirmedEvent published once per newly finalized order
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID        string              `json:"order_id"`
	PaymentID      string              `json:"payment_id"`
	UserEmail      string              `json:"user_email,omitempty"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	CouponCode     string              `json:"coupon_code,omitempty"`
	CouponDiscount decimal.NullDecimal `json:"coupon_discount"`
	Items          []ItemDetail        `json:"items"`
	Warnings       []string            `json:"warnings,omitempty"`
}

// OrderDegradedEvent carries the raw payload of a paid checkout that could not be saved
type OrderDegradedEvent struct {
	BaseEvent
	Record DegradedRecord `json:"record"`
}

// OrderRecoveredEvent published when reconciliation or replay creates a missing order
type OrderRecoveredEvent struct {
	BaseEvent
	OrderID                string `json:"order_id"`
	PaymentID              string `json:"payment_id"`
	Source                 string `json:"source"`
	ProductDetailsComplete bool   `json:"product_details_complete"`
}

// InventoryDiscrepancyEvent is an operational alert: a post-payment decrement failed
type InventoryDiscrepancyEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Size      Size   `json:"size"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

// CouponRedemptionFailedEvent is an operational alert: an order kept a coupon the counter refused
type CouponRedemptionFailedEvent struct {
	BaseEvent
	OrderID    string `json:"order_id"`
	CouponCode string `json:"coupon_code"`
	Reason     string `json:"reason"`
}

// ReconciliationMismatchEvent published for every captured payment without an order
type ReconciliationMismatchEvent struct {
	BaseEvent
	PaymentID string          `json:"payment_id"`
	OrderID   string          `json:"order_id"`
	UserEmail string          `json:"user_email,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// PaymentEvent is an inbound gateway webhook relayed onto Kafka.
// Checkout is present when the storefront attached the cart to the payment.
type PaymentEvent struct {
	BaseEvent
	Payment  GatewayPayment   `json:"payment"`
	Checkout *CheckoutPayload `json:"checkout,omitempty"`
}
