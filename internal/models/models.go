package models

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CouponType selects the discount formula.
type CouponType string

const (
	CouponPercentage CouponType = "percentage"
	CouponFixed      CouponType = "fixed"
)

// Coupon is a discount code with bounded redemptions.
type Coupon struct {
	Code               string              `db:"code" json:"code"`
	Type               CouponType          `db:"type" json:"type"`
	Value              decimal.Decimal     `db:"value" json:"value"`
	MinimumOrderAmount decimal.Decimal     `db:"minimum_order_amount" json:"minimumOrderAmount"`
	MaximumDiscount    decimal.NullDecimal `db:"maximum_discount" json:"maximumDiscount"`
	TotalAvailable     int                 `db:"total_available" json:"totalAvailable"`
	UsedCount          int                 `db:"used_count" json:"usedCount"`
	ExpirationDate     time.Time           `db:"expiration_date" json:"expirationDate"`
	IsActive           bool                `db:"is_active" json:"isActive"`
	CreatedAt          time.Time           `db:"created_at" json:"createdAt"`
}

// NormalizeCouponCode is the case-insensitive key used everywhere a code is looked up.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Remaining is the number of redemptions left.
func (c *Coupon) Remaining() int {
	if c.UsedCount >= c.TotalAvailable {
		return 0
	}
	return c.TotalAvailable - c.UsedCount
}

// Order statuses
const (
	OrderStatusConfirmed = "confirmed"
	OrderStatusRecovered = "recovered"
)

// Item statuses
const (
	ItemStatusProcessing = "processing"
	ItemStatusShipped    = "shipped"
	ItemStatusDelivered  = "delivered"
)

// Order sources
const (
	OrderSourceCheckout = "checkout"
	OrderSourceReplay   = "replay"
	OrderSourceRecovery = "recovery"
)

// ItemDetail is one purchased (product, size, quantity) cell.
type ItemDetail struct {
	ProductID string `json:"productId" binding:"required"`
	Size      Size   `json:"size" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// ItemDetails is stored as a jsonb array.
type ItemDetails []ItemDetail

func (d ItemDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d)
}

func (d *ItemDetails) Scan(src interface{}) error {
	return scanJSON(src, d)
}

// ShippingAddress is stored as jsonb.
type ShippingAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// IsZero reports whether no field is set.
func (a ShippingAddress) IsZero() bool {
	return a == ShippingAddress{}
}

func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *ShippingAddress) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// Order is a finalized purchase. PaymentID is the idempotency key.
type Order struct {
	OrderID                string              `db:"order_id" json:"orderId"`
	PaymentID              string              `db:"payment_id" json:"paymentId"`
	UserEmail              string              `db:"user_email" json:"userEmail,omitempty"`
	Amount                 decimal.Decimal     `db:"amount" json:"amount"`
	Currency               string              `db:"currency" json:"currency"`
	Status                 string              `db:"status" json:"status"`
	ItemDetails            ItemDetails         `db:"item_details" json:"itemDetails"`
	ShippingAddress        ShippingAddress     `db:"shipping_address" json:"shippingAddress"`
	CouponCode             *string             `db:"coupon_code" json:"couponCode,omitempty"`
	CouponDiscount         decimal.NullDecimal `db:"coupon_discount" json:"couponDiscount,omitempty"`
	TrackingID             *string             `db:"tracking_id" json:"trackingId,omitempty"`
	ItemStatus             string              `db:"item_status" json:"itemStatus"`
	Source                 string              `db:"source" json:"source"`
	ProductDetailsComplete bool                `db:"product_details_complete" json:"productDetailsComplete"`
	CreatedAt              time.Time           `db:"created_at" json:"timestamp"`
	UpdatedAt              time.Time           `db:"updated_at" json:"updatedAt"`
}

// InsertResult is the outcome of the idempotent insert. Inserted=false is a success.
type InsertResult struct {
	Inserted bool   `json:"inserted"`
	Existing *Order `json:"existing,omitempty"`
}

// PaymentStatus is the gateway's view of a payment.
type PaymentStatus string

const (
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentFailed     PaymentStatus = "failed"
)

// PaymentNotes is free-form gateway metadata attached to a payment. Stored as jsonb.
type PaymentNotes map[string]string

func (n PaymentNotes) Value() (driver.Value, error) {
	if n == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(n)
}

func (n *PaymentNotes) Scan(src interface{}) error {
	return scanJSON(src, n)
}

// GatewayPayment mirrors one record of the payment gateway's ledger.
type GatewayPayment struct {
	PaymentID string          `db:"payment_id" json:"paymentId"`
	OrderID   string          `db:"order_id" json:"orderId"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	Status    PaymentStatus   `db:"status" json:"status"`
	UserEmail string          `db:"user_email" json:"userEmail,omitempty"`
	Notes     PaymentNotes    `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// IsCaptured reports whether money was taken. Only captured payments are reconciled.
// Terminal reports whether the gateway will not move the payment on. Later
// deliveries never overwrite a terminal status.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentRefunded || s == PaymentFailed
}

func (p *GatewayPayment) IsCaptured() bool {
	return p.Status == PaymentCaptured
}
