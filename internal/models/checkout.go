package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one requested (product, size, quantity).
type CartLine struct {
	ProductID string `json:"productId" binding:"required"`
	Size      Size   `json:"size" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// PaymentConfirmation is the opaque fact that the gateway captured a payment.
type PaymentConfirmation struct {
	PaymentID  string          `json:"paymentId" binding:"required"`
	OrderID    string          `json:"orderId" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	UserEmail  string          `json:"userEmail"`
	CapturedAt time.Time       `json:"capturedAt"`
	Notes      PaymentNotes    `json:"notes,omitempty"`
}

// CheckoutPayload is the request-scoped input of one finalization attempt.
// ClientDiscount is informational only; the discount is always recomputed.
type CheckoutPayload struct {
	Lines           []CartLine          `json:"lines" binding:"required,min=1,dive"`
	ShippingAddress ShippingAddress     `json:"shippingAddress"`
	Payment         PaymentConfirmation `json:"payment"`
	CouponCode      string              `json:"couponCode,omitempty"`
	ClientDiscount  *decimal.Decimal    `json:"couponDiscount,omitempty"`
}

// Items converts cart lines to order item details.
func (p *CheckoutPayload) Items() ItemDetails {
	items := make(ItemDetails, 0, len(p.Lines))
	for _, l := range p.Lines {
		items = append(items, ItemDetail{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity})
	}
	return items
}

// DegradedRecord is the side-log entry for a paid checkout whose order could not be saved.
type DegradedRecord struct {
	ID          string          `json:"id"`
	Payload     CheckoutPayload `json:"payload"`
	Reason      string          `json:"reason"`
	Attempts    int             `json:"attempts"`
	ReplayCount int             `json:"replayCount"`
	RecordedAt  time.Time       `json:"recordedAt"`
}
