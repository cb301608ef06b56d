package service

import (
	"context"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// PaymentService mirrors gateway payment facts and finalizes captured
// payments that carry their checkout.
type PaymentService struct {
	ledger    PaymentLedger
	finalizer *CheckoutFinalizer
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(ledger PaymentLedger, finalizer *CheckoutFinalizer) *PaymentService {
	return &PaymentService{
		ledger:    ledger,
		finalizer: finalizer,
		logger:    util.GetLogger(),
	}
}

// HandlePaymentEvent records a gateway webhook. A captured payment with an
// attached checkout goes through the finalizer, which makes redelivery safe.
// The returned result is nil when nothing was finalized.
func (ps *PaymentService) HandlePaymentEvent(ctx context.Context, event *models.PaymentEvent) (*FinalizeResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandlePaymentEvent")
	defer span.End()

	payment := event.Payment
	if payment.PaymentID == "" {
		return nil, fmt.Errorf("%w: payment event %s without payment id", models.ErrInvalidRequest, event.EventID)
	}
	if payment.Status == "" {
		payment.Status = statusForEvent(event.EventType)
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = event.Timestamp
	}

	if err := ps.ledger.RecordPayment(ctx, &payment); err != nil {
		return nil, fmt.Errorf("failed to record payment %s: %w", payment.PaymentID, err)
	}
	util.PaymentEventsTotal.WithLabelValues(string(payment.Status)).Inc()

	ps.logger.Info("Gateway payment recorded",
		zap.String("event_id", event.EventID),
		zap.String("payment_id", payment.PaymentID),
		zap.String("order_id", payment.OrderID),
		zap.String("status", string(payment.Status)))

	if !payment.IsCaptured() || event.Checkout == nil {
		return nil, nil
	}

	checkout := *event.Checkout
	checkout.Payment = models.PaymentConfirmation{
		PaymentID:  payment.PaymentID,
		OrderID:    payment.OrderID,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		UserEmail:  payment.UserEmail,
		CapturedAt: payment.CreatedAt,
		Notes:      payment.Notes,
	}
	return ps.finalizer.Finalize(ctx, &checkout)
}

// GetPayment retrieves a mirrored gateway payment
func (ps *PaymentService) GetPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	return ps.ledger.GetPayment(ctx, paymentID)
}

func statusForEvent(eventType string) models.PaymentStatus {
	switch eventType {
	case models.EventTypePaymentRefunded:
		return models.PaymentRefunded
	case models.EventTypePaymentFailed:
		return models.PaymentFailed
	default:
		return models.PaymentCaptured
	}
}
