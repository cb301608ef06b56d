package service

import (
	"context"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentEvent(eventType string, status models.PaymentStatus, checkout *models.CheckoutPayload) *models.PaymentEvent {
	return &models.PaymentEvent{
		BaseEvent: models.BaseEvent{EventID: "evt_" + eventType, EventType: eventType, Timestamp: time.Now().UTC()},
		Payment: models.GatewayPayment{
			PaymentID: "pay_1",
			OrderID:   "order_pay_1",
			Amount:    decimal.NewFromInt(1000),
			Currency:  "INR",
			Status:    status,
			UserEmail: "asha@example.com",
		},
		Checkout: checkout,
	}
}

func TestCapturedPaymentWithCheckoutIsFinalized(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 5})
	ps := NewPaymentService(fx.store, fx.finalizer)

	cart := &models.CheckoutPayload{Lines: []models.CartLine{line("tee", models.SizeM, 1)}}
	event := paymentEvent(models.EventTypePaymentCaptured, "", cart)

	res, err := ps.HandlePaymentEvent(context.Background(), event)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "order_pay_1", res.OrderID)
	assert.Equal(t, 4, fx.quantity(t, "tee", models.SizeM))

	// Redelivery of the same webhook.
	res, err = ps.HandlePaymentEvent(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 4, fx.quantity(t, "tee", models.SizeM))
}

func TestPaymentEventWithoutCheckoutOnlyMirrors(t *testing.T) {
	fx := newFixture(t)
	ps := NewPaymentService(fx.store, fx.finalizer)

	res, err := ps.HandlePaymentEvent(context.Background(), paymentEvent(models.EventTypePaymentCaptured, "", nil))
	require.NoError(t, err)
	assert.Nil(t, res)

	payment, err := ps.GetPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCaptured, payment.Status)
	assert.Equal(t, 0, fx.store.OrderCount())
}

func TestTerminalStatusesAreSticky(t *testing.T) {
	tests := []struct {
		eventType string
		want      models.PaymentStatus
	}{
		{models.EventTypePaymentRefunded, models.PaymentRefunded},
		{models.EventTypePaymentFailed, models.PaymentFailed},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			fx := newFixture(t)
			ps := NewPaymentService(fx.store, fx.finalizer)
			ctx := context.Background()

			_, err := ps.HandlePaymentEvent(ctx, paymentEvent(tt.eventType, "", nil))
			require.NoError(t, err)
			_, err = ps.HandlePaymentEvent(ctx, paymentEvent(models.EventTypePaymentCaptured, models.PaymentCaptured, nil))
			require.NoError(t, err)

			payment, err := ps.GetPayment(ctx, "pay_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, payment.Status)
		})
	}
}

func TestPaymentEventRequiresPaymentID(t *testing.T) {
	fx := newFixture(t)
	ps := NewPaymentService(fx.store, fx.finalizer)

	event := paymentEvent(models.EventTypePaymentCaptured, "", nil)
	event.Payment.PaymentID = ""
	_, err := ps.HandlePaymentEvent(context.Background(), event)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}
