package memory

import (
	"context"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(paymentID, orderID string, amount int64, createdAt time.Time) *models.Order {
	return &models.Order{
		OrderID:    orderID,
		PaymentID:  paymentID,
		UserEmail:  "asha@example.com",
		Amount:     decimal.NewFromInt(amount),
		Currency:   "INR",
		Status:     models.OrderStatusRecovered,
		ItemStatus: models.ItemStatusProcessing,
		Source:     models.OrderSourceRecovery,
		CreatedAt:  createdAt,
	}
}

func TestInsertIfAbsentKeepsFirstPayload(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := st.InsertIfAbsent(ctx, newOrder("pay_1", "order_1", 1000, now))
	require.NoError(t, err)
	assert.True(t, first.Inserted)

	second, err := st.InsertIfAbsent(ctx, newOrder("pay_1", "order_other", 9999, now.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	require.NotNil(t, second.Existing)
	assert.Equal(t, "order_1", second.Existing.OrderID)
	assert.True(t, decimal.NewFromInt(1000).Equal(second.Existing.Amount))

	stored, err := st.GetOrderByPaymentID(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "order_1", stored.OrderID)
	assert.Equal(t, 1, st.OrderCount())
}

func TestAttachProductDetailsOnlyOnce(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	_, err := st.InsertIfAbsent(ctx, newOrder("pay_1", "order_1", 1000, time.Now().UTC()))
	require.NoError(t, err)

	order, attached, err := st.AttachProductDetails(ctx, "order_1", models.ItemDetails{
		{ProductID: "tee", Size: models.SizeM, Quantity: 2},
	})
	require.NoError(t, err)
	assert.True(t, attached)
	assert.True(t, order.ProductDetailsComplete)

	order, attached, err = st.AttachProductDetails(ctx, "order_1", models.ItemDetails{
		{ProductID: "cap", Size: models.SizeL, Quantity: 1},
	})
	require.NoError(t, err)
	assert.False(t, attached)
	assert.Equal(t, "tee", order.ItemDetails[0].ProductID)

	_, _, err = st.AttachProductDetails(ctx, "order_missing", models.ItemDetails{
		{ProductID: "tee", Size: models.SizeM, Quantity: 1},
	})
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestUpdatesByOrderIDTouchEarliestOrderOnly(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := st.InsertIfAbsent(ctx, newOrder("pay_late", "order_1", 1000, now))
	require.NoError(t, err)
	_, err = st.InsertIfAbsent(ctx, newOrder("pay_early", "order_1", 1000, now.Add(-time.Hour)))
	require.NoError(t, err)

	order, err := st.UpdateTracking(ctx, "order_1", "AWB1", models.ItemStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, "pay_early", order.PaymentID)

	late, err := st.GetOrderByPaymentID(ctx, "pay_late")
	require.NoError(t, err)
	assert.Nil(t, late.TrackingID)
	assert.Equal(t, models.ItemStatusProcessing, late.ItemStatus)
}

func TestRecordPaymentTerminalStatuses(t *testing.T) {
	for _, terminal := range []models.PaymentStatus{models.PaymentRefunded, models.PaymentFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			st := NewStore()
			ctx := context.Background()
			payment := &models.GatewayPayment{
				PaymentID: "pay_1",
				Amount:    decimal.NewFromInt(1000),
				Currency:  "INR",
				Status:    terminal,
				CreatedAt: time.Now().UTC(),
			}
			require.NoError(t, st.RecordPayment(ctx, payment))

			payment.Status = models.PaymentCaptured
			payment.Notes = models.PaymentNotes{"email": "asha@example.com"}
			require.NoError(t, st.RecordPayment(ctx, payment))

			got, err := st.GetPayment(ctx, "pay_1")
			require.NoError(t, err)
			assert.Equal(t, terminal, got.Status)
			assert.Equal(t, "asha@example.com", got.Notes["email"])
		})
	}
}
