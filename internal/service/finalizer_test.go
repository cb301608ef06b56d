package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizeCompletesWithServerSideCoupon(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 5})
	fx.seedSave10(t)

	p := checkout("pay_1", 1900, line("tee", models.SizeM, 2))
	p.CouponCode = "save10"
	res, err := fx.finalizer.Finalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, StateDone, res.State)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Warnings)

	order, err := fx.store.GetOrderByPaymentID(context.Background(), "pay_1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "order_pay_1", order.OrderID)
	require.NotNil(t, order.CouponCode)
	assert.Equal(t, "SAVE10", *order.CouponCode)
	assert.True(t, decimal.NewFromInt(100).Equal(order.CouponDiscount.Decimal))
	assert.Equal(t, models.OrderSourceCheckout, order.Source)

	assert.Equal(t, 3, fx.quantity(t, "tee", models.SizeM))
	assert.Equal(t, 1, fx.usedCount(t, "SAVE10"))
	assert.Equal(t, 1, countEvents[*models.OrderConfirmedEvent](fx.events.Events()))

	orderID, ok, err := fx.idem.LookupFinalized(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "order_pay_1", orderID)

	payment, err := fx.store.GetPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCaptured, payment.Status)
}

func TestFinalizeRejectsInsufficientStock(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 2})

	res, err := fx.finalizer.Finalize(context.Background(), checkout("pay_1", 3000, line("tee", models.SizeM, 3)))

	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	require.NotNil(t, res)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, StateRejected, res.State)
	require.Len(t, res.Shortfalls, 1)
	assert.Equal(t, 3, res.Shortfalls[0].Requested)
	assert.Equal(t, 2, res.Shortfalls[0].Available)

	assert.Equal(t, 2, fx.quantity(t, "tee", models.SizeM))
	assert.Equal(t, 0, fx.store.OrderCount())
	assert.Equal(t, 0, fx.orders.inserts)

	payment, err := fx.store.GetPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCaptured, payment.Status)
	assert.Contains(t, payment.Notes[rejectedNote], "insufficient stock")
}

func TestRejectedCheckoutIsTracedWithReason(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 2})

	_, err := fx.finalizer.Finalize(ctx, checkout("pay_1", 3000, line("tee", models.SizeM, 3)))
	require.ErrorIs(t, err, models.ErrInsufficientStock)
	res, err := fx.finalizer.Finalize(ctx, checkout("pay_2", 1000, line("tee", models.SizeM, 1)))
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)

	trace, err := fx.reconciler.Trace(ctx, 1, ScopeAll, "")
	require.NoError(t, err)
	require.Len(t, trace.MissingOrders, 1)
	missing := trace.MissingOrders[0]
	assert.Equal(t, "pay_1", missing.PaymentID)
	assert.NotEmpty(t, missing.RejectedReason)
	for _, p := range trace.AllOrders {
		if p.PaymentID == "pay_2" {
			assert.Empty(t, p.RejectedReason)
		}
	}
}

func TestFinalizeRejectsInvalidSize(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 2})

	res, err := fx.finalizer.Finalize(context.Background(), checkout("pay_1", 1000, line("tee", "XXXL", 1)))

	assert.ErrorIs(t, err, models.ErrInvalidSize)
	assert.Equal(t, StatusRejected, res.Status)
}

func TestFinalizeRetriesTransientFailures(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 5})
	fx.seedSave10(t)
	fx.orders.failWith(
		fmt.Errorf("%w: i/o timeout", models.ErrPersistenceTransient),
		fmt.Errorf("%w: connection reset", models.ErrPersistenceTransient),
	)

	p := checkout("pay_1", 900, line("tee", models.SizeM, 1))
	p.CouponCode = "SAVE10"
	res, err := fx.finalizer.Finalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fx.timer.Waits())

	assert.Equal(t, 1, fx.store.OrderCount())
	assert.Equal(t, 4, fx.quantity(t, "tee", models.SizeM))
	assert.Equal(t, 1, fx.usedCount(t, "SAVE10"))
	assert.Equal(t, 1, countEvents[*models.OrderConfirmedEvent](fx.events.Events()))
}

func TestFinalizeDuplicateHasNoSideEffects(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 1})
	fx.seedSave10(t)

	p := checkout("pay_1", 900, line("tee", models.SizeM, 1))
	p.CouponCode = "SAVE10"
	_, err := fx.finalizer.Finalize(context.Background(), p)
	require.NoError(t, err)

	// Stock is now 0; a webhook redelivery must still be a success.
	again := checkout("pay_1", 900, line("tee", models.SizeM, 1))
	again.CouponCode = "SAVE10"
	res, err := fx.finalizer.Finalize(context.Background(), again)
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "order_pay_1", res.OrderID)
	assert.Equal(t, 1, fx.store.OrderCount())
	assert.Equal(t, 0, fx.quantity(t, "tee", models.SizeM))
	assert.Equal(t, 1, fx.usedCount(t, "SAVE10"))
	assert.Equal(t, 1, countEvents[*models.OrderConfirmedEvent](fx.events.Events()))
}

func TestFinalizeInsertConflictIsDuplicate(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 5})

	// Another replica inserted the order between the fast path and the insert.
	fx.finalizer.idem = nil
	existing := &models.Order{OrderID: "order_pay_1", PaymentID: "pay_1", CreatedAt: time.Now()}
	_, err := fx.store.InsertIfAbsent(context.Background(), existing)
	require.NoError(t, err)
	fx.finalizer.orders = &racingOrders{flakyOrders: fx.orders}

	res, err := fx.finalizer.Finalize(context.Background(), checkout("pay_1", 1000, line("tee", models.SizeM, 1)))
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Equal(t, 5, fx.quantity(t, "tee", models.SizeM))
}

// racingOrders hides existing orders from the fast-path lookup.
type racingOrders struct {
	*flakyOrders
}

func (r *racingOrders) GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	return nil, nil
}

func TestFinalizeFatalPersistenceDegrades(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 5})
	fx.seedSave10(t)
	fx.orders.failWith(fmt.Errorf("%w: invalid input syntax", models.ErrPersistenceFatal))

	p := checkout("pay_1", 900, line("tee", models.SizeM, 1))
	p.CouponCode = "SAVE10"
	res, err := fx.finalizer.Finalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, StateDegraded, res.State)
	assert.NotEmpty(t, res.ReferenceID)
	assert.Contains(t, res.Message, "Payment received")
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, fx.timer.Waits())

	assert.Equal(t, 0, fx.store.OrderCount())
	assert.Equal(t, 5, fx.quantity(t, "tee", models.SizeM))
	assert.Equal(t, 0, fx.usedCount(t, "SAVE10"))

	pending, err := fx.degraded.PendingDegraded(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.ReferenceID, pending[0].ID)
	assert.Equal(t, "pay_1", pending[0].Payload.Payment.PaymentID)
	assert.Contains(t, pending[0].Reason, "non-retryable")
	assert.Equal(t, 1, countEvents[*models.OrderDegradedEvent](fx.events.Events()))
}

func TestFinalizeExhaustedRetriesDegrade(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 5})
	transient := fmt.Errorf("%w: too many connections", models.ErrPersistenceTransient)
	fx.orders.failWith(transient, transient, transient)

	res, err := fx.finalizer.Finalize(context.Background(), checkout("pay_1", 1000, line("tee", models.SizeM, 1)))
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, fx.orders.inserts)
	assert.Equal(t, 1, fx.degraded.Len())
}

func TestFinalizeDeadlineAfterPaymentDegrades(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 5})
	fx.orders.failWith(models.ErrPersistenceTransient)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := fx.finalizer.Finalize(ctx, checkout("pay_1", 1000, line("tee", models.SizeM, 1)))
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, res.Status)
	require.Equal(t, 1, fx.degraded.Len())
	pending, _ := fx.degraded.PendingDegraded(context.Background(), 1)
	assert.Contains(t, pending[0].Reason, "timed out")
}

func TestFinalizeInvalidCouponIsWarningNotFailure(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 5})
	fx.store.PutCoupon(&models.Coupon{
		Code: "BIGSPEND", Type: models.CouponPercentage, Value: dec("10"), MinimumOrderAmount: dec("5000"),
		TotalAvailable: 5, ExpirationDate: time.Now().Add(time.Hour), IsActive: true,
	})

	p := checkout("pay_1", 1000, line("tee", models.SizeM, 1))
	p.CouponCode = "bigspend"
	res, err := fx.finalizer.Finalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "coupon BIGSPEND not applied: CouponBelowMinimum", res.Warnings[0])
	assert.Equal(t, 0, fx.usedCount(t, "BIGSPEND"))

	order, err := fx.store.GetOrderByPaymentID(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Nil(t, order.CouponCode)
	assert.False(t, order.CouponDiscount.Valid)
}

func TestFinalizeIgnoresClientDiscount(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 5})
	fx.seedSave10(t)

	p := checkout("pay_1", 500, line("tee", models.SizeM, 1))
	p.CouponCode = "SAVE10"
	claimed := dec("500")
	p.ClientDiscount = &claimed
	res, err := fx.finalizer.Finalize(context.Background(), p)
	require.NoError(t, err)

	order, err := fx.store.GetOrderByPaymentID(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(order.CouponDiscount.Decimal))
	assert.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "client discount 500.00 ignored, applied 100.00")
	assert.Contains(t, res.Warnings[1], "underpaid")
}

func TestFinalizeCouponRaceLostKeepsOrder(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 5})
	fx.seedSave10(t)
	fx.finalizer.coupons = NewCouponValidator(&exhaustedCoupons{Store: fx.store})

	p := checkout("pay_1", 900, line("tee", models.SizeM, 1))
	p.CouponCode = "SAVE10"
	res, err := fx.finalizer.Finalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, fx.store.OrderCount())
	assert.Equal(t, 4, fx.quantity(t, "tee", models.SizeM))
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "redemption failed")
	assert.Equal(t, 1, countEvents[*models.CouponRedemptionFailedEvent](fx.events.Events()))
}

func TestReplayRecordsDiscrepancyInsteadOfRejecting(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 1000, models.SizeQuantities{models.SizeM: 1})
	fx.orders.failWith(models.ErrPersistenceFatal)

	res, err := fx.finalizer.Finalize(context.Background(), checkout("pay_1", 1000, line("tee", models.SizeM, 1)))
	require.NoError(t, err)
	require.Equal(t, StatusDegraded, res.Status)

	// The last unit sells while the order sits in the side log.
	_, err = fx.ledger.ReserveAndDecrement(context.Background(), "tee", models.SizeM, 1, "other order", "checkout")
	require.NoError(t, err)

	pending, err := fx.degraded.PendingDegraded(context.Background(), 1)
	require.NoError(t, err)
	replayed, err := fx.finalizer.Replay(context.Background(), &pending[0])
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, replayed.Status)
	assert.NotEmpty(t, replayed.Warnings)
	assert.Equal(t, 0, fx.quantity(t, "tee", models.SizeM))

	order, err := fx.store.GetOrderByPaymentID(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderSourceReplay, order.Source)

	history, err := fx.ledger.History(context.Background(), "tee", 1)
	require.NoError(t, err)
	assert.Equal(t, models.ActionDiscrepancy, history[0].Action)
	assert.Equal(t, 1, countEvents[*models.InventoryDiscrepancyEvent](fx.events.Events()))
	assert.Equal(t, 1, countEvents[*models.OrderRecoveredEvent](fx.events.Events()))
}

func TestFinalizeMissingPaymentIsRejected(t *testing.T) {
	fx := newFixture(t)
	p := checkout("", 1000, line("tee", models.SizeM, 1))

	res, err := fx.finalizer.Finalize(context.Background(), p)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	assert.Equal(t, StatusRejected, res.Status)
}
