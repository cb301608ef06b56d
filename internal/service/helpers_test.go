package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store/memory"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeTimer fires immediately and remembers every requested wait.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func (t *fakeTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func (t *fakeTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}

// flakyOrders fails InsertIfAbsent with the queued errors before delegating.
type flakyOrders struct {
	*memory.Store
	mu       sync.Mutex
	failures []error
	inserts  int
}

func (f *flakyOrders) InsertIfAbsent(ctx context.Context, order *models.Order) (*models.InsertResult, error) {
	f.mu.Lock()
	f.inserts++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()
	return f.Store.InsertIfAbsent(ctx, order)
}

func (f *flakyOrders) failWith(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// exhaustedCoupons refuses every redemption as if the last use was taken concurrently.
type exhaustedCoupons struct {
	*memory.Store
}

func (c *exhaustedCoupons) IncrementCouponUsage(ctx context.Context, code string) error {
	return models.ErrCouponExhausted
}

type fixture struct {
	store      *memory.Store
	orders     *flakyOrders
	events     *memory.EventRecorder
	degraded   *memory.DegradedQueue
	idem       *memory.IdempotencyCache
	locker     *memory.Locker
	timer      *fakeTimer
	ledger     *InventoryLedger
	coupons    *CouponValidator
	finalizer  *CheckoutFinalizer
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memory.NewStore()
	fx := &fixture{
		store:    st,
		orders:   &flakyOrders{Store: st},
		events:   memory.NewEventRecorder(),
		degraded: memory.NewDegradedQueue(),
		idem:     memory.NewIdempotencyCache(),
		locker:   memory.NewLocker(),
		timer:    &fakeTimer{},
	}
	fx.ledger = NewInventoryLedger(st)
	fx.coupons = NewCouponValidator(st)
	fx.finalizer = NewCheckoutFinalizer(fx.ledger, fx.coupons, fx.orders, st, fx.events, fx.degraded, fx.idem,
		FinalizerConfig{Retry: DefaultRetryPolicy(), Timeout: 10 * time.Second, IdempotencyTTL: time.Hour})
	fx.finalizer.newTimer = func() backoff.Timer { return fx.timer }
	fx.reconciler = NewReconciler(st, fx.orders, fx.finalizer, fx.degraded, fx.locker, 90)
	fx.reconciler.now = func() time.Time { return time.Now().UTC().Add(time.Second) }
	return fx
}

func (fx *fixture) seedProduct(t *testing.T, id string, price int64, sizes models.SizeQuantities) {
	t.Helper()
	_, err := fx.ledger.RegisterProduct(context.Background(), &models.ProductInventory{
		ProductID:         id,
		Name:              "Tee " + id,
		Price:             decimal.NewFromInt(price),
		Sizes:             sizes,
		LowStockThreshold: 3,
		TrackInventory:    true,
	}, "test")
	require.NoError(t, err)
}

func (fx *fixture) seedSave10(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.coupons.Create(context.Background(), &models.Coupon{
		Code:               "save10",
		Type:               models.CouponPercentage,
		Value:              decimal.NewFromInt(10),
		MinimumOrderAmount: decimal.NewFromInt(500),
		MaximumDiscount:    decimal.NewNullDecimal(decimal.NewFromInt(100)),
		TotalAvailable:     5,
		ExpirationDate:     time.Now().Add(24 * time.Hour),
		IsActive:           true,
	}))
}

func (fx *fixture) quantity(t *testing.T, productID string, size models.Size) int {
	t.Helper()
	inv, err := fx.store.GetInventory(context.Background(), productID)
	require.NoError(t, err)
	return inv.Quantity(size)
}

func (fx *fixture) usedCount(t *testing.T, code string) int {
	t.Helper()
	c, err := fx.store.GetCoupon(context.Background(), code)
	require.NoError(t, err)
	return c.UsedCount
}

func checkout(paymentID string, amount int64, lines ...models.CartLine) *models.CheckoutPayload {
	return &models.CheckoutPayload{
		Lines: lines,
		ShippingAddress: models.ShippingAddress{
			Name: "Asha Rao", Line1: "12 MG Road", City: "Bengaluru", State: "KA", PostalCode: "560001", Country: "IN",
		},
		Payment: models.PaymentConfirmation{
			PaymentID: paymentID,
			OrderID:   "order_" + paymentID,
			Amount:    decimal.NewFromInt(amount),
			Currency:  "INR",
			UserEmail: "asha@example.com",
		},
	}
}

func line(productID string, size models.Size, qty int) models.CartLine {
	return models.CartLine{ProductID: productID, Size: size, Quantity: qty}
}

func countEvents[T any](events []interface{}) int {
	n := 0
	for _, e := range events {
		if _, ok := e.(T); ok {
			n++
		}
	}
	return n
}
