package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultCurrency    = "INR"
	postPersistTimeout = 10 * time.Second
	sideLogTimeout     = 5 * time.Second

	// rejectedNote marks a mirrored payment whose checkout was rejected after
	// capture. The payment still has no order and still needs an operator.
	rejectedNote = "checkout_rejected"
)

// FinalizeState is a step of the checkout state machine.
type FinalizeState string

const (
	StateValidating         FinalizeState = "validating"
	StateCouponApplied      FinalizeState = "coupon_applied"
	StatePersisting         FinalizeState = "persisting"
	StateInventoryAdjusting FinalizeState = "inventory_adjusting"
	StateDone               FinalizeState = "done"
	StateRejected           FinalizeState = "rejected"
	StateDegraded           FinalizeState = "degraded"
)

// FinalizeStatus is what the caller is told.
type FinalizeStatus string

const (
	StatusCompleted FinalizeStatus = "completed"
	StatusDegraded  FinalizeStatus = "degraded"
	StatusRejected  FinalizeStatus = "rejected"
)

// FinalizeResult describes the outcome of one checkout attempt.
type FinalizeResult struct {
	OrderID     string                  `json:"orderId"`
	PaymentID   string                  `json:"paymentId"`
	Status      FinalizeStatus          `json:"status"`
	State       FinalizeState           `json:"state"`
	Duplicate   bool                    `json:"duplicate"`
	ReferenceID string                  `json:"referenceId,omitempty"`
	Message     string                  `json:"message,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	Shortfalls  []models.StockShortfall `json:"shortfalls,omitempty"`
	Attempts    int                     `json:"attempts,omitempty"`
	Order       *models.Order           `json:"order,omitempty"`
}

func (r *FinalizeResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// FinalizerConfig tunes the finalizer.
type FinalizerConfig struct {
	Retry          RetryPolicy
	Timeout        time.Duration
	IdempotencyTTL time.Duration
}

// degradeError ends an attempt in the Degraded state.
type degradeError struct {
	reason   string
	attempts int
	err      error
}

func (e *degradeError) Error() string {
	if e.err == nil {
		return e.reason
	}
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func (e *degradeError) Unwrap() error { return e.err }

// CheckoutFinalizer turns a paid checkout into exactly one order.
type CheckoutFinalizer struct {
	ledger   *InventoryLedger
	coupons  *CouponValidator
	orders   OrderRepository
	payments PaymentLedger
	events   EventPublisher
	degraded DegradedLog
	idem     IdempotencyCache
	cfg      FinalizerConfig
	newTimer func() backoff.Timer
	now      func() time.Time
	logger   *zap.Logger
}

// NewCheckoutFinalizer creates a new checkout finalizer
func NewCheckoutFinalizer(
	ledger *InventoryLedger,
	coupons *CouponValidator,
	orders OrderRepository,
	payments PaymentLedger,
	events EventPublisher,
	degraded DegradedLog,
	idem IdempotencyCache,
	cfg FinalizerConfig,
) *CheckoutFinalizer {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &CheckoutFinalizer{
		ledger:   ledger,
		coupons:  coupons,
		orders:   orders,
		payments: payments,
		events:   events,
		degraded: degraded,
		idem:     idem,
		cfg:      cfg,
		newTimer: func() backoff.Timer { return nil },
		now:      func() time.Time { return time.Now().UTC() },
		logger:   util.GetLogger(),
	}
}

// Finalize records a paid checkout. Validation failures come back as a
// Rejected result together with the error. A paid checkout that cannot be
// saved comes back as a Degraded result with a nil error.
func (f *CheckoutFinalizer) Finalize(ctx context.Context, p *models.CheckoutPayload) (res *FinalizeResult, err error) {
	ctx, span := util.StartSpan(ctx, "CheckoutFinalizer.Finalize",
		attribute.String("payment.id", p.Payment.PaymentID),
		attribute.String("order.id", p.Payment.OrderID),
		attribute.Int("checkout.lines", len(p.Lines)))
	defer func() {
		if res != nil {
			span.SetAttributes(
				attribute.String("checkout.status", string(res.Status)),
				attribute.Bool("checkout.duplicate", res.Duplicate),
				attribute.Int("checkout.attempts", res.Attempts))
		}
		util.EndSpan(span, err)
	}()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	res, err = f.run(ctx, p, models.OrderSourceCheckout)
	var de *degradeError
	if errors.As(err, &de) {
		return f.degrade(p, res, de), nil
	}
	if err != nil {
		util.CheckoutsTotal.WithLabelValues("rejected").Inc()
		return res, err
	}
	if res.Duplicate {
		util.CheckoutsTotal.WithLabelValues("duplicate").Inc()
	} else {
		util.CheckoutsTotal.WithLabelValues("completed").Inc()
	}
	return res, nil
}

// Replay re-runs a degraded checkout. Availability is advisory here because
// the customer has already paid; shortfalls become discrepancies. The record
// is not re-queued on failure.
func (f *CheckoutFinalizer) Replay(ctx context.Context, rec *models.DegradedRecord) (*FinalizeResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutFinalizer.Replay")
	defer span.End()

	res, err := f.run(ctx, &rec.Payload, models.OrderSourceReplay)
	var de *degradeError
	if errors.As(err, &de) {
		return nil, fmt.Errorf("%w: %s", models.ErrDegraded, de.Error())
	}
	if err != nil {
		return nil, err
	}
	if !res.Duplicate {
		util.OrdersRecoveredTotal.WithLabelValues(models.OrderSourceReplay).Inc()
	}
	return res, nil
}

func (f *CheckoutFinalizer) run(ctx context.Context, p *models.CheckoutPayload, source string) (*FinalizeResult, error) {
	res := &FinalizeResult{
		OrderID:   p.Payment.OrderID,
		PaymentID: p.Payment.PaymentID,
		State:     StateValidating,
	}
	advisory := source != models.OrderSourceCheckout

	if err := validatePayload(p); err != nil {
		return f.reject(res, err), err
	}

	if dup := f.findExisting(ctx, p.Payment.PaymentID); dup != nil {
		return f.duplicate(res, dup), nil
	}

	f.recordPayment(ctx, p, nil)

	// Validating
	inventories, err := f.ledger.CheckAvailability(ctx, p.Lines)
	var stockErr *models.StockError
	switch {
	case errors.As(err, &stockErr) && advisory:
		for _, s := range stockErr.Shortfalls {
			res.warn("insufficient stock for %s/%s: requested %d, available %d", s.ProductID, s.Size, s.Requested, s.Available)
		}
	case errors.As(err, &stockErr):
		res.Shortfalls = stockErr.Shortfalls
		f.recordPayment(ctx, p, models.PaymentNotes{rejectedNote: err.Error()})
		return f.reject(res, err), err
	case isRejection(err):
		f.recordPayment(ctx, p, models.PaymentNotes{rejectedNote: err.Error()})
		return f.reject(res, err), err
	case err != nil:
		return res, &degradeError{reason: "inventory unavailable for validation", err: err}
	}

	subtotal := subtotalOf(p.Lines, inventories)
	if subtotal.IsZero() {
		subtotal = p.Payment.Amount
	}

	// CouponApplied
	coupon, discount := f.applyCoupon(ctx, p, subtotal, res)
	res.State = StateCouponApplied

	expected := subtotal.Sub(discount)
	if p.Payment.Amount.IsPositive() && p.Payment.Amount.LessThan(expected) {
		res.warn("underpaid: charged %s, expected %s", p.Payment.Amount.StringFixed(2), expected.StringFixed(2))
	}

	order := f.buildOrder(p, source, coupon, discount, expected)

	// Persisting
	res.State = StatePersisting
	inserted, attempts, err := f.persist(ctx, order)
	res.Attempts = attempts
	if err != nil {
		reason := "non-retryable persistence failure"
		switch {
		case ctx.Err() != nil:
			reason = "checkout timed out before the order was saved"
		case errors.Is(err, models.ErrPersistenceTransient):
			reason = "persistence retries exhausted"
		}
		return res, &degradeError{reason: reason, attempts: attempts, err: err}
	}
	if !inserted.Inserted {
		return f.duplicate(res, inserted.Existing), nil
	}

	// InventoryAdjusting. The order exists and the money is taken, so the
	// remaining effects run even if the caller's deadline has passed.
	res.State = StateInventoryAdjusting
	effectsCtx, cancel := effectsContext(ctx)
	defer cancel()

	actor := "checkout"
	if advisory {
		actor = source
	}
	f.decrementLines(effectsCtx, order, actor, res)

	if coupon != nil {
		f.redeemCoupon(effectsCtx, order, coupon.Code, res)
	}

	f.emitConfirmed(effectsCtx, order, res.Warnings)
	if advisory {
		f.publishRecovered(effectsCtx, order, source)
	}
	f.markFinalized(effectsCtx, order)

	res.State = StateDone
	res.Status = StatusCompleted
	res.Order = order
	res.Message = "order confirmed"

	f.logger.Info("Checkout finalized",
		zap.String("order_id", order.OrderID),
		zap.String("payment_id", order.PaymentID),
		zap.String("source", source),
		zap.Int("attempts", attempts),
		zap.Strings("warnings", res.Warnings))
	return res, nil
}

func validatePayload(p *models.CheckoutPayload) error {
	if p.Payment.PaymentID == "" || p.Payment.OrderID == "" {
		return fmt.Errorf("%w: payment.paymentId and payment.orderId are required", models.ErrInvalidRequest)
	}
	if len(p.Lines) == 0 {
		return fmt.Errorf("%w: cart is empty", models.ErrInvalidRequest)
	}
	if p.Payment.Amount.IsNegative() {
		return fmt.Errorf("%w: negative payment amount", models.ErrInvalidRequest)
	}
	for i := range p.Lines {
		if p.Lines[i].Quantity <= 0 {
			return fmt.Errorf("%w: %s/%s", models.ErrInvalidQuantity, p.Lines[i].ProductID, p.Lines[i].Size)
		}
		size, err := models.ParseSize(string(p.Lines[i].Size))
		if err != nil {
			return err
		}
		p.Lines[i].Size = size
	}
	return nil
}

func isRejection(err error) bool {
	return errors.Is(err, models.ErrInsufficientStock) ||
		errors.Is(err, models.ErrInvalidSize) ||
		errors.Is(err, models.ErrInvalidQuantity) ||
		errors.Is(err, models.ErrInvalidRequest)
}

func (f *CheckoutFinalizer) reject(res *FinalizeResult, err error) *FinalizeResult {
	res.State = StateRejected
	res.Status = StatusRejected
	res.Message = err.Error()
	f.logger.Warn("Checkout rejected",
		zap.String("payment_id", res.PaymentID),
		zap.String("order_id", res.OrderID),
		zap.Error(err))
	return res
}

func (f *CheckoutFinalizer) duplicate(res *FinalizeResult, existing *models.Order) *FinalizeResult {
	res.State = StateDone
	res.Status = StatusCompleted
	res.Duplicate = true
	res.Message = "order already recorded"
	if existing != nil {
		res.OrderID = existing.OrderID
		res.Order = existing
	}
	f.logger.Info("Duplicate payment confirmation",
		zap.String("payment_id", res.PaymentID),
		zap.String("order_id", res.OrderID))
	return res
}

// findExisting is the duplicate fast path. Lookup failures fall through to
// the idempotent insert, which is authoritative.
func (f *CheckoutFinalizer) findExisting(ctx context.Context, paymentID string) *models.Order {
	if f.idem != nil {
		orderID, ok, err := f.idem.LookupFinalized(ctx, paymentID)
		if err != nil {
			f.logger.Warn("Idempotency lookup failed", zap.String("payment_id", paymentID), zap.Error(err))
		} else if ok {
			existing, err := f.orders.GetOrderByPaymentID(ctx, paymentID)
			if err == nil && existing != nil {
				return existing
			}
			return &models.Order{OrderID: orderID, PaymentID: paymentID}
		}
	}

	existing, err := f.orders.GetOrderByPaymentID(ctx, paymentID)
	if err != nil {
		f.logger.Warn("Order lookup failed", zap.String("payment_id", paymentID), zap.Error(err))
		return nil
	}
	return existing
}

// recordPayment mirrors the captured payment of a checkout, with extra notes
// merged over the storefront's.
func (f *CheckoutFinalizer) recordPayment(ctx context.Context, p *models.CheckoutPayload, extra models.PaymentNotes) {
	if f.payments == nil {
		return
	}
	notes := make(models.PaymentNotes, len(p.Payment.Notes)+len(extra))
	for k, v := range p.Payment.Notes {
		notes[k] = v
	}
	for k, v := range extra {
		notes[k] = v
	}
	capturedAt := p.Payment.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = f.now()
	}
	payment := &models.GatewayPayment{
		PaymentID: p.Payment.PaymentID,
		OrderID:   p.Payment.OrderID,
		Amount:    p.Payment.Amount,
		Currency:  currencyOf(p.Payment.Currency),
		Status:    models.PaymentCaptured,
		UserEmail: p.Payment.UserEmail,
		Notes:     notes,
		CreatedAt: capturedAt,
	}
	if err := f.payments.RecordPayment(ctx, payment); err != nil {
		f.logger.Warn("Failed to mirror payment", zap.String("payment_id", payment.PaymentID), zap.Error(err))
	}
}

// applyCoupon re-validates the code against the server-side subtotal. An
// invalid coupon is dropped with a warning; the order still goes through.
func (f *CheckoutFinalizer) applyCoupon(ctx context.Context, p *models.CheckoutPayload, subtotal decimal.Decimal, res *FinalizeResult) (*models.Coupon, decimal.Decimal) {
	if p.CouponCode == "" {
		if p.ClientDiscount != nil && p.ClientDiscount.IsPositive() {
			res.warn("client discount %s ignored: no coupon code", p.ClientDiscount.StringFixed(2))
		}
		return nil, decimal.Zero
	}

	v, err := f.coupons.Validate(ctx, p.CouponCode, subtotal)
	if err != nil {
		res.warn("coupon %s not applied: could not be verified", models.NormalizeCouponCode(p.CouponCode))
		f.logger.Error("Coupon validation failed", zap.String("code", p.CouponCode), zap.Error(err))
		return nil, decimal.Zero
	}
	if !v.Valid {
		res.warn("coupon %s not applied: %s", models.NormalizeCouponCode(p.CouponCode), v.Reason)
		return nil, decimal.Zero
	}

	if p.ClientDiscount != nil && !p.ClientDiscount.Equal(v.Discount) {
		res.warn("client discount %s ignored, applied %s", p.ClientDiscount.StringFixed(2), v.Discount.StringFixed(2))
	}
	return v.Coupon, v.Discount
}

func (f *CheckoutFinalizer) buildOrder(p *models.CheckoutPayload, source string, coupon *models.Coupon, discount, expected decimal.Decimal) *models.Order {
	amount := p.Payment.Amount
	if amount.IsZero() {
		amount = expected
	}
	order := &models.Order{
		OrderID:                p.Payment.OrderID,
		PaymentID:              p.Payment.PaymentID,
		UserEmail:              p.Payment.UserEmail,
		Amount:                 amount,
		Currency:               currencyOf(p.Payment.Currency),
		Status:                 models.OrderStatusConfirmed,
		ItemDetails:            p.Items(),
		ShippingAddress:        p.ShippingAddress,
		ItemStatus:             models.ItemStatusProcessing,
		Source:                 source,
		ProductDetailsComplete: true,
		CreatedAt:              f.now(),
	}
	if coupon != nil {
		code := coupon.Code
		order.CouponCode = &code
		order.CouponDiscount = decimal.NewNullDecimal(discount)
	}
	return order
}

// persist calls InsertIfAbsent under the retry policy. Only transient
// failures consume the retry budget.
func (f *CheckoutFinalizer) persist(ctx context.Context, order *models.Order) (*models.InsertResult, int, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutFinalizer.persist")
	defer span.End()

	var result *models.InsertResult
	attempts, err := f.cfg.Retry.Retry(ctx, f.newTimer(),
		func(err error) bool { return errors.Is(err, models.ErrPersistenceTransient) },
		func(attempt int) error {
			r, err := f.orders.InsertIfAbsent(ctx, order)
			switch {
			case err == nil:
				util.PersistAttemptsTotal.WithLabelValues("ok").Inc()
				result = r
			case errors.Is(err, models.ErrPersistenceTransient):
				util.PersistAttemptsTotal.WithLabelValues("transient").Inc()
			default:
				util.PersistAttemptsTotal.WithLabelValues("fatal").Inc()
			}
			return err
		},
		func(err error, wait time.Duration) {
			f.logger.Warn("Order persist failed, retrying",
				zap.String("payment_id", order.PaymentID),
				zap.Duration("backoff", wait),
				zap.Error(err))
		},
	)
	return result, attempts, err
}

func (f *CheckoutFinalizer) decrementLines(ctx context.Context, order *models.Order, actor string, res *FinalizeResult) {
	reason := fmt.Sprintf("order %s", order.OrderID)
	for _, item := range order.ItemDetails {
		_, err := f.ledger.ReserveAndDecrement(ctx, item.ProductID, item.Size, item.Quantity, reason, actor)
		if err == nil {
			continue
		}
		res.warn("inventory discrepancy for %s/%s: %v", item.ProductID, item.Size, err)
		f.reportDiscrepancy(ctx, order.OrderID, item, actor, err)
	}
}

// reportDiscrepancy records a failed post-payment decrement in the history and
// raises an alert. The order stands.
func (f *CheckoutFinalizer) reportDiscrepancy(ctx context.Context, orderID string, item models.ItemDetail, actor string, cause error) {
	reason := fmt.Sprintf("order %s: %v", orderID, cause)
	if err := f.ledger.RecordDiscrepancy(ctx, item.ProductID, item.Size, item.Quantity, reason, actor); err != nil {
		util.InventoryDiscrepanciesTotal.Inc()
		f.logger.Error("Failed to record inventory discrepancy",
			zap.String("order_id", orderID),
			zap.String("product_id", item.ProductID),
			zap.Error(err))
	}

	event := &models.InventoryDiscrepancyEvent{
		BaseEvent: newBaseEvent(models.EventTypeInventoryDiscrepancy, f.now()),
		OrderID:   orderID,
		ProductID: item.ProductID,
		Size:      item.Size,
		Quantity:  item.Quantity,
		Reason:    cause.Error(),
	}
	if err := f.events.PublishInventoryDiscrepancy(ctx, event); err != nil {
		f.logger.Error("Failed to publish InventoryDiscrepancy event", zap.Error(err))
	}
}

func (f *CheckoutFinalizer) redeemCoupon(ctx context.Context, order *models.Order, code string, res *FinalizeResult) {
	err := f.coupons.Redeem(ctx, code)
	if err == nil {
		return
	}

	res.warn("coupon %s redemption failed: %v", code, err)
	f.logger.Error("Coupon redemption failed after persist",
		zap.String("order_id", order.OrderID),
		zap.String("code", code),
		zap.Error(err))

	event := &models.CouponRedemptionFailedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeCouponRedemptionFailed, f.now()),
		OrderID:    order.OrderID,
		CouponCode: code,
		Reason:     err.Error(),
	}
	if err := f.events.PublishCouponRedemptionFailed(ctx, event); err != nil {
		f.logger.Error("Failed to publish CouponRedemptionFailed event", zap.Error(err))
	}
}

func (f *CheckoutFinalizer) emitConfirmed(ctx context.Context, order *models.Order, warnings []string) {
	event := &models.OrderConfirmedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderConfirmed, f.now()),
		OrderID:   order.OrderID,
		PaymentID: order.PaymentID,
		UserEmail: order.UserEmail,
		Amount:    order.Amount,
		Currency:  order.Currency,
		Items:     order.ItemDetails,
		Warnings:  warnings,
	}
	if order.CouponCode != nil {
		event.CouponCode = *order.CouponCode
		event.CouponDiscount = order.CouponDiscount
	}
	if err := f.events.PublishOrderConfirmed(ctx, event); err != nil {
		f.logger.Error("Failed to publish OrderConfirmed event", zap.Error(err))
	}
}

func (f *CheckoutFinalizer) publishRecovered(ctx context.Context, order *models.Order, source string) {
	event := &models.OrderRecoveredEvent{
		BaseEvent:              newBaseEvent(models.EventTypeOrderRecovered, f.now()),
		OrderID:                order.OrderID,
		PaymentID:              order.PaymentID,
		Source:                 source,
		ProductDetailsComplete: order.ProductDetailsComplete,
	}
	if err := f.events.PublishOrderRecovered(ctx, event); err != nil {
		f.logger.Error("Failed to publish OrderRecovered event", zap.Error(err))
	}
}

func (f *CheckoutFinalizer) markFinalized(ctx context.Context, order *models.Order) {
	if f.idem == nil {
		return
	}
	if err := f.idem.MarkFinalized(ctx, order.PaymentID, order.OrderID, f.cfg.IdempotencyTTL); err != nil {
		f.logger.Warn("Failed to set idempotency marker", zap.String("payment_id", order.PaymentID), zap.Error(err))
	}
}

// degrade durably records the raw payload outside the order store. The
// caller's context may already be done, so the side log gets its own.
func (f *CheckoutFinalizer) degrade(p *models.CheckoutPayload, res *FinalizeResult, de *degradeError) *FinalizeResult {
	util.CheckoutsTotal.WithLabelValues("degraded").Inc()

	rec := &models.DegradedRecord{
		ID:         uuid.New().String(),
		Payload:    *p,
		Reason:     de.Error(),
		Attempts:   de.attempts,
		RecordedAt: f.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), sideLogTimeout)
	defer cancel()

	if err := f.degraded.AppendDegraded(ctx, rec); err != nil {
		f.logger.Error("Failed to append degraded record, payload follows",
			zap.String("reference_id", rec.ID),
			zap.Any("record", rec),
			zap.Error(err))
	}

	event := &models.OrderDegradedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderDegraded, f.now()),
		Record:    *rec,
	}
	if err := f.events.PublishOrderDegraded(ctx, event); err != nil {
		f.logger.Error("Failed to publish OrderDegraded event", zap.String("reference_id", rec.ID), zap.Error(err))
	}

	f.logger.Error("Payment captured but order not saved",
		zap.String("payment_id", p.Payment.PaymentID),
		zap.String("order_id", p.Payment.OrderID),
		zap.String("reference_id", rec.ID),
		zap.Int("attempts", de.attempts),
		zap.Error(de))

	res.State = StateDegraded
	res.Status = StatusDegraded
	res.ReferenceID = rec.ID
	res.Attempts = de.attempts
	res.Message = fmt.Sprintf("Payment received. Your order is being processed; keep reference %s for support.", rec.ID)
	return res
}

// effectsContext keeps the caller's values but not its cancellation, so
// effects of a stored order are not cut short by an abandoned request.
func effectsContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), postPersistTimeout)
}

func subtotalOf(lines []models.CartLine, inventories map[string]*models.ProductInventory) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		inv, ok := inventories[l.ProductID]
		if !ok {
			continue
		}
		total = total.Add(inv.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

func currencyOf(c string) string {
	if c == "" {
		return defaultCurrency
	}
	return c
}

func newBaseEvent(eventType string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: now,
	}
}
