package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	reconcileActor = "reconciliation"
	replayLockKey  = "degraded-replay"
	replayLockTTL = 5 * time.Minute
)

// ErrReplayInProgress is returned when another replica holds the replay lock.
var ErrReplayInProgress = errors.New("degraded replay already running")

// TraceScope selects whose payments are traced.
type TraceScope string

const (
	ScopeUser TraceScope = "user"
	ScopeAll  TraceScope = "all"
)

// TracedPayment is one gateway payment annotated with its order state.
// RejectedReason is set when checkout refused the order after capture.
type TracedPayment struct {
	models.GatewayPayment
	InDatabase     bool   `json:"inDatabase"`
	Reconcilable   bool   `json:"reconcilable"`
	StoredStatus   string `json:"orderStatus,omitempty"`
	RejectedReason string `json:"rejectedReason,omitempty"`
}

// TraceSummary counts a trace.
type TraceSummary struct {
	Days             int        `json:"days"`
	Scope            TraceScope `json:"scope"`
	UserEmail        string     `json:"userEmail,omitempty"`
	From             time.Time  `json:"from"`
	To               time.Time  `json:"to"`
	TotalPayments    int        `json:"totalPayments"`
	CapturedPayments int        `json:"capturedPayments"`
	OrdersFound      int        `json:"ordersFound"`
	MissingOrders    int        `json:"missingOrders"`
	Excluded         int        `json:"excluded"`
}

// TraceResult is the gateway/order diff for a window.
type TraceResult struct {
	Summary       TraceSummary    `json:"summary"`
	MissingOrders []TracedPayment `json:"missingOrders"`
	AllOrders     []TracedPayment `json:"allOrders"`
}

// RecoverRequest identifies a paid order to rebuild.
type RecoverRequest struct {
	PaymentID string `json:"paymentId" binding:"required"`
	OrderID   string `json:"orderId" binding:"required"`
	UserEmail string `json:"userEmail,omitempty"`
}

// RecoverResult reports a recovery.
type RecoverResult struct {
	Order                  *models.Order `json:"order"`
	Inserted               bool          `json:"inserted"`
	ProductDetailsComplete bool          `json:"productDetailsComplete"`
	Warnings               []string      `json:"warnings,omitempty"`
	Message                string        `json:"message"`
}

// AttachResult reports a backfill of item details. Attached is false when the
// order already had complete details and nothing was changed.
type AttachResult struct {
	Order    *models.Order `json:"order"`
	Attached bool          `json:"attached"`
	Warnings []string      `json:"warnings,omitempty"`
}

// ReplaySummary reports one pass over the degraded side log.
type ReplaySummary struct {
	Attempted int      `json:"attempted"`
	Recovered int      `json:"recovered"`
	Failed    int      `json:"failed"`
	Remaining int      `json:"remaining"`
	Errors    []string `json:"errors,omitempty"`
}

// Reconciler diffs the gateway ledger against the order store and drives recovery.
type Reconciler struct {
	payments  PaymentLedger
	orders    OrderRepository
	finalizer *CheckoutFinalizer
	degraded  DegradedLog
	locker    Locker
	maxDays   int
	now       func() time.Time
	logger    *zap.Logger
}

// NewReconciler creates a new reconciler. Inventory, coupon and event effects
// go through the finalizer's collaborators.
func NewReconciler(payments PaymentLedger, orders OrderRepository, finalizer *CheckoutFinalizer, degraded DegradedLog, locker Locker, maxDays int) *Reconciler {
	if maxDays <= 0 {
		maxDays = 90
	}
	return &Reconciler{
		payments:  payments,
		orders:    orders,
		finalizer: finalizer,
		degraded:  degraded,
		locker:    locker,
		maxDays:   maxDays,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    util.GetLogger(),
	}
}

// Trace lists gateway payments of the last days, optionally for one user, and
// marks which have no order. Refunded and failed payments are never missing.
func (r *Reconciler) Trace(ctx context.Context, days int, scope TraceScope, userEmail string) (*TraceResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Trace")
	defer span.End()

	if days < 1 || days > r.maxDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", models.ErrInvalidRequest, r.maxDays)
	}
	switch scope {
	case ScopeAll:
		userEmail = ""
	case ScopeUser:
		if strings.TrimSpace(userEmail) == "" {
			return nil, fmt.Errorf("%w: userEmail is required for scope=user", models.ErrInvalidRequest)
		}
	default:
		return nil, fmt.Errorf("%w: scope must be user or all", models.ErrInvalidRequest)
	}

	to := r.now()
	from := to.Add(-time.Duration(days) * 24 * time.Hour)
	payments, err := r.payments.ListPayments(ctx, from, to, userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateway payments: %w", err)
	}

	ids := make([]string, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.PaymentID)
	}
	missing, err := r.orders.FindMissing(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to cross-reference orders: %w", err)
	}
	stored, err := r.orders.GetOrdersByPaymentIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	statusByPayment := make(map[string]string, len(stored))
	for _, o := range stored {
		statusByPayment[o.PaymentID] = o.Status
	}

	res := &TraceResult{
		Summary: TraceSummary{
			Days: days, Scope: scope, UserEmail: userEmail, From: from, To: to,
			TotalPayments: len(payments),
		},
		MissingOrders: []TracedPayment{},
		AllOrders:     make([]TracedPayment, 0, len(payments)),
	}

	for _, p := range payments {
		_, absent := missing[p.PaymentID]
		tp := TracedPayment{
			GatewayPayment: p,
			InDatabase:     !absent,
			Reconcilable:   absent && p.IsCaptured(),
			StoredStatus:   statusByPayment[p.PaymentID],
			RejectedReason: p.Notes[rejectedNote],
		}
		res.AllOrders = append(res.AllOrders, tp)

		if !p.IsCaptured() {
			res.Summary.Excluded++
			continue
		}
		res.Summary.CapturedPayments++
		if !absent {
			res.Summary.OrdersFound++
			continue
		}

		res.MissingOrders = append(res.MissingOrders, tp)
		r.reportMismatch(ctx, &p)
	}
	res.Summary.MissingOrders = len(res.MissingOrders)

	r.logger.Info("Reconciliation trace",
		zap.Int("days", days),
		zap.String("scope", string(scope)),
		zap.Int("payments", res.Summary.TotalPayments),
		zap.Int("missing", res.Summary.MissingOrders))
	return res, nil
}

func (r *Reconciler) reportMismatch(ctx context.Context, p *models.GatewayPayment) {
	util.ReconciliationMissingTotal.Inc()
	r.logger.Warn("Captured payment has no order",
		zap.String("payment_id", p.PaymentID),
		zap.String("order_id", p.OrderID),
		zap.String("user_email", p.UserEmail),
		zap.String("amount", p.Amount.String()),
		zap.Error(models.ErrReconciliationMismatch))

	event := &models.ReconciliationMismatchEvent{
		BaseEvent: newBaseEvent(models.EventTypeReconciliationMismatch, r.now()),
		PaymentID: p.PaymentID,
		OrderID:   p.OrderID,
		UserEmail: p.UserEmail,
		Amount:    p.Amount,
	}
	if err := r.finalizer.events.PublishReconciliationMismatch(ctx, event); err != nil {
		r.logger.Error("Failed to publish ReconciliationMismatch event", zap.Error(err))
	}
}

// Recover builds a best-effort order from the gateway record of a captured
// payment. When the order is newly inserted, the inventory decrements and the
// coupon redemption recoverable from the payment metadata are applied.
func (r *Reconciler) Recover(ctx context.Context, req RecoverRequest) (res *RecoverResult, err error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Recover",
		attribute.String("payment.id", req.PaymentID),
		attribute.String("order.id", req.OrderID))
	defer func() { util.EndSpan(span, err) }()

	if req.PaymentID == "" || req.OrderID == "" {
		return nil, fmt.Errorf("%w: paymentId and orderId are required", models.ErrInvalidRequest)
	}

	payment, err := r.payments.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsCaptured() {
		return nil, fmt.Errorf("%w: %s is %s", models.ErrPaymentNotCaptured, payment.PaymentID, payment.Status)
	}
	if payment.OrderID != "" && payment.OrderID != req.OrderID {
		return nil, fmt.Errorf("%w: payment %s belongs to order %s", models.ErrInvalidRequest, payment.PaymentID, payment.OrderID)
	}

	meta := parsePaymentNotes(payment.Notes)
	email := firstNonEmpty(req.UserEmail, payment.UserEmail, meta.email)

	order := &models.Order{
		OrderID:                req.OrderID,
		PaymentID:              payment.PaymentID,
		UserEmail:              email,
		Amount:                 payment.Amount,
		Currency:               currencyOf(payment.Currency),
		Status:                 models.OrderStatusRecovered,
		ItemDetails:            meta.items,
		ShippingAddress:        meta.shipping,
		ItemStatus:             models.ItemStatusProcessing,
		Source:                 models.OrderSourceRecovery,
		ProductDetailsComplete: meta.complete,
		CreatedAt:              payment.CreatedAt,
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = r.now()
	}

	res = &RecoverResult{ProductDetailsComplete: meta.complete}
	res.Warnings = append(res.Warnings, meta.warnings...)

	if meta.couponCode != "" {
		code := models.NormalizeCouponCode(meta.couponCode)
		order.CouponCode = &code
		order.CouponDiscount = meta.couponDiscount
	}

	inserted, err := r.orders.InsertIfAbsent(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to insert recovered order: %w", err)
	}
	if !inserted.Inserted {
		res.Order = inserted.Existing
		res.ProductDetailsComplete = inserted.Existing != nil && inserted.Existing.ProductDetailsComplete
		res.Message = "order already recorded"
		return res, nil
	}

	effectsCtx, cancel := effectsContext(ctx)
	defer cancel()

	fr := &FinalizeResult{}
	r.finalizer.decrementLines(effectsCtx, order, reconcileActor, fr)
	if order.CouponCode != nil {
		r.finalizer.redeemCoupon(effectsCtx, order, *order.CouponCode, fr)
	}
	r.finalizer.publishRecovered(effectsCtx, order, models.OrderSourceRecovery)
	r.finalizer.markFinalized(effectsCtx, order)
	res.Warnings = append(res.Warnings, fr.Warnings...)

	util.OrdersRecoveredTotal.WithLabelValues(models.OrderSourceRecovery).Inc()
	res.Order = order
	res.Inserted = true
	if meta.complete {
		res.Message = "order recovered"
	} else {
		res.Message = "order recovered without product details; backfill with attachProductDetails"
	}

	r.logger.Info("Order recovered",
		zap.String("order_id", order.OrderID),
		zap.String("payment_id", order.PaymentID),
		zap.Bool("product_details_complete", meta.complete))
	return res, nil
}

// AttachProductDetails backfills the items of an order that was recorded
// without them. With applyInventory the matching decrements are applied, once,
// by the call that completed the order.
func (r *Reconciler) AttachProductDetails(ctx context.Context, orderID string, items models.ItemDetails, applyInventory bool) (*AttachResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.AttachProductDetails")
	defer span.End()

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: itemDetails is empty", models.ErrInvalidRequest)
	}
	for i := range items {
		size, err := models.ParseSize(string(items[i].Size))
		if err != nil {
			return nil, err
		}
		if items[i].Quantity <= 0 {
			return nil, models.ErrInvalidQuantity
		}
		items[i].Size = size
	}

	order, attached, err := r.orders.AttachProductDetails(ctx, orderID, items)
	if err != nil {
		return nil, err
	}

	res := &AttachResult{Order: order, Attached: attached}
	if !attached {
		res.Warnings = append(res.Warnings, "order already has product details; nothing changed")
		return res, nil
	}
	if applyInventory {
		effectsCtx, cancel := effectsContext(ctx)
		defer cancel()

		fr := &FinalizeResult{}
		r.finalizer.decrementLines(effectsCtx, order, reconcileActor, fr)
		res.Warnings = fr.Warnings
	}
	r.logger.Info("Product details attached",
		zap.String("order_id", order.OrderID),
		zap.String("payment_id", order.PaymentID),
		zap.Bool("inventory_applied", applyInventory))
	return res, nil
}

// PendingDegraded lists degraded checkouts waiting for replay.
func (r *Reconciler) PendingDegraded(ctx context.Context, limit int) ([]models.DegradedRecord, error) {
	return r.degraded.PendingDegraded(ctx, limit)
}

// ReplayDegraded replays pending degraded checkouts under a distributed lock.
// Saved records are acked; failures stay queued with their replay count bumped.
func (r *Reconciler) ReplayDegraded(ctx context.Context, limit int) (*ReplaySummary, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.ReplayDegraded")
	defer span.End()

	token, ok, err := r.locker.AcquireLock(ctx, replayLockKey, replayLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire replay lock: %w", err)
	}
	if !ok {
		return nil, ErrReplayInProgress
	}
	defer func() {
		if err := r.locker.ReleaseLock(context.Background(), replayLockKey, token); err != nil {
			r.logger.Warn("Failed to release replay lock", zap.Error(err))
		}
	}()

	records, err := r.degraded.PendingDegraded(ctx, limit)
	if err != nil {
		return nil, err
	}

	summary := &ReplaySummary{}
	for i := range records {
		rec := &records[i]
		summary.Attempted++

		if _, err := r.finalizer.Replay(ctx, rec); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
			rec.ReplayCount++
			if uerr := r.degraded.UpdateDegraded(ctx, rec); uerr != nil {
				r.logger.Warn("Failed to update degraded record", zap.String("reference_id", rec.ID), zap.Error(uerr))
			}
			r.logger.Warn("Degraded replay failed",
				zap.String("reference_id", rec.ID),
				zap.String("payment_id", rec.Payload.Payment.PaymentID),
				zap.Int("replay_count", rec.ReplayCount),
				zap.Error(err))
			continue
		}

		if err := r.degraded.AckDegraded(ctx, rec); err != nil {
			r.logger.Error("Failed to ack degraded record", zap.String("reference_id", rec.ID), zap.Error(err))
		}
		summary.Recovered++
	}

	remaining, err := r.degraded.PendingDegraded(ctx, 0)
	if err == nil {
		summary.Remaining = len(remaining)
		util.DegradedPending.Set(float64(summary.Remaining))
	}
	return summary, nil
}

// noteMeta is what could be recovered from gateway payment notes.
type noteMeta struct {
	items          models.ItemDetails
	complete       bool
	shipping       models.ShippingAddress
	couponCode     string
	couponDiscount decimal.NullDecimal
	email          string
	warnings       []string
}

// parsePaymentNotes reads checkout metadata the storefront attached to the
// payment. Items come from "items" (productId:size:qty, comma separated) or
// from the parallel "product_ids", "sizes" and "quantities" lists.
func parsePaymentNotes(notes models.PaymentNotes) noteMeta {
	meta := noteMeta{
		couponCode: strings.TrimSpace(notes["coupon_code"]),
		email:      strings.TrimSpace(notes["email"]),
		shipping: models.ShippingAddress{
			Name:       notes["shipping_name"],
			Line1:      notes["shipping_line1"],
			Line2:      notes["shipping_line2"],
			City:       notes["shipping_city"],
			State:      notes["shipping_state"],
			PostalCode: notes["shipping_postal_code"],
			Country:    notes["shipping_country"],
			Phone:      notes["shipping_phone"],
		},
	}

	if raw := strings.TrimSpace(notes["coupon_discount"]); raw != "" {
		if d, err := decimal.NewFromString(raw); err == nil {
			meta.couponDiscount = decimal.NewNullDecimal(d.Round(2))
		}
	}

	var bad int
	if raw := strings.TrimSpace(notes["items"]); raw != "" {
		for _, part := range splitList(raw) {
			fields := strings.Split(part, ":")
			if len(fields) != 3 {
				bad++
				continue
			}
			if item, ok := parseItem(fields[0], fields[1], fields[2]); ok {
				meta.items = append(meta.items, item)
			} else {
				bad++
			}
		}
	} else if raw := strings.TrimSpace(notes["product_ids"]); raw != "" {
		ids := splitList(raw)
		sizes := splitList(notes["sizes"])
		qtys := splitList(notes["quantities"])
		for i, id := range ids {
			size, qty := "", "1"
			if i < len(sizes) {
				size = sizes[i]
			}
			if i < len(qtys) {
				qty = qtys[i]
			}
			if item, ok := parseItem(id, size, qty); ok {
				meta.items = append(meta.items, item)
			} else {
				bad++
			}
		}
	}

	if bad > 0 {
		meta.warnings = append(meta.warnings, fmt.Sprintf("%d item entries in payment notes could not be parsed", bad))
	}
	meta.complete = len(meta.items) > 0 && bad == 0
	if len(meta.items) == 0 {
		meta.warnings = append(meta.warnings, "no product details in payment notes")
	}
	return meta
}

func parseItem(productID, size, qty string) (models.ItemDetail, bool) {
	productID = strings.TrimSpace(productID)
	s, err := models.ParseSize(size)
	if productID == "" || err != nil {
		return models.ItemDetail{}, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(qty))
	if err != nil || n <= 0 {
		return models.ItemDetail{}, false
	}
	return models.ItemDetail{ProductID: productID, Size: s, Quantity: n}, true
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
