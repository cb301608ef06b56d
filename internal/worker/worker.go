package worker

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// PaymentWorker mirrors gateway payment events and finalizes captured checkouts
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	payments     *service.PaymentService
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, payments *service.PaymentService) *PaymentWorker {
	w := &PaymentWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		payments:     payments,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnPayment(w.handlePayment)
	return w
}

func (w *PaymentWorker) handlePayment(ctx context.Context, event *models.PaymentEvent) error {
	res, err := w.payments.HandlePaymentEvent(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidRequest),
		errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrInvalidSize),
		errors.Is(err, models.ErrInvalidQuantity):
		// Redelivery cannot fix these; commit and leave it to reconciliation.
		w.logger.Warn("Payment event rejected",
			zap.String("event_id", event.EventID),
			zap.String("payment_id", event.Payment.PaymentID),
			zap.Error(err))
		return nil
	default:
		return err
	}

	if res != nil {
		w.logger.Info("Payment event finalized",
			zap.String("payment_id", res.PaymentID),
			zap.String("order_id", res.OrderID),
			zap.String("status", string(res.Status)),
			zap.Bool("duplicate", res.Duplicate))
	}
	return nil
}

// Start starts the payment worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the payment worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}

// Replayer is the part of the reconciler the replay worker drives
type Replayer interface {
	ReplayDegraded(ctx context.Context, limit int) (*service.ReplaySummary, error)
}

// DegradedReplayWorker periodically replays the degraded side log
type DegradedReplayWorker struct {
	replayer Replayer
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewDegradedReplayWorker creates a new replay worker
func NewDegradedReplayWorker(replayer Replayer, interval time.Duration, batch int) *DegradedReplayWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &DegradedReplayWorker{
		replayer: replayer,
		interval: interval,
		batch:    batch,
		logger:   util.GetLogger(),
	}
}

// Start runs a replay pass every interval until ctx is done
func (w *DegradedReplayWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting degraded replay worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping degraded replay worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single replay pass
func (w *DegradedReplayWorker) RunOnce(ctx context.Context) {
	summary, err := w.replayer.ReplayDegraded(ctx, w.batch)
	if errors.Is(err, service.ErrReplayInProgress) {
		w.logger.Debug("Degraded replay held by another replica")
		return
	}
	if err != nil {
		w.logger.Error("Degraded replay failed", zap.Error(err))
		return
	}
	if summary.Attempted > 0 {
		w.logger.Info("Degraded replay pass",
			zap.Int("attempted", summary.Attempted),
			zap.Int("recovered", summary.Recovered),
			zap.Int("failed", summary.Failed),
			zap.Int("remaining", summary.Remaining))
	}
}
