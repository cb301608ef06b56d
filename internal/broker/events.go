package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is anything that can publish a keyed event. *Producer is one.
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing checkout domain events. Degraded payloads
// go to their own topic so they can be retained and replayed independently.
type EventPublisher struct {
	checkout EventWriter
	degraded EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(checkout, degraded EventWriter) *EventPublisher {
	return &EventPublisher{checkout: checkout, degraded: degraded}
}

func orderKey(orderID string) string {
	return "order-" + orderID
}

// PublishOrderConfirmed publishes OrderConfirmed event
func (ep *EventPublisher) PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error {
	return ep.checkout.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderDegraded publishes OrderDegraded event
func (ep *EventPublisher) PublishOrderDegraded(ctx context.Context, event *models.OrderDegradedEvent) error {
	return ep.degraded.PublishEvent(ctx, "payment-"+event.Record.Payload.Payment.PaymentID, event)
}

// PublishOrderRecovered publishes OrderRecovered event
func (ep *EventPublisher) PublishOrderRecovered(ctx context.Context, event *models.OrderRecoveredEvent) error {
	return ep.checkout.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishInventoryDiscrepancy publishes InventoryDiscrepancy event
func (ep *EventPublisher) PublishInventoryDiscrepancy(ctx context.Context, event *models.InventoryDiscrepancyEvent) error {
	return ep.checkout.PublishEvent(ctx, "product-"+event.ProductID, event)
}

// PublishCouponRedemptionFailed publishes CouponRedemptionFailed event
func (ep *EventPublisher) PublishCouponRedemptionFailed(ctx context.Context, event *models.CouponRedemptionFailedEvent) error {
	return ep.checkout.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishReconciliationMismatch publishes ReconciliationMismatch event
func (ep *EventPublisher) PublishReconciliationMismatch(ctx context.Context, event *models.ReconciliationMismatchEvent) error {
	return ep.checkout.PublishEvent(ctx, "payment-"+event.PaymentID, event)
}

// LogWriter is an EventWriter that only logs. Used when Kafka is not configured.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a log-only event writer
func NewLogWriter() *LogWriter {
	return &LogWriter{logger: util.GetLogger()}
}

func (w *LogWriter) PublishEvent(ctx context.Context, key string, event interface{}) error {
	w.logger.Info("Event", zap.String("key", key), zap.Any("event", event))
	return nil
}

// EventHandler handles incoming gateway events
type EventHandler struct {
	onPayment func(context.Context, *models.PaymentEvent) error
	logger    *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPayment registers a handler for PAYMENT_* events
func (eh *EventHandler) OnPayment(handler func(context.Context, *models.PaymentEvent) error) {
	eh.onPayment = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to unmarshal base event: %w", err))
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentCaptured, models.EventTypePaymentRefunded, models.EventTypePaymentFailed:
		if eh.onPayment != nil {
			var event models.PaymentEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err))
			}
			return eh.onPayment(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
