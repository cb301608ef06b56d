package service

import (
	"context"
	"fmt"
	"strings"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// OrderService serves order reads and post-checkout corrections.
type OrderService struct {
	orders OrderRepository
	logger *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(orders OrderRepository) *OrderService {
	return &OrderService{
		orders: orders,
		logger: util.GetLogger(),
	}
}

// TrackingUpdate carries the correctable fulfilment fields.
type TrackingUpdate struct {
	TrackingID string `json:"trackingId"`
	ItemStatus string `json:"itemStatus"`
}

// GetOrder retrieves an order by its business id
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.orders.GetOrderByID(ctx, orderID)
}

// GetOrderByPaymentID retrieves the order of a payment
func (s *OrderService) GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	order, err := s.orders.GetOrderByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: payment %s", models.ErrOrderNotFound, paymentID)
	}
	return order, nil
}

// UpdateTracking attaches a tracking id and/or moves the item status forward
func (s *OrderService) UpdateTracking(ctx context.Context, orderID string, upd TrackingUpdate) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateTracking")
	defer span.End()

	upd.TrackingID = strings.TrimSpace(upd.TrackingID)
	upd.ItemStatus = strings.ToLower(strings.TrimSpace(upd.ItemStatus))
	if upd.TrackingID == "" && upd.ItemStatus == "" {
		return nil, fmt.Errorf("%w: trackingId or itemStatus is required", models.ErrInvalidRequest)
	}
	switch upd.ItemStatus {
	case "", models.ItemStatusProcessing, models.ItemStatusShipped, models.ItemStatusDelivered:
	default:
		return nil, fmt.Errorf("%w: unknown itemStatus %q", models.ErrInvalidRequest, upd.ItemStatus)
	}

	order, err := s.orders.UpdateTracking(ctx, orderID, upd.TrackingID, upd.ItemStatus)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order tracking updated",
		zap.String("order_id", orderID),
		zap.String("tracking_id", upd.TrackingID),
		zap.String("item_status", order.ItemStatus))
	return order, nil
}
