package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/models"

	"github.com/lib/pq"
)

const orderColumns = `order_id, payment_id, user_email, amount, currency, status, item_details,
	shipping_address, coupon_code, coupon_discount, tracking_id, item_status, source,
	product_details_complete, created_at, updated_at`

// InsertIfAbsent inserts the order unless one already exists for its payment id.
// The unique payment_id makes the check-and-insert atomic across concurrent callers.
func (s *Store) InsertIfAbsent(ctx context.Context, order *models.Order) (*models.InsertResult, error) {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		ON CONFLICT (payment_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		order.OrderID, order.PaymentID, order.UserEmail, order.Amount, order.Currency, order.Status,
		order.ItemDetails, order.ShippingAddress, order.CouponCode, order.CouponDiscount,
		order.TrackingID, order.ItemStatus, order.Source, order.ProductDetailsComplete, order.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, classify(err)
	}
	if n == 1 {
		order.UpdatedAt = order.CreatedAt
		return &models.InsertResult{Inserted: true}, nil
	}

	existing, err := s.GetOrderByPaymentID(ctx, order.PaymentID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: conflicting order for payment %s vanished", models.ErrPersistenceTransient, order.PaymentID)
	}
	return &models.InsertResult{Inserted: false, Existing: existing}, nil
}

// GetOrderByPaymentID retrieves an order by its payment id, nil if absent
func (s *Store) GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE payment_id = $1", paymentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &order, nil
}

// GetOrderByID retrieves an order by its business id
func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE order_id = $1 ORDER BY created_at LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &order, nil
}

// earliestByOrderID selects the single row an order id addresses
const earliestByOrderID = `(SELECT payment_id FROM orders WHERE order_id = $%d ORDER BY created_at LIMIT 1)`

// AttachProductDetails backfills the item details of an order that has none.
// The guard on product_details_complete makes the backfill happen once; the
// returned flag reports whether this call made it.
func (s *Store) AttachProductDetails(ctx context.Context, orderID string, items models.ItemDetails) (*models.Order, bool, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders SET item_details = $1, product_details_complete = TRUE, updated_at = NOW()
		WHERE payment_id = `+fmt.Sprintf(earliestByOrderID, 2)+`
			AND product_details_complete = FALSE
		RETURNING `+orderColumns, items, orderID)
	if err == sql.ErrNoRows {
		existing, err := s.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	return &order, true, nil
}

// UpdateTracking attaches a tracking id and item status to an order
func (s *Store) UpdateTracking(ctx context.Context, orderID, trackingID, itemStatus string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders
		SET tracking_id = COALESCE(NULLIF($1, ''), tracking_id),
			item_status = COALESCE(NULLIF($2, ''), item_status),
			updated_at = NOW()
		WHERE payment_id = `+fmt.Sprintf(earliestByOrderID, 3)+`
		RETURNING `+orderColumns, trackingID, itemStatus, orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &order, nil
}

// FindMissing returns the payment ids that have no matching order
func (s *Store) FindMissing(ctx context.Context, paymentIDs []string) (map[string]struct{}, error) {
	missing := make(map[string]struct{}, len(paymentIDs))
	for _, id := range paymentIDs {
		missing[id] = struct{}{}
	}
	if len(paymentIDs) == 0 {
		return missing, nil
	}

	var found []string
	err := s.db.SelectContext(ctx, &found,
		"SELECT payment_id FROM orders WHERE payment_id = ANY($1)", pq.Array(paymentIDs))
	if err != nil {
		return nil, classify(err)
	}
	for _, id := range found {
		delete(missing, id)
	}
	return missing, nil
}

// GetOrdersByPaymentIDs retrieves the orders of the given payments
func (s *Store) GetOrdersByPaymentIDs(ctx context.Context, paymentIDs []string) ([]models.Order, error) {
	if len(paymentIDs) == 0 {
		return []models.Order{}, nil
	}
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE payment_id = ANY($1)", pq.Array(paymentIDs))
	if err != nil {
		return nil, classify(err)
	}
	return orders, nil
}
