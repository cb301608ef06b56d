// Package memory holds in-process implementations of the repositories, the
// idempotency cache, the degraded side log and the event publisher. They back
// STORE_DRIVER=memory and the tests, and keep the same atomicity guarantees as
// the Postgres and Redis implementations.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"checkout-service/internal/models"
)

// Store is an in-memory repository set.
type Store struct {
	mu       sync.Mutex
	products map[string]*models.ProductInventory
	history  map[string][]models.HistoryEntry
	coupons  map[string]*models.Coupon
	orders   map[string]*models.Order // by payment id
	payments map[string]*models.GatewayPayment
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		products: make(map[string]*models.ProductInventory),
		history:  make(map[string][]models.HistoryEntry),
		coupons:  make(map[string]*models.Coupon),
		orders:   make(map[string]*models.Order),
		payments: make(map[string]*models.GatewayPayment),
	}
}

// GetInventory returns a copy of the product's inventory document
func (s *Store) GetInventory(ctx context.Context, productID string) (*models.ProductInventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	return inv.Clone(), nil
}

// CreateProduct inserts a new inventory document
func (s *Store) CreateProduct(ctx context.Context, inv *models.ProductInventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[inv.ProductID]; ok {
		return models.ErrVersionConflict
	}
	inv.Version = 0
	inv.UpdatedAt = time.Now().UTC()
	s.products[inv.ProductID] = inv.Clone()
	return nil
}

// UpdateInventory swaps in the new state if the stored version is still expectedVersion
func (s *Store) UpdateInventory(ctx context.Context, inv *models.ProductInventory, expectedVersion int64, entries []models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[inv.ProductID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrProductNotFound, inv.ProductID)
	}
	if current.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	for _, n := range inv.Sizes {
		if n < 0 {
			return fmt.Errorf("negative quantity rejected for %s", inv.ProductID)
		}
	}

	next := inv.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.products[inv.ProductID] = next
	s.history[inv.ProductID] = append(s.history[inv.ProductID], entries...)

	inv.Version = next.Version
	inv.UpdatedAt = next.UpdatedAt
	return nil
}

// AppendHistory records a history entry
func (s *Store) AppendHistory(ctx context.Context, entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[entry.ProductID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrProductNotFound, entry.ProductID)
	}
	s.history[entry.ProductID] = append(s.history[entry.ProductID], entry)
	return nil
}

// ListHistory returns up to limit most recent entries, oldest first
func (s *Store) ListHistory(ctx context.Context, productID string, limit int) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.history[productID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]models.HistoryEntry(nil), all...), nil
}

// GetCoupon returns a copy of a coupon
func (s *Store) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code = models.NormalizeCouponCode(code)
	c, ok := s.coupons[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrCouponNotFound, code)
	}
	cp := *c
	return &cp, nil
}

// CreateCoupon inserts a coupon
func (s *Store) CreateCoupon(ctx context.Context, coupon *models.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupon.Code = models.NormalizeCouponCode(coupon.Code)
	if _, ok := s.coupons[coupon.Code]; ok {
		return fmt.Errorf("%w: %s", models.ErrCouponExists, coupon.Code)
	}
	coupon.UsedCount = 0
	coupon.CreatedAt = time.Now().UTC()
	cp := *coupon
	s.coupons[coupon.Code] = &cp
	return nil
}

// PutCoupon stores a coupon as given, counters included
func (s *Store) PutCoupon(coupon *models.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *coupon
	cp.Code = models.NormalizeCouponCode(cp.Code)
	s.coupons[cp.Code] = &cp
}

// IncrementCouponUsage consumes one redemption if any remain
func (s *Store) IncrementCouponUsage(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code = models.NormalizeCouponCode(code)
	c, ok := s.coupons[code]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrCouponNotFound, code)
	}
	if c.UsedCount >= c.TotalAvailable {
		return fmt.Errorf("%w: %s", models.ErrCouponExhausted, code)
	}
	c.UsedCount++
	return nil
}

// InsertIfAbsent stores the order unless its payment id is already known
func (s *Store) InsertIfAbsent(ctx context.Context, order *models.Order) (*models.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[order.PaymentID]; ok {
		return &models.InsertResult{Inserted: false, Existing: copyOrder(existing)}, nil
	}
	order.UpdatedAt = order.CreatedAt
	s.orders[order.PaymentID] = copyOrder(order)
	return &models.InsertResult{Inserted: true}, nil
}

// GetOrderByPaymentID returns the order of a payment, nil if absent
func (s *Store) GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orders[paymentID]; ok {
		return copyOrder(o), nil
	}
	return nil, nil
}

// GetOrderByID returns the earliest order with the business id
func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.findByOrderID(orderID)
	if o == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	return copyOrder(o), nil
}

// AttachProductDetails backfills item details of an incomplete order
func (s *Store) AttachProductDetails(ctx context.Context, orderID string, items models.ItemDetails) (*models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.findByOrderID(orderID)
	if o == nil {
		return nil, false, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if o.ProductDetailsComplete {
		return copyOrder(o), false, nil
	}
	o.ItemDetails = append(models.ItemDetails(nil), items...)
	o.ProductDetailsComplete = true
	o.UpdatedAt = time.Now().UTC()
	return copyOrder(o), true, nil
}

// UpdateTracking sets tracking id and item status where non-empty
func (s *Store) UpdateTracking(ctx context.Context, orderID, trackingID, itemStatus string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.findByOrderID(orderID)
	if o == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if trackingID != "" {
		o.TrackingID = &trackingID
	}
	if itemStatus != "" {
		o.ItemStatus = itemStatus
	}
	o.UpdatedAt = time.Now().UTC()
	return copyOrder(o), nil
}

// FindMissing returns the payment ids without an order
func (s *Store) FindMissing(ctx context.Context, paymentIDs []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	missing := make(map[string]struct{})
	for _, id := range paymentIDs {
		if _, ok := s.orders[id]; !ok {
			missing[id] = struct{}{}
		}
	}
	return missing, nil
}

// GetOrdersByPaymentIDs returns the orders of the given payments
func (s *Store) GetOrdersByPaymentIDs(ctx context.Context, paymentIDs []string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make([]models.Order, 0, len(paymentIDs))
	for _, id := range paymentIDs {
		if o, ok := s.orders[id]; ok {
			orders = append(orders, *copyOrder(o))
		}
	}
	return orders, nil
}

// OrderCount returns the number of stored orders
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// RecordPayment upserts a gateway payment; refunded and failed are terminal
func (s *Store) RecordPayment(ctx context.Context, payment *models.GatewayPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.payments[payment.PaymentID]
	if !ok {
		cp := *payment
		cp.Notes = mergeNotes(nil, payment.Notes)
		cp.UpdatedAt = now
		s.payments[payment.PaymentID] = &cp
		return nil
	}

	if !existing.Status.Terminal() {
		existing.Status = payment.Status
	}
	if payment.OrderID != "" {
		existing.OrderID = payment.OrderID
	}
	if payment.UserEmail != "" {
		existing.UserEmail = payment.UserEmail
	}
	existing.Notes = mergeNotes(existing.Notes, payment.Notes)
	existing.UpdatedAt = now
	return nil
}

// GetPayment returns a gateway payment
func (s *Store) GetPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, paymentID)
	}
	cp := *p
	cp.Notes = mergeNotes(nil, p.Notes)
	return &cp, nil
}

// ListPayments returns payments created in [from, to), newest first
func (s *Store) ListPayments(ctx context.Context, from, to time.Time, userEmail string) ([]models.GatewayPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.GatewayPayment
	for _, p := range s.payments {
		if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
			continue
		}
		if userEmail != "" && !strings.EqualFold(p.UserEmail, userEmail) {
			continue
		}
		cp := *p
		cp.Notes = mergeNotes(nil, p.Notes)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) findByOrderID(orderID string) *models.Order {
	var found *models.Order
	for _, o := range s.orders {
		if o.OrderID == orderID && (found == nil || o.CreatedAt.Before(found.CreatedAt)) {
			found = o
		}
	}
	return found
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.ItemDetails = append(models.ItemDetails(nil), o.ItemDetails...)
	return &cp
}

func mergeNotes(base, extra models.PaymentNotes) models.PaymentNotes {
	out := make(models.PaymentNotes, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
