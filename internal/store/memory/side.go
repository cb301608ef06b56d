package memory

import (
	"context"
	"sync"
	"time"

	"checkout-service/internal/models"

	"github.com/google/uuid"
)

// DegradedQueue is an in-process degraded side log
type DegradedQueue struct {
	mu      sync.Mutex
	records []models.DegradedRecord
}

// NewDegradedQueue creates an empty queue
func NewDegradedQueue() *DegradedQueue {
	return &DegradedQueue{}
}

// AppendDegraded queues a record
func (q *DegradedQueue) AppendDegraded(ctx context.Context, rec *models.DegradedRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, *rec)
	return nil
}

// PendingDegraded returns up to limit oldest records
func (q *DegradedQueue) PendingDegraded(ctx context.Context, limit int) ([]models.DegradedRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.records)
	if limit > 0 && n > limit {
		n = limit
	}
	return append([]models.DegradedRecord(nil), q.records[:n]...), nil
}

// AckDegraded removes a record by id
func (q *DegradedQueue) AckDegraded(ctx context.Context, rec *models.DegradedRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range q.records {
		if r.ID == rec.ID {
			q.records = append(q.records[:i], q.records[i+1:]...)
			return nil
		}
	}
	return nil
}

// UpdateDegraded replaces a queued record in place
func (q *DegradedQueue) UpdateDegraded(ctx context.Context, rec *models.DegradedRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range q.records {
		if r.ID == rec.ID {
			q.records[i] = *rec
			return nil
		}
	}
	return nil
}

// Len returns the number of queued records
func (q *DegradedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// IdempotencyCache remembers finalized payments
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	orderID string
	expires time.Time
}

// NewIdempotencyCache creates an empty cache
func NewIdempotencyCache() *IdempotencyCache {
	return &IdempotencyCache{entries: make(map[string]cacheEntry)}
}

// MarkFinalized records the order id of a finalized payment
func (c *IdempotencyCache) MarkFinalized(ctx context.Context, paymentID, orderID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[paymentID] = cacheEntry{orderID: orderID, expires: time.Now().Add(ttl)}
	return nil
}

// LookupFinalized returns the order id of a finalized payment
func (c *IdempotencyCache) LookupFinalized(ctx context.Context, paymentID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[paymentID]
	if !ok || time.Now().After(e.expires) {
		return "", false, nil
	}
	return e.orderID, true, nil
}

// Locker is an in-process lock table
type Locker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
}

type lockEntry struct {
	token   string
	expires time.Time
}

// NewLocker creates an empty lock table
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]lockEntry)}
}

// AcquireLock takes the lock if free or expired and returns the owner token
func (l *Locker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.locks[key]; ok && time.Now().Before(e.expires) {
		return "", false, nil
	}
	token := uuid.New().String()
	l.locks[key] = lockEntry{token: token, expires: time.Now().Add(ttl)}
	return token, true, nil
}

// ReleaseLock frees the lock if token still owns it
func (l *Locker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.locks[key]; ok && e.token == token {
		delete(l.locks, key)
	}
	return nil
}

// EventRecorder keeps published events in memory
type EventRecorder struct {
	mu     sync.Mutex
	events []interface{}
}

// NewEventRecorder creates an empty recorder
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) record(event interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far
func (r *EventRecorder) Events() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.events...)
}

// PublishOrderConfirmed records the event
func (r *EventRecorder) PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error {
	return r.record(event)
}

// PublishOrderDegraded records the event
func (r *EventRecorder) PublishOrderDegraded(ctx context.Context, event *models.OrderDegradedEvent) error {
	return r.record(event)
}

// PublishOrderRecovered records the event
func (r *EventRecorder) PublishOrderRecovered(ctx context.Context, event *models.OrderRecoveredEvent) error {
	return r.record(event)
}

// PublishInventoryDiscrepancy records the event
func (r *EventRecorder) PublishInventoryDiscrepancy(ctx context.Context, event *models.InventoryDiscrepancyEvent) error {
	return r.record(event)
}

// PublishCouponRedemptionFailed records the event
func (r *EventRecorder) PublishCouponRedemptionFailed(ctx context.Context, event *models.CouponRedemptionFailedEvent) error {
	return r.record(event)
}

// PublishReconciliationMismatch records the event
func (r *EventRecorder) PublishReconciliationMismatch(ctx context.Context, event *models.ReconciliationMismatchEvent) error {
	return r.record(event)
}
