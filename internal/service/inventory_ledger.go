package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxCASRetries = 64

// AdjustResult is the outcome of one size mutation.
type AdjustResult struct {
	ProductID   string                   `json:"productId"`
	Size        models.Size              `json:"size"`
	Action      models.InventoryAction   `json:"action,omitempty"`
	Delta       int                      `json:"delta"`
	PreviousQty int                      `json:"previousQty"`
	NewQty      int                      `json:"newQty"`
	Snapshot    models.InventorySnapshot `json:"inventory"`
}

// SizeChange is one entry of a bulk adjustment. Quantity is a signed delta for
// ApplyBulk and an absolute level for SetAll.
type SizeChange struct {
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

// SizeOutcome reports one size of a bulk adjustment.
type SizeOutcome struct {
	Size        string `json:"size"`
	Applied     bool   `json:"applied"`
	Delta       int    `json:"delta"`
	PreviousQty int    `json:"previousQty"`
	NewQty      int    `json:"newQty"`
	Error       string `json:"error,omitempty"`
}

// BulkResult aggregates a multi-size adjustment. Successful sizes are kept even
// when others fail.
type BulkResult struct {
	ProductID string                   `json:"productId"`
	Results   []SizeOutcome            `json:"results"`
	Applied   int                      `json:"applied"`
	Failed    int                      `json:"failed"`
	Snapshot  models.InventorySnapshot `json:"inventory"`
}

// InventoryLedger owns per-size stock. Every write is a read-decide-write cycle
// committed with a version compare-and-swap and retried on conflict.
type InventoryLedger struct {
	repo          InventoryRepository
	logger        *zap.Logger
	maxCASRetries int
	now           func() time.Time
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(repo InventoryRepository) *InventoryLedger {
	return &InventoryLedger{
		repo:          repo,
		logger:        util.GetLogger(),
		maxCASRetries: defaultMaxCASRetries,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RegisterProduct creates a product or updates its settings. Initial stock is
// routed through SetAll so it appears in the history.
func (l *InventoryLedger) RegisterProduct(ctx context.Context, inv *models.ProductInventory, actor string) (*models.InventorySnapshot, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.RegisterProduct")
	defer span.End()

	if inv.ProductID == "" {
		return nil, fmt.Errorf("%w: productId is required", models.ErrInvalidRequest)
	}
	if inv.Price.IsNegative() || inv.LowStockThreshold < 0 {
		return nil, fmt.Errorf("%w: price and lowStockThreshold must not be negative", models.ErrInvalidRequest)
	}

	initial := make([]SizeChange, 0, len(inv.Sizes))
	for _, size := range models.AllSizes {
		if n, ok := inv.Sizes[size]; ok {
			initial = append(initial, SizeChange{Size: string(size), Quantity: n})
		}
	}

	fresh := &models.ProductInventory{
		ProductID:         inv.ProductID,
		Name:              inv.Name,
		Price:             inv.Price,
		LowStockThreshold: inv.LowStockThreshold,
		TrackInventory:    inv.TrackInventory,
	}
	fresh.Normalize()

	err := l.repo.CreateProduct(ctx, fresh)
	switch {
	case err == nil:
		l.logger.Info("Product registered", zap.String("product_id", inv.ProductID))
	case errors.Is(err, models.ErrVersionConflict):
		_, err = l.mutate(ctx, inv.ProductID, true, func(cur *models.ProductInventory) ([]models.HistoryEntry, error) {
			cur.Name = inv.Name
			cur.Price = inv.Price
			cur.LowStockThreshold = inv.LowStockThreshold
			cur.TrackInventory = inv.TrackInventory
			cur.RecomputeFlags()
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	if len(initial) > 0 {
		res, err := l.SetAll(ctx, inv.ProductID, initial, "initial stock", actor)
		if err != nil {
			return nil, err
		}
		return &res.Snapshot, nil
	}
	return l.Snapshot(ctx, inv.ProductID)
}

// ReserveAndDecrement takes quantity units of one size. It fails with
// ErrInsufficientStock when the product tracks inventory and the size holds
// fewer units.
func (l *InventoryLedger) ReserveAndDecrement(ctx context.Context, productID string, size models.Size, quantity int, reason, actor string) (*AdjustResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ReserveAndDecrement")
	defer span.End()

	if quantity <= 0 {
		return nil, models.ErrInvalidQuantity
	}
	return l.adjust(ctx, productID, size, -quantity, reason, actor)
}

// Increase adds quantity units to one size.
func (l *InventoryLedger) Increase(ctx context.Context, productID string, size models.Size, quantity int, reason, actor string) (*AdjustResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Increase")
	defer span.End()

	if quantity <= 0 {
		return nil, models.ErrInvalidQuantity
	}
	return l.adjust(ctx, productID, size, quantity, reason, actor)
}

// SetAbsolute moves one size to newQuantity as an increase or decrease entry.
// Setting the current level is a no-op without history.
func (l *InventoryLedger) SetAbsolute(ctx context.Context, productID string, size models.Size, newQuantity int, reason, actor string) (*AdjustResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.SetAbsolute")
	defer span.End()

	if newQuantity < 0 {
		return nil, models.ErrInvalidQuantity
	}
	size, err := models.ParseSize(string(size))
	if err != nil {
		return nil, err
	}

	res := &AdjustResult{ProductID: productID, Size: size}
	inv, err := l.mutate(ctx, productID, false, func(cur *models.ProductInventory) ([]models.HistoryEntry, error) {
		delta := newQuantity - cur.Quantity(size)
		if delta == 0 {
			res.PreviousQty, res.NewQty, res.Delta, res.Action = newQuantity, newQuantity, 0, ""
			return nil, nil
		}
		entry, err := l.applyEntry(cur, size, delta, fmt.Sprintf("%s (set to %d)", reason, newQuantity), actor)
		if err != nil {
			return nil, err
		}
		res.PreviousQty, res.NewQty, res.Delta, res.Action = entry.PreviousQty, entry.NewQty, entry.Delta, entry.Action
		return []models.HistoryEntry{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	res.Snapshot = inv.Snapshot()
	return res, nil
}

// ApplyBulk applies signed per-size deltas independently.
func (l *InventoryLedger) ApplyBulk(ctx context.Context, productID string, changes []SizeChange, reason, actor string) (*BulkResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ApplyBulk")
	defer span.End()

	return l.bulk(ctx, productID, changes, func(size models.Size, q int) (*AdjustResult, error) {
		if q == 0 {
			return nil, models.ErrInvalidQuantity
		}
		return l.adjust(ctx, productID, size, q, reason, actor)
	})
}

// SetAll sets several sizes to absolute levels independently.
func (l *InventoryLedger) SetAll(ctx context.Context, productID string, changes []SizeChange, reason, actor string) (*BulkResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.SetAll")
	defer span.End()

	return l.bulk(ctx, productID, changes, func(size models.Size, q int) (*AdjustResult, error) {
		return l.SetAbsolute(ctx, productID, size, q, reason, actor)
	})
}

func (l *InventoryLedger) bulk(ctx context.Context, productID string, changes []SizeChange, apply func(models.Size, int) (*AdjustResult, error)) (*BulkResult, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no sizes given", models.ErrInvalidRequest)
	}
	if _, err := l.repo.GetInventory(ctx, productID); err != nil {
		return nil, err
	}

	out := &BulkResult{ProductID: productID, Results: make([]SizeOutcome, 0, len(changes))}
	for _, c := range changes {
		outcome := SizeOutcome{Size: c.Size}
		size, err := models.ParseSize(c.Size)
		if err == nil {
			var res *AdjustResult
			res, err = apply(size, c.Quantity)
			if err == nil {
				outcome.Size = string(size)
				outcome.Applied = true
				outcome.Delta = res.Delta
				outcome.PreviousQty = res.PreviousQty
				outcome.NewQty = res.NewQty
			}
		}
		if err != nil {
			outcome.Error = err.Error()
			out.Failed++
			l.logger.Warn("Bulk inventory change failed",
				zap.String("product_id", productID),
				zap.String("size", c.Size),
				zap.Error(err))
		} else {
			out.Applied++
		}
		out.Results = append(out.Results, outcome)
	}

	snap, err := l.Snapshot(ctx, productID)
	if err != nil {
		return nil, err
	}
	out.Snapshot = *snap
	return out, nil
}

// RecordDiscrepancy appends a history entry for a decrement that could not be
// applied. Stock is left untouched.
func (l *InventoryLedger) RecordDiscrepancy(ctx context.Context, productID string, size models.Size, quantity int, reason, actor string) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.RecordDiscrepancy")
	defer span.End()

	inv, err := l.repo.GetInventory(ctx, productID)
	if err != nil {
		return err
	}
	current := inv.Quantity(size)

	entry := models.HistoryEntry{
		ID:          uuid.New().String(),
		ProductID:   productID,
		Action:      models.ActionDiscrepancy,
		Size:        size,
		Delta:       -quantity,
		PreviousQty: current,
		NewQty:      current,
		Actor:       actor,
		Reason:      reason,
		Timestamp:   l.now(),
	}
	if err := l.repo.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("failed to record discrepancy: %w", err)
	}

	util.InventoryDiscrepanciesTotal.Inc()
	l.logger.Error("Inventory discrepancy recorded",
		zap.String("product_id", productID),
		zap.String("size", string(size)),
		zap.Int("quantity", quantity),
		zap.String("reason", reason))
	return nil
}

// Snapshot returns the current inventory read model.
func (l *InventoryLedger) Snapshot(ctx context.Context, productID string) (*models.InventorySnapshot, error) {
	inv, err := l.repo.GetInventory(ctx, productID)
	if err != nil {
		return nil, err
	}
	snap := inv.Snapshot()
	return &snap, nil
}

// History returns the most recent history entries of a product.
func (l *InventoryLedger) History(ctx context.Context, productID string, limit int) ([]models.HistoryEntry, error) {
	if _, err := l.repo.GetInventory(ctx, productID); err != nil {
		return nil, err
	}
	return l.repo.ListHistory(ctx, productID, limit)
}

// CheckAvailability confirms every cart line can be served. Lines for the same
// cell are summed. Shortfalls are itemized in a *models.StockError. The loaded
// inventories are returned for pricing.
func (l *InventoryLedger) CheckAvailability(ctx context.Context, lines []models.CartLine) (map[string]*models.ProductInventory, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.CheckAvailability")
	defer span.End()

	type cell struct {
		productID string
		size      models.Size
	}
	requested := make(map[cell]int)
	order := make([]cell, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s/%s", models.ErrInvalidQuantity, line.ProductID, line.Size)
		}
		size, err := models.ParseSize(string(line.Size))
		if err != nil {
			return nil, err
		}
		c := cell{productID: line.ProductID, size: size}
		if _, seen := requested[c]; !seen {
			order = append(order, c)
		}
		requested[c] += line.Quantity
	}

	inventories := make(map[string]*models.ProductInventory)
	var shortfalls []models.StockShortfall
	for _, c := range order {
		inv, ok := inventories[c.productID]
		if !ok {
			var err error
			inv, err = l.repo.GetInventory(ctx, c.productID)
			if errors.Is(err, models.ErrProductNotFound) {
				shortfalls = append(shortfalls, models.StockShortfall{
					ProductID: c.productID, Size: c.size, Requested: requested[c], SoldOut: true,
				})
				continue
			}
			if err != nil {
				return nil, err
			}
			inventories[c.productID] = inv
		}
		if !inv.Available(c.size, requested[c]) {
			shortfalls = append(shortfalls, models.StockShortfall{
				ProductID: c.productID,
				Size:      c.size,
				Requested: requested[c],
				Available: inv.Quantity(c.size),
				SoldOut:   inv.SoldOut || inv.SoldOutSizes.Contains(c.size),
			})
		}
	}

	if len(shortfalls) > 0 {
		return inventories, &models.StockError{Shortfalls: shortfalls}
	}
	return inventories, nil
}

func (l *InventoryLedger) adjust(ctx context.Context, productID string, size models.Size, delta int, reason, actor string) (*AdjustResult, error) {
	size, err := models.ParseSize(string(size))
	if err != nil {
		return nil, err
	}

	res := &AdjustResult{ProductID: productID, Size: size}
	inv, err := l.mutate(ctx, productID, false, func(cur *models.ProductInventory) ([]models.HistoryEntry, error) {
		entry, err := l.applyEntry(cur, size, delta, reason, actor)
		if err != nil {
			return nil, err
		}
		res.PreviousQty, res.NewQty, res.Delta, res.Action = entry.PreviousQty, entry.NewQty, entry.Delta, entry.Action
		return []models.HistoryEntry{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	res.Snapshot = inv.Snapshot()
	return res, nil
}

// applyEntry mutates cur and describes the change as a history entry.
func (l *InventoryLedger) applyEntry(cur *models.ProductInventory, size models.Size, delta int, reason, actor string) (models.HistoryEntry, error) {
	prev, next, err := cur.ApplyDelta(size, delta)
	if err != nil {
		return models.HistoryEntry{}, err
	}
	action := models.ActionIncrease
	if delta < 0 {
		action = models.ActionDecrease
	}
	return models.HistoryEntry{
		ID:          uuid.New().String(),
		ProductID:   cur.ProductID,
		Action:      action,
		Size:        size,
		Delta:       next - prev,
		PreviousQty: prev,
		NewQty:      next,
		Actor:       actor,
		Reason:      reason,
		Timestamp:   l.now(),
	}, nil
}

// mutate runs the compare-and-swap loop. decide edits a private copy of the
// current document and returns the history to append; with no history and
// writeEmpty unset nothing is written.
func (l *InventoryLedger) mutate(
	ctx context.Context,
	productID string,
	writeEmpty bool,
	decide func(cur *models.ProductInventory) ([]models.HistoryEntry, error),
) (*models.ProductInventory, error) {
	for i := 0; i < l.maxCASRetries; i++ {
		current, err := l.repo.GetInventory(ctx, productID)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		entries, err := decide(next)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 && !writeEmpty {
			return current, nil
		}

		err = l.repo.UpdateInventory(ctx, next, current.Version, entries)
		if err == nil {
			for _, e := range entries {
				util.InventoryAdjustmentsTotal.WithLabelValues(string(e.Action)).Inc()
			}
			return next, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return nil, err
		}

		util.InventoryConflictsTotal.Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	l.logger.Warn("Inventory update contended", zap.String("product_id", productID))
	return nil, fmt.Errorf("%w: %s", models.ErrContention, productID)
}
