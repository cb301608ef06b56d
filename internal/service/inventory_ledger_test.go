package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyLen(t *testing.T, fx *fixture, productID string) int {
	t.Helper()
	h, err := fx.ledger.History(context.Background(), productID, 0)
	require.NoError(t, err)
	return len(h)
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 500, models.SizeQuantities{models.SizeM: 20})
	before := historyLen(t, fx, "tee")

	// A CAS round is lost only to another worker's committed decrement, and
	// at most 20 of those happen, so no worker can exhaust the retry budget.
	const workers = 30
	require.Greater(t, fx.ledger.maxCASRetries, 20)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		shortages int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.ledger.ReserveAndDecrement(context.Background(), "tee", models.SizeM, 1, "load", "test")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, models.ErrInsufficientStock):
				shortages++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, succeeded)
	assert.Equal(t, 10, shortages)
	assert.Equal(t, 0, fx.quantity(t, "tee", models.SizeM))
	assert.Equal(t, before+20, historyLen(t, fx, "tee"))

	snap, err := fx.ledger.Snapshot(context.Background(), "tee")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TotalQuantity)
	assert.True(t, snap.SoldOut)
}

func TestIncreaseThenDecreaseRoundTrip(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 500, models.SizeQuantities{models.SizeL: 4})
	before := historyLen(t, fx, "tee")
	ctx := context.Background()

	_, err := fx.ledger.Increase(ctx, "tee", models.SizeL, 5, "restock", "admin")
	require.NoError(t, err)
	res, err := fx.ledger.ReserveAndDecrement(ctx, "tee", models.SizeL, 5, "correction", "admin")
	require.NoError(t, err)

	assert.Equal(t, 9, res.PreviousQty)
	assert.Equal(t, 4, res.NewQty)
	assert.Equal(t, 4, fx.quantity(t, "tee", models.SizeL))

	history, err := fx.ledger.History(ctx, "tee", 0)
	require.NoError(t, err)
	require.Len(t, history, before+2)
	last := history[len(history)-2:]
	assert.Equal(t, models.ActionIncrease, last[0].Action)
	assert.Equal(t, 5, last[0].Delta)
	assert.Equal(t, models.ActionDecrease, last[1].Action)
	assert.Equal(t, -5, last[1].Delta)
	assert.Equal(t, "admin", last[1].Actor)
}

func TestDecrementBeyondStockLeavesInventoryUnchanged(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 500, models.SizeQuantities{models.SizeM: 2})
	before := historyLen(t, fx, "tee")

	_, err := fx.ledger.ReserveAndDecrement(context.Background(), "tee", models.SizeM, 3, "order", "checkout")
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Equal(t, 2, fx.quantity(t, "tee", models.SizeM))
	assert.Equal(t, before, historyLen(t, fx, "tee"))
}

func TestInvalidSizeAndQuantity(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 500, nil)
	ctx := context.Background()

	_, err := fx.ledger.Increase(ctx, "tee", models.Size("XXL"), 1, "restock", "admin")
	assert.ErrorIs(t, err, models.ErrInvalidSize)

	_, err = fx.ledger.Increase(ctx, "tee", models.SizeS, 0, "restock", "admin")
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = fx.ledger.Increase(ctx, "missing", models.SizeS, 1, "restock", "admin")
	assert.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestSetAbsoluteRoutesThroughSignedEntries(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 500, models.SizeQuantities{models.SizeM: 2})
	ctx := context.Background()
	before := historyLen(t, fx, "tee")

	res, err := fx.ledger.SetAbsolute(ctx, "tee", models.SizeM, 7, "stocktake", "admin")
	require.NoError(t, err)
	assert.Equal(t, models.ActionIncrease, res.Action)
	assert.Equal(t, 5, res.Delta)

	res, err = fx.ledger.SetAbsolute(ctx, "tee", models.SizeM, 7, "stocktake", "admin")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Delta)

	res, err = fx.ledger.SetAbsolute(ctx, "tee", models.SizeM, 1, "stocktake", "admin")
	require.NoError(t, err)
	assert.Equal(t, models.ActionDecrease, res.Action)
	assert.Equal(t, -6, res.Delta)

	history, err := fx.ledger.History(ctx, "tee", 0)
	require.NoError(t, err)
	assert.Len(t, history, before+2)
	assert.Contains(t, history[len(history)-1].Reason, "set to 1")
}

func TestApplyBulkKeepsSuccessfulSizes(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 500, models.SizeQuantities{models.SizeM: 2, models.SizeL: 0})

	res, err := fx.ledger.ApplyBulk(context.Background(), "tee", []SizeChange{
		{Size: "m", Quantity: -1},
		{Size: "L", Quantity: -5},
		{Size: "XXL", Quantity: 1},
		{Size: "S", Quantity: 3},
	}, "bulk", "admin")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 2, res.Failed)
	assert.True(t, res.Results[0].Applied)
	assert.False(t, res.Results[1].Applied)
	assert.Contains(t, res.Results[1].Error, "insufficient stock")
	assert.False(t, res.Results[2].Applied)
	assert.Equal(t, 1, res.Snapshot.Sizes[models.SizeM])
	assert.Equal(t, 3, res.Snapshot.Sizes[models.SizeS])
	assert.Equal(t, 4, res.Snapshot.TotalQuantity)
}

func TestSetAllAndLowStock(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 500, nil)

	res, err := fx.ledger.SetAll(context.Background(), "tee", []SizeChange{
		{Size: "S", Quantity: 10},
		{Size: "M", Quantity: 2},
		{Size: "L", Quantity: 0},
		{Size: "XL", Quantity: -1},
	}, "stocktake", "admin")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 12, res.Snapshot.TotalQuantity)
	assert.Equal(t, []models.Size{models.SizeM}, res.Snapshot.LowStockSizes)
	assert.ElementsMatch(t, models.SizeList{models.SizeL, models.SizeXL}, res.Snapshot.SoldOutSizes)
	assert.False(t, res.Snapshot.SoldOut)
}

func TestCheckAvailabilitySumsLinesPerCell(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 500, models.SizeQuantities{models.SizeM: 2, models.SizeS: 5})

	_, err := fx.ledger.CheckAvailability(context.Background(), []models.CartLine{
		line("tee", models.SizeM, 1),
		line("tee", models.SizeS, 2),
		line("tee", models.SizeM, 2),
		line("ghost", models.SizeS, 1),
	})

	var stockErr *models.StockError
	require.True(t, errors.As(err, &stockErr))
	require.Len(t, stockErr.Shortfalls, 2)
	assert.Equal(t, models.StockShortfall{ProductID: "tee", Size: models.SizeM, Requested: 3, Available: 2}, stockErr.Shortfalls[0])
	assert.Equal(t, "ghost", stockErr.Shortfalls[1].ProductID)
	assert.True(t, stockErr.Shortfalls[1].SoldOut)
}

func TestUntrackedInventoryIsUnlimited(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.ledger.RegisterProduct(context.Background(), &models.ProductInventory{
		ProductID: "poster", TrackInventory: false,
	}, "test")
	require.NoError(t, err)

	_, err = fx.ledger.CheckAvailability(context.Background(), []models.CartLine{line("poster", models.SizeS, 50)})
	require.NoError(t, err)

	res, err := fx.ledger.ReserveAndDecrement(context.Background(), "poster", models.SizeS, 5, "order", "checkout")
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewQty)
	assert.False(t, res.Snapshot.SoldOut)
}

func TestRecordDiscrepancyKeepsQuantities(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 500, models.SizeQuantities{models.SizeM: 1})

	require.NoError(t, fx.ledger.RecordDiscrepancy(context.Background(), "tee", models.SizeM, 3, "order o1: insufficient stock", "checkout"))

	history, err := fx.ledger.History(context.Background(), "tee", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActionDiscrepancy, history[0].Action)
	assert.Equal(t, -3, history[0].Delta)
	assert.Equal(t, 1, history[0].PreviousQty)
	assert.Equal(t, 1, history[0].NewQty)
	assert.Equal(t, 1, fx.quantity(t, "tee", models.SizeM))
}

func TestRegisterProductUpdatesSettings(t *testing.T) {
	fx := newFixture(t)
	fx.seedProduct(t, "tee", 500, models.SizeQuantities{models.SizeM: 4})

	snap, err := fx.ledger.RegisterProduct(context.Background(), &models.ProductInventory{
		ProductID: "tee", Name: "Tee v2", Price: dec("650"), LowStockThreshold: 5, TrackInventory: true,
	}, "admin")
	require.NoError(t, err)

	assert.Equal(t, "Tee v2", snap.Name)
	assert.True(t, dec("650").Equal(snap.Price))
	assert.Equal(t, 4, snap.Sizes[models.SizeM])
	assert.Equal(t, []models.Size{models.SizeM}, snap.LowStockSizes)
}
