package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, name, price, sizes, total_quantity, low_stock_threshold,
	track_inventory, sold_out, sold_out_sizes, version, updated_at`

// GetInventory retrieves the inventory document of a product
func (s *Store) GetInventory(ctx context.Context, productID string) (*models.ProductInventory, error) {
	var inv models.ProductInventory
	err := s.db.GetContext(ctx, &inv, "SELECT "+productColumns+" FROM products WHERE id = $1", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	inv.Normalize()
	return &inv, nil
}

// CreateProduct inserts a new inventory document. An existing id yields ErrVersionConflict.
func (s *Store) CreateProduct(ctx context.Context, inv *models.ProductInventory) error {
	query := `
		INSERT INTO products (id, name, price, sizes, total_quantity, low_stock_threshold,
			track_inventory, sold_out, sold_out_sizes, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, NOW())
		ON CONFLICT (id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		inv.ProductID, inv.Name, inv.Price, inv.Sizes, inv.TotalQuantity, inv.LowStockThreshold,
		inv.TrackInventory, inv.SoldOut, inv.SoldOutSizes)
	if err != nil {
		return fmt.Errorf("failed to create product %s: %w", inv.ProductID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrVersionConflict
	}
	inv.Version = 0
	return nil
}

// UpdateInventory writes a new inventory state only if the stored version still equals
// expectedVersion, appending the history entries in the same transaction.
// A concurrent writer makes it fail with ErrVersionConflict.
func (s *Store) UpdateInventory(ctx context.Context, inv *models.ProductInventory, expectedVersion int64, entries []models.HistoryEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET name = $1, price = $2, sizes = $3, total_quantity = $4, low_stock_threshold = $5,
			track_inventory = $6, sold_out = $7, sold_out_sizes = $8,
			version = version + 1, updated_at = NOW()
		WHERE id = $9 AND version = $10`,
		inv.Name, inv.Price, inv.Sizes, inv.TotalQuantity, inv.LowStockThreshold,
		inv.TrackInventory, inv.SoldOut, inv.SoldOutSizes, inv.ProductID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update inventory for %s: %w", inv.ProductID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrVersionConflict
	}

	for i := range entries {
		if err := insertHistory(ctx, tx, &entries[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	inv.Version = expectedVersion + 1
	return nil
}

// AppendHistory records a history entry without touching quantities
func (s *Store) AppendHistory(ctx context.Context, entry models.HistoryEntry) error {
	return insertHistory(ctx, s.db, &entry)
}

// ListHistory returns the most recent history entries of a product, oldest first.
// A limit of 0 returns everything.
func (s *Store) ListHistory(ctx context.Context, productID string, limit int) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM (
			SELECT id, product_id, action, size, delta, previous_qty, new_qty, actor, reason, created_at
			FROM inventory_history WHERE product_id = $1
			ORDER BY created_at DESC LIMIT NULLIF($2::int, 0)
		) recent ORDER BY created_at ASC`, productID, limit)
	return entries, err
}

func insertHistory(ctx context.Context, exec sqlx.ExecerContext, entry *models.HistoryEntry) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO inventory_history (id, product_id, action, size, delta, previous_qty, new_qty, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.ProductID, entry.Action, entry.Size, entry.Delta,
		entry.PreviousQty, entry.NewQty, entry.Actor, entry.Reason, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append inventory history: %w", err)
	}
	return nil
}
