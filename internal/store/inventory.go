package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-ledger/internal/models"
)

// GetStockForUpdate locks the (store, variant) stock row, creating it at zero first so
// concurrent first credits serialize on the same row.
func (t *pgTx) GetStockForUpdate(ctx context.Context, storeID, variantID int64) (*models.StoreInventory, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO store_inventories (store_id, product_variant_id, stock) VALUES ($1, $2, 0)
		ON CONFLICT (store_id, product_variant_id) DO NOTHING`, storeID, variantID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stock row: %w", err)
	}

	return t.getStock(ctx, `
		SELECT store_id, product_variant_id, stock, updated_at FROM store_inventories
		WHERE store_id = $1 AND product_variant_id = $2 FOR UPDATE`, storeID, variantID)
}

// GetStock reads the stock row without locking it
func (t *pgTx) GetStock(ctx context.Context, storeID, variantID int64) (*models.StoreInventory, error) {
	return t.getStock(ctx, `
		SELECT store_id, product_variant_id, stock, updated_at FROM store_inventories
		WHERE store_id = $1 AND product_variant_id = $2`, storeID, variantID)
}

func (t *pgTx) getStock(ctx context.Context, query string, storeID, variantID int64) (*models.StoreInventory, error) {
	var inv models.StoreInventory
	err := t.tx.GetContext(ctx, &inv, query, storeID, variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// SaveStock writes the stock counter, creating the row on first credit
func (t *pgTx) SaveStock(ctx context.Context, inv *models.StoreInventory) error {
	return t.tx.GetContext(ctx, &inv.UpdatedAt, `
		INSERT INTO store_inventories (store_id, product_variant_id, stock)
		VALUES ($1, $2, $3)
		ON CONFLICT (store_id, product_variant_id)
		DO UPDATE SET stock = EXCLUDED.stock, updated_at = NOW()
		RETURNING updated_at`,
		inv.StoreID, inv.ProductVariantID, inv.Stock)
}

// AppendStockLog appends an audit row for a stock mutation
func (t *pgTx) AppendStockLog(ctx context.Context, entry *models.StoreInventoryLog) error {
	query := `
		INSERT INTO store_inventory_logs (store_id, product_variant_id, delta, stock_after, reason, order_item_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return t.tx.GetContext(ctx, entry, query,
		entry.StoreID, entry.ProductVariantID, entry.Delta, entry.StockAfter, entry.Reason, entry.OrderItemID)
}

// ListStockLogs returns the audit trail of one (store, variant) key, oldest first
func (t *pgTx) ListStockLogs(ctx context.Context, storeID, variantID int64) ([]models.StoreInventoryLog, error) {
	var logs []models.StoreInventoryLog
	err := t.tx.SelectContext(ctx, &logs, `
		SELECT id, store_id, product_variant_id, delta, stock_after, reason, order_item_id, created_at
		FROM store_inventory_logs
		WHERE store_id = $1 AND product_variant_id = $2
		ORDER BY id`, storeID, variantID)
	return logs, err
}
