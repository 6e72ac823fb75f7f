package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-ledger/internal/models"
)

// GetVariant retrieves a product variant by ID
func (t *pgTx) GetVariant(ctx context.Context, id int64) (*models.ProductVariant, error) {
	var v models.ProductVariant
	err := t.tx.GetContext(ctx, &v, `
		SELECT id, product_id, title, price, requires_otp, is_returnable, returnable_days,
			is_cancelable, cancelable_till
		FROM product_variants WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product variant %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetStore retrieves a seller store by ID
func (t *pgTx) GetStore(ctx context.Context, id int64) (*models.Store, error) {
	var s models.Store
	err := t.tx.GetContext(ctx, &s,
		"SELECT id, seller_user_id, name, admin_commission_rate FROM stores WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
