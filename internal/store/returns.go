package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-ledger/internal/models"
)

const returnColumns = `id, order_item_id, order_id, user_id, store_id, delivery_agent_id, reason, images,
	refund_amount, return_status, pickup_status, seller_comment, approved_at, picked_up_at,
	received_at, refund_processed_at, created_at, updated_at`

// CreateReturn creates a return request
func (t *pgTx) CreateReturn(ctx context.Context, r *models.OrderItemReturn) error {
	query := `
		INSERT INTO order_item_returns (order_item_id, order_id, user_id, store_id, reason, images,
			refund_amount, return_status, pickup_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return t.tx.GetContext(ctx, r, query,
		r.OrderItemID, r.OrderID, r.UserID, r.StoreID, r.Reason, r.Images,
		r.RefundAmount, r.ReturnStatus, r.PickupStatus)
}

// GetReturn retrieves a return by ID
func (t *pgTx) GetReturn(ctx context.Context, id int64) (*models.OrderItemReturn, error) {
	return t.getReturn(ctx, "SELECT "+returnColumns+" FROM order_item_returns WHERE id = $1", id)
}

// GetReturnForUpdate locks a return row
func (t *pgTx) GetReturnForUpdate(ctx context.Context, id int64) (*models.OrderItemReturn, error) {
	return t.getReturn(ctx, "SELECT "+returnColumns+" FROM order_item_returns WHERE id = $1 FOR UPDATE", id)
}

func (t *pgTx) getReturn(ctx context.Context, query string, id int64) (*models.OrderItemReturn, error) {
	var r models.OrderItemReturn
	err := t.tx.GetContext(ctx, &r, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("return %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// HasActiveReturn reports whether the item already has a return in progress
func (t *pgTx) HasActiveReturn(ctx context.Context, orderItemID int64) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM order_item_returns
			WHERE order_item_id = $1 AND return_status NOT IN ($2, $3)
		)`, orderItemID, models.ReturnStatusCancelled, models.ReturnStatusSellerRejected)
	return exists, err
}

// UpdateReturn writes status axes, assignment and milestone timestamps
func (t *pgTx) UpdateReturn(ctx context.Context, r *models.OrderItemReturn) error {
	query := `
		UPDATE order_item_returns
		SET return_status = $1, pickup_status = $2, delivery_agent_id = $3, seller_comment = $4,
			approved_at = $5, picked_up_at = $6, received_at = $7, refund_processed_at = $8,
			updated_at = NOW()
		WHERE id = $9`

	_, err := t.tx.ExecContext(ctx, query,
		r.ReturnStatus, r.PickupStatus, r.DeliveryAgentID, r.SellerComment,
		r.ApprovedAt, r.PickedUpAt, r.ReceivedAt, r.RefundProcessedAt, r.ID)
	return err
}

// ListReturnIDsByStatus lists return ids currently in status
func (t *pgTx) ListReturnIDsByStatus(ctx context.Context, status models.ReturnStatus) ([]int64, error) {
	var ids []int64
	err := t.tx.SelectContext(ctx, &ids,
		"SELECT id FROM order_item_returns WHERE return_status = $1 ORDER BY id", status)
	return ids, err
}
