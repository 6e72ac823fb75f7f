package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/models"
)

const orderColumns = `id, user_id, status, payment_method, payment_status, currency_code, subtotal,
	delivery_charge, promo_discount, wallet_amount, total_payable, promo_code, idempotency_key,
	created_at, updated_at`

const orderItemColumns = `id, order_id, store_id, product_variant_id, title, quantity, unit_price,
	subtotal, promo_discount, status, requires_otp, otp, otp_verified, is_returnable,
	returnable_days, return_deadline, delivered_at, seller_commission_amount,
	admin_commission_amount, commission_settled, created_at, updated_at`

// CreateOrder creates a new order
func (t *pgTx) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, status, payment_method, payment_status, currency_code, subtotal,
			delivery_charge, promo_discount, wallet_amount, total_payable, promo_code, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	return t.tx.GetContext(ctx, order, query,
		order.UserID, order.Status, order.PaymentMethod, order.PaymentStatus, order.CurrencyCode,
		order.Subtotal, order.DeliveryCharge, order.PromoDiscount, order.WalletAmount,
		order.TotalPayable, order.PromoCode, order.IdempotencyKey)
}

// GetOrder retrieves an order by ID
func (t *pgTx) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return t.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// GetOrderForUpdate locks the order row for the rest of the transaction
func (t *pgTx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return t.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (t *pgTx) getOrder(ctx context.Context, query string, id int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (t *pgTx) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status
func (t *pgTx) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// UpdateOrderPaymentStatus updates the payment status
func (t *pgTx) UpdateOrderPaymentStatus(ctx context.Context, id int64, status models.PaymentStatus) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// CreateOrderItem creates a new order item
func (t *pgTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, store_id, product_variant_id, title, quantity, unit_price,
			subtotal, promo_discount, status, requires_otp, otp, is_returnable, returnable_days,
			seller_commission_amount, admin_commission_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`

	return t.tx.GetContext(ctx, item, query,
		item.OrderID, item.StoreID, item.ProductVariantID, item.Title, item.Quantity, item.UnitPrice,
		item.Subtotal, item.PromoDiscount, item.Status, item.RequiresOTP, item.OTP, item.IsReturnable,
		item.ReturnableDays, item.SellerCommissionAmount, item.AdminCommissionAmount)
}

// GetOrderItem retrieves an order item by ID
func (t *pgTx) GetOrderItem(ctx context.Context, id int64) (*models.OrderItem, error) {
	return t.getOrderItem(ctx, "SELECT "+orderItemColumns+" FROM order_items WHERE id = $1", id)
}

// GetOrderItemForUpdate locks the order item row
func (t *pgTx) GetOrderItemForUpdate(ctx context.Context, id int64) (*models.OrderItem, error) {
	return t.getOrderItem(ctx, "SELECT "+orderItemColumns+" FROM order_items WHERE id = $1 FOR UPDATE", id)
}

func (t *pgTx) getOrderItem(ctx context.Context, query string, id int64) (*models.OrderItem, error) {
	var item models.OrderItem
	err := t.tx.GetContext(ctx, &item, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order item %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListOrderItems retrieves all items for an order
func (t *pgTx) ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := t.tx.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrderItem writes the mutable fulfillment fields of an item
func (t *pgTx) UpdateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		UPDATE order_items
		SET status = $1, otp_verified = $2, return_deadline = $3, delivered_at = $4,
			commission_settled = $5, updated_at = NOW()
		WHERE id = $6`

	_, err := t.tx.ExecContext(ctx, query,
		item.Status, item.OTPVerified, item.ReturnDeadline, item.DeliveredAt,
		item.CommissionSettled, item.ID)
	return err
}

// ListSettleableItems returns delivered items past their return window with unpaid seller commission
func (t *pgTx) ListSettleableItems(ctx context.Context, now time.Time, limit int) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := t.tx.SelectContext(ctx, &items, `
		SELECT `+orderItemColumns+` FROM order_items
		WHERE status = $1 AND commission_settled = FALSE
			AND (return_deadline IS NULL OR return_deadline <= $2)
		ORDER BY id
		LIMIT $3`,
		models.ItemStatusDelivered, now, limit)
	return items, err
}
