package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"marketplace-ledger/internal/models"
)

const promoColumns = `id, code, start_date, end_date, discount_type, promo_mode, discount_amount,
	max_discount_value, min_order_total, max_total_usage, max_usage_per_user, usage_count, created_at`

// GetPromoByCode reads a promo without locking. Unknown codes yield (nil, nil).
func (t *pgTx) GetPromoByCode(ctx context.Context, code string) (*models.Promo, error) {
	return t.getPromo(ctx, "SELECT "+promoColumns+" FROM promos WHERE code = $1", code)
}

// GetPromoByCodeForUpdate locks the promo row so usage checks and increments serialize
func (t *pgTx) GetPromoByCodeForUpdate(ctx context.Context, code string) (*models.Promo, error) {
	return t.getPromo(ctx, "SELECT "+promoColumns+" FROM promos WHERE code = $1 FOR UPDATE", code)
}

func (t *pgTx) getPromo(ctx context.Context, query, code string) (*models.Promo, error) {
	var p models.Promo
	err := t.tx.GetContext(ctx, &p, query, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPromoUsageCount writes the cached global counter
func (t *pgTx) SetPromoUsageCount(ctx context.Context, promoID int64, count int) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE promos SET usage_count = $1 WHERE id = $2", count, promoID)
	return err
}

// CountUserUsages counts usage events of one user for one promo
func (t *pgTx) CountUserUsages(ctx context.Context, promoID, userID int64) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM promo_usages WHERE promo_id = $1 AND user_id = $2", promoID, userID)
	return n, err
}

// CreatePromoUsage appends a usage event
func (t *pgTx) CreatePromoUsage(ctx context.Context, usage *models.PromoUsage) error {
	return t.tx.GetContext(ctx, usage, `
		INSERT INTO promo_usages (promo_id, user_id, order_id) VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		usage.PromoID, usage.UserID, usage.OrderID)
}

// CreatePromoLine attaches the applied promo to an order
func (t *pgTx) CreatePromoLine(ctx context.Context, line *models.PromoLine) error {
	return t.tx.GetContext(ctx, line, `
		INSERT INTO order_promo_lines (order_id, promo_id, promo_code, discount_amount, cashback_flag,
			is_awarded, awarded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		line.OrderID, line.PromoID, line.PromoCode, line.DiscountAmount, line.CashbackFlag,
		line.IsAwarded, line.AwardedAt)
}

// GetPromoLineByOrderForUpdate locks the promo line of an order. Orders without one yield (nil, nil).
func (t *pgTx) GetPromoLineByOrderForUpdate(ctx context.Context, orderID int64) (*models.PromoLine, error) {
	var line models.PromoLine
	err := t.tx.GetContext(ctx, &line, `
		SELECT id, order_id, promo_id, promo_code, discount_amount, cashback_flag, is_awarded,
			awarded_at, created_at
		FROM order_promo_lines WHERE order_id = $1 FOR UPDATE`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// MarkPromoLineAwarded flips is_awarded once; the WHERE clause keeps it one-way
func (t *pgTx) MarkPromoLineAwarded(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE order_promo_lines SET is_awarded = TRUE, awarded_at = $1 WHERE id = $2 AND is_awarded = FALSE",
		at, id)
	return err
}

// ListCashbackCandidates selects paid orders with an unawarded cashback line last touched before cutoff
func (t *pgTx) ListCashbackCandidates(ctx context.Context, cutoff time.Time) ([]models.CashbackCandidate, error) {
	var rows []models.CashbackCandidate
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT o.id AS order_id, o.user_id, o.currency_code, l.id AS promo_line_id,
			l.promo_code, l.discount_amount
		FROM orders o
		JOIN order_promo_lines l ON l.order_id = o.id
		WHERE o.payment_status = $1
			AND l.cashback_flag = TRUE
			AND l.is_awarded = FALSE
			AND o.updated_at <= $2
		ORDER BY o.id`,
		models.PaymentStatusPaid, cutoff)
	return rows, err
}
