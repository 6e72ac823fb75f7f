package promo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Application is a validated promo for one order, not yet recorded.
type Application struct {
	Promo       models.Promo
	UserID      int64
	OrderAmount decimal.Decimal
	Discount    decimal.Decimal
}

// Instant reports whether the discount reduces the order total at checkout.
func (a *Application) Instant() bool {
	return a.Promo.PromoMode != models.PromoModeCashback
}

// Tracker validates promo codes and records their usage.
type Tracker struct {
	ledger store.Ledger
	now    func() time.Time
	logger *zap.Logger
}

func NewTracker(ledger store.Ledger) *Tracker {
	return &Tracker{
		ledger: ledger,
		now:    time.Now,
		logger: util.ComponentLogger("promo"),
	}
}

// WithClock replaces the clock used for the validity window.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// ValidateAndApply locks the promo row and checks every rule against it.
// The lock is held until tx ends so a following RecordUsage cannot race.
func (t *Tracker) ValidateAndApply(ctx context.Context, tx store.Tx, code string, userID int64, orderAmount, deliveryCharge decimal.Decimal) (*Application, error) {
	p, err := tx.GetPromoByCodeForUpdate(ctx, normalize(code))
	if err != nil {
		return nil, fmt.Errorf("failed to load promo: %w", err)
	}
	return t.check(ctx, tx, p, userID, orderAmount, deliveryCharge)
}

// Preview validates a code without locking or recording anything.
func (t *Tracker) Preview(ctx context.Context, code string, userID int64, orderAmount, deliveryCharge decimal.Decimal) (*Application, error) {
	ctx, span := util.StartSpan(ctx, "PromoTracker.Preview")
	defer span.End()

	var app *Application
	err := t.ledger.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPromoByCode(ctx, normalize(code))
		if err != nil {
			return fmt.Errorf("failed to load promo: %w", err)
		}
		app, err = t.check(ctx, tx, p, userID, orderAmount, deliveryCharge)
		return err
	})
	if err != nil {
		return nil, util.RecordError(span, err)
	}
	return app, nil
}

func (t *Tracker) check(ctx context.Context, tx store.Tx, p *models.Promo, userID int64, orderAmount, deliveryCharge decimal.Decimal) (*Application, error) {
	if p == nil {
		return nil, models.ErrInvalidPromoCode
	}

	now := t.now()
	if now.Before(p.StartDate) {
		return nil, models.ErrPromoCodeNotYetActive
	}
	if now.After(p.EndDate) {
		return nil, models.ErrPromoCodeExpired
	}
	if orderAmount.LessThan(p.MinOrderTotal) {
		return nil, fmt.Errorf("%w: minimum=%s", models.ErrMinimumOrderAmountNotMet, p.MinOrderTotal.StringFixed(2))
	}
	if p.MaxTotalUsage > 0 && p.UsageCount >= p.MaxTotalUsage {
		return nil, models.ErrPromoCodeUsageLimitExceeded
	}
	if p.MaxUsagePerUser > 0 {
		used, err := tx.CountUserUsages(ctx, p.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count promo usage: %w", err)
		}
		if used >= p.MaxUsagePerUser {
			return nil, models.ErrPromoCodeUserLimitExceeded
		}
	}

	return &Application{
		Promo:       *p,
		UserID:      userID,
		OrderAmount: orderAmount,
		Discount:    Discount(p, orderAmount, deliveryCharge),
	}, nil
}

// RecordUsage writes the usage event, bumps the global counter and creates the order's promo line.
// It must run in the same tx as the ValidateAndApply that produced app.
func (t *Tracker) RecordUsage(ctx context.Context, tx store.Tx, app *Application, orderID int64) (*models.PromoLine, error) {
	p := app.Promo
	if p.MaxTotalUsage > 0 && p.UsageCount >= p.MaxTotalUsage {
		return nil, models.ErrPromoCodeUsageLimitExceeded
	}

	usage := &models.PromoUsage{PromoID: p.ID, UserID: app.UserID, OrderID: orderID}
	if err := tx.CreatePromoUsage(ctx, usage); err != nil {
		return nil, fmt.Errorf("failed to record promo usage: %w", err)
	}
	if err := tx.SetPromoUsageCount(ctx, p.ID, p.UsageCount+1); err != nil {
		return nil, fmt.Errorf("failed to increment promo usage: %w", err)
	}

	line := &models.PromoLine{
		OrderID:        orderID,
		PromoID:        p.ID,
		PromoCode:      p.Code,
		DiscountAmount: app.Discount,
		CashbackFlag:   !app.Instant(),
	}
	if app.Instant() {
		at := t.now()
		line.IsAwarded = true
		line.AwardedAt = &at
	}
	if err := tx.CreatePromoLine(ctx, line); err != nil {
		return nil, fmt.Errorf("failed to create promo line: %w", err)
	}

	util.PromoRedemptionsTotal.Inc()
	t.logger.Info("Promo recorded",
		zap.String("code", p.Code),
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", app.UserID),
		zap.String("discount", app.Discount.StringFixed(2)),
		zap.Bool("cashback", line.CashbackFlag))
	return line, nil
}

// Discount computes the promo value for an order, never exceeding the order amount.
func Discount(p *models.Promo, orderAmount, deliveryCharge decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch p.DiscountType {
	case models.DiscountPercentage:
		d = orderAmount.Mul(p.DiscountAmount).Div(hundred)
		if p.MaxDiscountValue.IsPositive() && d.GreaterThan(p.MaxDiscountValue) {
			d = p.MaxDiscountValue
		}
	case models.DiscountFixed:
		d = p.DiscountAmount
	case models.DiscountFreeShipping:
		d = deliveryCharge
	}

	if d.GreaterThan(orderAmount) {
		d = orderAmount
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	return d.Round(2)
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
