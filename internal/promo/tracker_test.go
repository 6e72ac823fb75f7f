package promo

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func basePromo() models.Promo {
	return models.Promo{
		Code:           "SAVE10",
		StartDate:      now.Add(-24 * time.Hour),
		EndDate:        now.Add(24 * time.Hour),
		DiscountType:   models.DiscountPercentage,
		PromoMode:      models.PromoModeInstant,
		DiscountAmount: dec("10"),
		MinOrderTotal:  dec("20"),
	}
}

// redeem validates and records code for a fresh order owned by user.
func redeem(t *testing.T, ledger *memory.Store, tr *Tracker, code string, user int64, amount string) (*models.PromoLine, error) {
	t.Helper()
	ctx := context.Background()
	var line *models.PromoLine
	err := ledger.RunInTx(ctx, func(tx store.Tx) error {
		app, err := tr.ValidateAndApply(ctx, tx, code, user, dec(amount), decimal.Zero)
		if err != nil {
			return err
		}
		order := &models.Order{UserID: user, Status: models.OrderStatusPending, PaymentStatus: models.PaymentStatusPaid}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		line, err = tr.RecordUsage(ctx, tx, app, order.ID)
		return err
	})
	return line, err
}

func promoState(t *testing.T, ledger *memory.Store, code string) *models.Promo {
	t.Helper()
	var p *models.Promo
	require.NoError(t, ledger.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		p, err = tx.GetPromoByCode(context.Background(), code)
		return err
	}))
	require.NotNil(t, p)
	return p
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *models.Promo)
		code    string
		amount  string
		wantErr error
	}{
		{name: "unknown code", code: "NOPE", amount: "50", wantErr: models.ErrInvalidPromoCode},
		{name: "not yet active", mutate: func(p *models.Promo) { p.StartDate = now.Add(time.Hour) }, amount: "50", wantErr: models.ErrPromoCodeNotYetActive},
		{name: "expired", mutate: func(p *models.Promo) { p.EndDate = now.Add(-time.Hour) }, amount: "50", wantErr: models.ErrPromoCodeExpired},
		{name: "below minimum", amount: "19.99", wantErr: models.ErrMinimumOrderAmountNotMet},
		{name: "global cap reached", mutate: func(p *models.Promo) { p.MaxTotalUsage = 3; p.UsageCount = 3 }, amount: "50", wantErr: models.ErrPromoCodeUsageLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := memory.New()
			p := basePromo()
			if tt.mutate != nil {
				tt.mutate(&p)
			}
			ledger.PutPromo(p)
			tr := NewTracker(ledger).WithClock(func() time.Time { return now })

			code := tt.code
			if code == "" {
				code = p.Code
			}
			_, err := tr.Preview(context.Background(), code, 1, dec(tt.amount), decimal.Zero)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUsageCapStopsAtMax(t *testing.T) {
	ledger := memory.New()
	p := basePromo()
	p.MaxTotalUsage = 2
	ledger.PutPromo(p)
	tr := NewTracker(ledger).WithClock(func() time.Time { return now })

	_, err := redeem(t, ledger, tr, "SAVE10", 1, "50")
	require.NoError(t, err)
	_, err = redeem(t, ledger, tr, "save10", 2, "50")
	require.NoError(t, err)
	assert.Equal(t, 2, promoState(t, ledger, "SAVE10").UsageCount)

	_, err = redeem(t, ledger, tr, "SAVE10", 3, "50")
	assert.ErrorIs(t, err, models.ErrPromoCodeUsageLimitExceeded)
	assert.Equal(t, 2, promoState(t, ledger, "SAVE10").UsageCount)
}

func TestPerUserLimitCountsUsageRows(t *testing.T) {
	ledger := memory.New()
	p := basePromo()
	p.MaxUsagePerUser = 1
	ledger.PutPromo(p)
	tr := NewTracker(ledger).WithClock(func() time.Time { return now })

	_, err := redeem(t, ledger, tr, "SAVE10", 7, "50")
	require.NoError(t, err)

	_, err = redeem(t, ledger, tr, "SAVE10", 7, "50")
	assert.ErrorIs(t, err, models.ErrPromoCodeUserLimitExceeded)

	_, err = redeem(t, ledger, tr, "SAVE10", 8, "50")
	assert.NoError(t, err)
}

func TestRecordUsageCreatesPromoLine(t *testing.T) {
	ledger := memory.New()
	instant := basePromo()
	ledger.PutPromo(instant)
	cashback := basePromo()
	cashback.Code = "BACK5"
	cashback.PromoMode = models.PromoModeCashback
	cashback.DiscountType = models.DiscountFixed
	cashback.DiscountAmount = dec("5")
	ledger.PutPromo(cashback)
	tr := NewTracker(ledger).WithClock(func() time.Time { return now })

	line, err := redeem(t, ledger, tr, "SAVE10", 1, "80")
	require.NoError(t, err)
	assert.False(t, line.CashbackFlag)
	assert.True(t, line.IsAwarded)
	assert.True(t, line.DiscountAmount.Equal(dec("8")))

	line, err = redeem(t, ledger, tr, "BACK5", 1, "80")
	require.NoError(t, err)
	assert.True(t, line.CashbackFlag)
	assert.False(t, line.IsAwarded)
	assert.True(t, line.DiscountAmount.Equal(dec("5")))
}

func TestPreviewDoesNotRecord(t *testing.T) {
	ledger := memory.New()
	ledger.PutPromo(basePromo())
	tr := NewTracker(ledger).WithClock(func() time.Time { return now })

	app, err := tr.Preview(context.Background(), "SAVE10", 1, dec("40"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, app.Discount.Equal(dec("4")))
	assert.Equal(t, 0, promoState(t, ledger, "SAVE10").UsageCount)
}

func TestDiscount(t *testing.T) {
	tests := []struct {
		name     string
		promo    models.Promo
		amount   string
		delivery string
		want     string
	}{
		{"percentage", models.Promo{DiscountType: models.DiscountPercentage, DiscountAmount: dec("15")}, "200", "0", "30"},
		{"percentage capped", models.Promo{DiscountType: models.DiscountPercentage, DiscountAmount: dec("50"), MaxDiscountValue: dec("25")}, "200", "0", "25"},
		{"fixed", models.Promo{DiscountType: models.DiscountFixed, DiscountAmount: dec("12.5")}, "100", "0", "12.5"},
		{"fixed above order", models.Promo{DiscountType: models.DiscountFixed, DiscountAmount: dec("80")}, "60", "0", "60"},
		{"free shipping", models.Promo{DiscountType: models.DiscountFreeShipping}, "60", "4.99", "4.99"},
		{"rounded", models.Promo{DiscountType: models.DiscountPercentage, DiscountAmount: dec("33")}, "10.01", "0", "3.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Discount(&tt.promo, dec(tt.amount), dec(tt.delivery))
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}
