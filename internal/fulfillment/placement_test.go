package fulfillment

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPromo(f *fixture, code string, mode models.PromoMode) {
	f.ledger.PutPromo(models.Promo{
		Code:           code,
		StartDate:      fixedNow.Add(-time.Hour),
		EndDate:        fixedNow.Add(time.Hour),
		DiscountType:   models.DiscountPercentage,
		PromoMode:      mode,
		DiscountAmount: dec("10"),
		MaxTotalUsage:  10,
	})
}

func promoUsage(t *testing.T, f *fixture, code string) int {
	t.Helper()
	var n int
	require.NoError(t, f.ledger.RunInTx(context.Background(), func(tx store.Tx) error {
		p, err := tx.GetPromoByCode(context.Background(), code)
		if err != nil {
			return err
		}
		n = p.UsageCount
		return nil
	}))
	return n
}

func TestPlaceOrderSplitsInstantDiscount(t *testing.T) {
	f := newFixture(t)
	seedPromo(f, "SAVE10", models.PromoModeInstant)

	res := f.place(t, PlaceOrderRequest{
		Items: []CartItem{
			{StoreID: storeID, VariantID: phoneVariant, Quantity: 2},
			{StoreID: storeID, VariantID: caseVariant, Quantity: 1},
		},
		PromoCode:      "save10",
		DeliveryCharge: dec("4.99"),
	})

	assert.True(t, res.Order.Subtotal.Equal(dec("60")))
	assert.True(t, res.Order.PromoDiscount.Equal(dec("6")))
	assert.True(t, res.Order.TotalPayable.Equal(dec("58.99")))
	assert.Equal(t, models.OrderStatusAwaitingStoreResponse, res.Order.Status)
	assert.Equal(t, "SAVE10", res.Order.PromoCode)

	require.Len(t, res.Items, 2)
	assert.True(t, res.Items[0].PromoDiscount.Equal(dec("5")))
	assert.True(t, res.Items[1].PromoDiscount.Equal(dec("1")))
	assert.True(t, res.Items[0].AdminCommissionAmount.Equal(dec("4.5")))
	assert.True(t, res.Items[0].SellerCommissionAmount.Equal(dec("40.5")))
	for _, it := range res.Items {
		assert.Equal(t, models.ItemStatusAwaitingStoreResponse, it.Status)
	}

	require.NotNil(t, res.PromoLine)
	assert.True(t, res.PromoLine.IsAwarded)
	assert.Equal(t, 1, promoUsage(t, f, "SAVE10"))

	assert.Equal(t, 3, f.stock(t, storeID, phoneVariant))
	assert.Equal(t, 4, f.stock(t, storeID, caseVariant))

	require.Len(t, f.events.placed, 1)
	assert.Equal(t, res.Order.ID, f.events.placed[0].OrderID)
	assert.Len(t, f.events.placed[0].ItemIDs, 2)
}

func TestPlaceOrderInsufficientStockRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	seedPromo(f, "SAVE10", models.PromoModeInstant)
	_, err := f.wallet.Deposit(context.Background(), customerID, walletEntry("50"))
	require.NoError(t, err)

	_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: customerID,
		Items: []CartItem{
			{StoreID: storeID, VariantID: phoneVariant, Quantity: 1},
			{StoreID: otherStoreID, VariantID: caseVariant, Quantity: 2},
		},
		PaymentMethod: "card",
		PromoCode:     "SAVE10",
		WalletAmount:  dec("10"),
	})
	require.ErrorIs(t, err, models.ErrInsufficientStock)

	assert.Equal(t, 5, f.stock(t, storeID, phoneVariant))
	assert.Equal(t, 1, f.stock(t, otherStoreID, caseVariant))
	assert.Equal(t, 0, promoUsage(t, f, "SAVE10"))
	assert.True(t, f.balance(t, customerID).Equal(dec("50")))
	assert.Empty(t, f.events.placed)

	_, _, err = f.svc.GetOrder(context.Background(), 1)
	assert.ErrorIs(t, err, models.ErrNotFound)

	logs, err := f.inv.Logs(context.Background(), storeID, phoneVariant)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestPlaceOrderReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	req := PlaceOrderRequest{
		Items:          []CartItem{{StoreID: storeID, VariantID: caseVariant, Quantity: 2}},
		IdempotencyKey: "checkout-42",
	}

	first := f.place(t, req)
	second := f.place(t, req)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Len(t, second.Items, 1)
	assert.Equal(t, 3, f.stock(t, storeID, caseVariant))
	assert.Len(t, f.events.placed, 1)
}

func TestPlaceOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     PlaceOrderRequest
		wantErr error
	}{
		{
			name:    "no items",
			req:     PlaceOrderRequest{UserID: customerID, PaymentMethod: "cod"},
			wantErr: models.ErrInvalidInput,
		},
		{
			name:    "zero quantity",
			req:     PlaceOrderRequest{UserID: customerID, PaymentMethod: "cod", Items: []CartItem{{StoreID: storeID, VariantID: caseVariant}}},
			wantErr: models.ErrInvalidQuantity,
		},
		{
			name: "duplicate line",
			req: PlaceOrderRequest{UserID: customerID, PaymentMethod: "cod", Items: []CartItem{
				{StoreID: storeID, VariantID: caseVariant, Quantity: 1},
				{StoreID: storeID, VariantID: caseVariant, Quantity: 1},
			}},
			wantErr: models.ErrInvalidInput,
		},
		{
			name:    "unknown variant",
			req:     PlaceOrderRequest{UserID: customerID, PaymentMethod: "cod", Items: []CartItem{{StoreID: storeID, VariantID: 404, Quantity: 1}}},
			wantErr: models.ErrNotFound,
		},
		{
			name: "wallet above total",
			req: PlaceOrderRequest{UserID: customerID, PaymentMethod: "card", WalletAmount: dec("11"),
				Items: []CartItem{{StoreID: storeID, VariantID: caseVariant, Quantity: 1}}},
			wantErr: models.ErrInvalidInput,
		},
		{
			name: "unknown promo",
			req: PlaceOrderRequest{UserID: customerID, PaymentMethod: "cod", PromoCode: "NOPE",
				Items: []CartItem{{StoreID: storeID, VariantID: caseVariant, Quantity: 1}}},
			wantErr: models.ErrInvalidPromoCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.PlaceOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 5, f.stock(t, storeID, caseVariant))
		})
	}
}

func TestPlaceOrderInsufficientWalletFunds(t *testing.T) {
	f := newFixture(t)
	_, err := f.wallet.Deposit(context.Background(), customerID, walletEntry("5"))
	require.NoError(t, err)

	_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:        customerID,
		Items:         []CartItem{{StoreID: storeID, VariantID: caseVariant, Quantity: 1}},
		PaymentMethod: "card",
		WalletAmount:  dec("10"),
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	assert.Equal(t, 5, f.stock(t, storeID, caseVariant))
	assert.True(t, f.balance(t, customerID).Equal(dec("5")))
}

func TestPlaceOrderUnpaidStartsPending(t *testing.T) {
	f := newFixture(t)
	seedPromo(f, "BACK10", models.PromoModeCashback)

	res := f.place(t, PlaceOrderRequest{
		Items:         []CartItem{{StoreID: storeID, VariantID: caseVariant, Quantity: 1}},
		PaymentMethod: "card",
		PromoCode:     "BACK10",
	})
	assert.Equal(t, models.PaymentStatusPending, res.Order.PaymentStatus)
	assert.Equal(t, models.ItemStatusPending, res.Items[0].Status)
	assert.Equal(t, models.OrderStatusPending, res.Order.Status)

	// cashback promos do not reduce the payable amount
	assert.True(t, res.Order.TotalPayable.Equal(dec("10")))
	require.NotNil(t, res.PromoLine)
	assert.True(t, res.PromoLine.CashbackFlag)
	assert.False(t, res.PromoLine.IsAwarded)
	assert.True(t, res.PromoLine.DiscountAmount.Equal(dec("1")))
}

func TestAllocateDiscountAssignsRemainderToLastLine(t *testing.T) {
	lines := []*pricedLine{
		{item: &models.OrderItem{Subtotal: dec("10")}},
		{item: &models.OrderItem{Subtotal: dec("10")}},
		{item: &models.OrderItem{Subtotal: dec("10")}},
	}
	allocateDiscount(lines, dec("30"), dec("10"))

	assert.True(t, lines[0].item.PromoDiscount.Equal(dec("3.33")))
	assert.True(t, lines[1].item.PromoDiscount.Equal(dec("3.33")))
	assert.True(t, lines[2].item.PromoDiscount.Equal(dec("3.34")))
}
