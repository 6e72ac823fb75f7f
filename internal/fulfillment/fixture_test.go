package fulfillment

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/inventory"
	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/promo"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/store/memory"
	"marketplace-ledger/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	customerID    int64 = 7
	sellerID      int64 = 100
	otherSellerID int64 = 200
	riderID       int64 = 300

	storeID      int64 = 1
	otherStoreID int64 = 2

	phoneVariant int64 = 10 // 25.00, OTP, returnable for 7 days
	caseVariant  int64 = 11 // 10.00, cancelable until accepted
)

var fixedNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	ledger *memory.Store
	svc    *Service
	inv    *inventory.Manager
	wallet *wallet.Manager
	events *recordingPublisher
}

type recordingPublisher struct {
	placed  []*models.OrderPlacedEvent
	changed []*models.ItemStatusChangedEvent
}

func (r *recordingPublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	r.placed = append(r.placed, e)
	return nil
}

func (r *recordingPublisher) PublishItemStatusChanged(_ context.Context, e *models.ItemStatusChangedEvent) error {
	r.changed = append(r.changed, e)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := memory.New()
	ledger.SetClock(func() time.Time { return fixedNow })

	ledger.PutStore(models.Store{ID: storeID, SellerUserID: sellerID, Name: "Main Street", AdminCommissionRate: dec("10")})
	ledger.PutStore(models.Store{ID: otherStoreID, SellerUserID: otherSellerID, Name: "Corner Shop", AdminCommissionRate: dec("5")})
	ledger.PutVariant(models.ProductVariant{
		ID: phoneVariant, ProductID: 1, Title: "Phone", Price: dec("25.00"),
		RequiresOTP: true, IsReturnable: true, ReturnableDays: 7, IsCancelable: true,
	})
	ledger.PutVariant(models.ProductVariant{
		ID: caseVariant, ProductID: 2, Title: "Case", Price: dec("10.00"),
		IsCancelable: true, CancelableTill: models.ItemStatusAccepted,
	})
	ledger.SetStock(storeID, phoneVariant, 5)
	ledger.SetStock(storeID, caseVariant, 5)
	ledger.SetStock(otherStoreID, caseVariant, 1)

	inv := inventory.NewManager(ledger, nil)
	wal := wallet.NewManager(ledger, nil, "USD")
	tracker := promo.NewTracker(ledger).WithClock(func() time.Time { return fixedNow })
	events := &recordingPublisher{}
	svc := NewService(ledger, inv, wal, tracker, events, "USD").WithClock(func() time.Time { return fixedNow })

	return &fixture{ledger: ledger, svc: svc, inv: inv, wallet: wal, events: events}
}

func (f *fixture) place(t *testing.T, req PlaceOrderRequest) *PlaceOrderResult {
	t.Helper()
	if req.UserID == 0 {
		req.UserID = customerID
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCOD
	}
	res, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (f *fixture) move(t *testing.T, itemID int64, target models.OrderItemStatus, actor models.Actor) *TransitionResult {
	t.Helper()
	res, err := f.svc.TransitionItemStatus(context.Background(), TransitionRequest{ItemID: itemID, Target: target, Actor: actor})
	require.NoError(t, err)
	return res
}

// seedItem writes an order with one item already in status, bypassing placement.
func (f *fixture) seedItem(t *testing.T, status models.OrderItemStatus) *models.OrderItem {
	t.Helper()
	var item *models.OrderItem
	err := f.ledger.RunInTx(context.Background(), func(tx store.Tx) error {
		order := &models.Order{
			UserID:        customerID,
			Status:        models.OrderStatusPending,
			PaymentMethod: models.PaymentMethodCOD,
			PaymentStatus: models.PaymentStatusPending,
			CurrencyCode:  "USD",
		}
		if err := tx.CreateOrder(context.Background(), order); err != nil {
			return err
		}
		item = &models.OrderItem{
			OrderID:          order.ID,
			StoreID:          storeID,
			ProductVariantID: phoneVariant,
			Quantity:         1,
			UnitPrice:        dec("25"),
			Subtotal:         dec("25"),
			Status:           status,
		}
		return tx.CreateOrderItem(context.Background(), item)
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) stock(t *testing.T, sid, vid int64) int {
	t.Helper()
	n, err := f.inv.Stock(context.Background(), sid, vid)
	require.NoError(t, err)
	return n
}

func (f *fixture) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	w, err := f.wallet.Balance(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}

var (
	customer = models.Actor{Role: models.RoleCustomer, ID: customerID}
	seller   = models.Actor{Role: models.RoleSeller, ID: sellerID}
	rider    = models.Actor{Role: models.RoleDeliveryAgent, ID: riderID}
	admin    = models.Actor{Role: models.RoleAdmin, ID: 1}
)

func walletEntry(amount string) wallet.Entry {
	return wallet.Entry{Amount: dec(amount), Description: "Top up"}
}
