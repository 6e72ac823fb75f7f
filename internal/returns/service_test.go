package returns

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/fulfillment"
	"marketplace-ledger/internal/inventory"
	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/promo"
	"marketplace-ledger/internal/store/memory"
	"marketplace-ledger/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	customerID int64 = 7
	sellerID   int64 = 100
	agentID    int64 = 300
	storeID    int64 = 1

	kettle int64 = 10 // returnable for 7 days
	socks  int64 = 11 // final sale
)

var (
	customer = models.Actor{Role: models.RoleCustomer, ID: customerID}
	seller   = models.Actor{Role: models.RoleSeller, ID: sellerID}
	agent    = models.Actor{Role: models.RoleDeliveryAgent, ID: agentID}
)

type capture struct {
	events []*models.ReturnStatusChangedEvent
}

func (c *capture) PublishReturnStatusChanged(_ context.Context, e *models.ReturnStatusChangedEvent) error {
	c.events = append(c.events, e)
	return nil
}

type harness struct {
	ledger *memory.Store
	items  *fulfillment.Service
	inv    *inventory.Manager
	wallet *wallet.Manager
	svc    *Service
	events *capture
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{ledger: memory.New(), clock: time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)}
	now := func() time.Time { return h.clock }
	h.ledger.SetClock(now)

	h.ledger.PutStore(models.Store{ID: storeID, SellerUserID: sellerID, AdminCommissionRate: decimal.NewFromInt(10)})
	h.ledger.PutVariant(models.ProductVariant{
		ID: kettle, Title: "Kettle", Price: decimal.RequireFromString("40.00"),
		IsReturnable: true, ReturnableDays: 7, IsCancelable: true,
	})
	h.ledger.PutVariant(models.ProductVariant{ID: socks, Title: "Socks", Price: decimal.RequireFromString("5.00")})
	h.ledger.SetStock(storeID, kettle, 3)
	h.ledger.SetStock(storeID, socks, 3)

	h.inv = inventory.NewManager(h.ledger, nil)
	h.wallet = wallet.NewManager(h.ledger, nil, "USD")
	h.items = fulfillment.NewService(h.ledger, h.inv, h.wallet, promo.NewTracker(h.ledger), nil, "USD").WithClock(now)
	h.events = &capture{}
	h.svc = NewService(h.ledger, h.items, h.wallet, h.events).WithClock(now)
	return h
}

// delivered places a COD order for one unit of variant and walks it to delivered.
func (h *harness) delivered(t *testing.T, variant int64) models.OrderItem {
	t.Helper()
	ctx := context.Background()
	placed, err := h.items.PlaceOrder(ctx, fulfillment.PlaceOrderRequest{
		UserID:        customerID,
		Items:         []fulfillment.CartItem{{StoreID: storeID, VariantID: variant, Quantity: 1}},
		PaymentMethod: models.PaymentMethodCOD,
	})
	require.NoError(t, err)

	itemID := placed.Items[0].ID
	for _, mv := range []struct {
		target models.OrderItemStatus
		actor  models.Actor
	}{
		{models.ItemStatusAccepted, seller},
		{models.ItemStatusPreparing, seller},
		{models.ItemStatusCollected, agent},
		{models.ItemStatusDelivered, agent},
	} {
		_, err := h.items.TransitionItemStatus(ctx, fulfillment.TransitionRequest{ItemID: itemID, Target: mv.target, Actor: mv.actor})
		require.NoError(t, err)
	}

	item, err := h.items.GetOrderItem(ctx, itemID)
	require.NoError(t, err)
	return *item
}

func (h *harness) request(t *testing.T, itemID int64) *models.OrderItemReturn {
	t.Helper()
	ret, err := h.svc.RequestReturn(context.Background(), Request{ItemID: itemID, UserID: customerID, Reason: "leaks", Images: []string{"a.jpg"}})
	require.NoError(t, err)
	return ret
}

func (h *harness) stock(t *testing.T, variant int64) int {
	t.Helper()
	n, err := h.inv.Stock(context.Background(), storeID, variant)
	require.NoError(t, err)
	return n
}

func TestReturnLifecycleRestocksAndRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.delivered(t, kettle)
	assert.Equal(t, 2, h.stock(t, kettle))

	ret := h.request(t, item.ID)
	assert.Equal(t, models.ReturnStatusRequested, ret.ReturnStatus)
	assert.Equal(t, models.PickupStatusPending, ret.PickupStatus)
	assert.True(t, ret.RefundAmount.Equal(decimal.RequireFromString("40")))

	assigned := agentID
	ret, err := h.svc.ApproveReturn(ctx, ret.ID, seller, &assigned)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusPickupAssigned, ret.ReturnStatus)
	assert.Equal(t, models.PickupStatusAssigned, ret.PickupStatus)
	assert.NotNil(t, ret.ApprovedAt)

	ret, err = h.svc.MarkPickedUp(ctx, ret.ID, agent)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusPickedUp, ret.ReturnStatus)

	ret, err = h.svc.MarkReceivedBySeller(ctx, ret.ID, agent)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusReceivedBySeller, ret.ReturnStatus)
	assert.Equal(t, models.PickupStatusDeliveredToSeller, ret.PickupStatus)
	assert.Equal(t, 3, h.stock(t, kettle))

	got, err := h.items.GetOrderItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusReturned, got.Status)

	ret, err = h.svc.ProcessRefund(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusCompleted, ret.ReturnStatus)
	assert.NotNil(t, ret.RefundProcessedAt)

	w, err := h.wallet.Balance(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("40")))

	order, _, err := h.items.GetOrder(ctx, item.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, order.Status)
	// refunded does not restock a second time
	assert.Equal(t, 3, h.stock(t, kettle))

	require.Len(t, h.events.events, 5)
	assert.Equal(t, models.ReturnStatusCompleted, h.events.events[4].NewStatus)
	assert.Equal(t, models.ReturnStatusReceivedBySeller, h.events.events[4].PreviousStatus)
}

func TestRefundFailureKeepsReturnPendingUntilRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.delivered(t, kettle)
	ret := h.request(t, item.ID)

	_, err := h.svc.ApproveReturn(ctx, ret.ID, seller, nil)
	require.NoError(t, err)
	_, err = h.svc.MarkPickedUp(ctx, ret.ID, agent)
	require.NoError(t, err)
	_, err = h.svc.MarkReceivedBySeller(ctx, ret.ID, agent)
	require.NoError(t, err)

	h.ledger.FailOn("AppendTransaction", assert.AnError)
	_, err = h.svc.ProcessRefund(ctx, ret.ID)
	require.ErrorIs(t, err, assert.AnError)

	report, err := h.svc.RetryPendingRefunds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Failed)

	current, err := h.svc.GetReturn(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusReceivedBySeller, current.ReturnStatus)
	_, err = h.wallet.Balance(ctx, customerID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	h.ledger.FailOn("AppendTransaction", nil)
	report, err = h.svc.RetryPendingRefunds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refunded)

	current, err = h.svc.GetReturn(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusCompleted, current.ReturnStatus)

	report, err = h.svc.RetryPendingRefunds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pending)
}

func TestRequestReturnRejections(t *testing.T) {
	t.Run("not returnable", func(t *testing.T) {
		h := newHarness(t)
		item := h.delivered(t, socks)
		_, err := h.svc.RequestReturn(context.Background(), Request{ItemID: item.ID, UserID: customerID, Reason: "size"})
		assert.ErrorIs(t, err, models.ErrProductNotReturnable)
	})

	t.Run("already requested", func(t *testing.T) {
		h := newHarness(t)
		item := h.delivered(t, kettle)
		h.request(t, item.ID)
		_, err := h.svc.RequestReturn(context.Background(), Request{ItemID: item.ID, UserID: customerID, Reason: "again"})
		assert.ErrorIs(t, err, models.ErrReturnAlreadyRequested)
	})

	t.Run("window closed", func(t *testing.T) {
		h := newHarness(t)
		item := h.delivered(t, kettle)
		h.clock = h.clock.Add(8 * 24 * time.Hour)
		_, err := h.svc.RequestReturn(context.Background(), Request{ItemID: item.ID, UserID: customerID, Reason: "late"})
		assert.ErrorIs(t, err, models.ErrInvalidItemStatus)
	})

	t.Run("not delivered", func(t *testing.T) {
		h := newHarness(t)
		placed, err := h.items.PlaceOrder(context.Background(), fulfillment.PlaceOrderRequest{
			UserID:        customerID,
			Items:         []fulfillment.CartItem{{StoreID: storeID, VariantID: kettle, Quantity: 1}},
			PaymentMethod: models.PaymentMethodCOD,
		})
		require.NoError(t, err)
		_, err = h.svc.RequestReturn(context.Background(), Request{ItemID: placed.Items[0].ID, UserID: customerID, Reason: "early"})
		assert.ErrorIs(t, err, models.ErrInvalidItemStatus)
	})

	t.Run("someone else's order", func(t *testing.T) {
		h := newHarness(t)
		item := h.delivered(t, kettle)
		_, err := h.svc.RequestReturn(context.Background(), Request{ItemID: item.ID, UserID: 99, Reason: "mine now"})
		assert.ErrorIs(t, err, models.ErrActorNotPermitted)
	})
}

func TestRejectedReturnIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.delivered(t, kettle)
	ret := h.request(t, item.ID)

	ret, err := h.svc.RejectReturn(ctx, ret.ID, seller, "used item")
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusSellerRejected, ret.ReturnStatus)
	assert.Equal(t, models.PickupStatusCancelled, ret.PickupStatus)
	assert.Equal(t, "used item", ret.SellerComment)

	_, err = h.svc.ApproveReturn(ctx, ret.ID, seller, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, 2, h.stock(t, kettle))

	// a rejected return no longer blocks a new request
	again := h.request(t, item.ID)
	assert.NotEqual(t, ret.ID, again.ID)
}

func TestCancelReturnOnlyWhileRequested(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.delivered(t, kettle)
	ret := h.request(t, item.ID)

	_, err := h.svc.CancelReturn(ctx, ret.ID, models.Actor{Role: models.RoleCustomer, ID: 99})
	assert.ErrorIs(t, err, models.ErrActorNotPermitted)

	ret, err = h.svc.CancelReturn(ctx, ret.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusCancelled, ret.ReturnStatus)

	_, err = h.svc.CancelReturn(ctx, ret.ID, customer)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestPickupAxisGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.delivered(t, kettle)
	ret := h.request(t, item.ID)

	assigned := agentID
	_, err := h.svc.ApproveReturn(ctx, ret.ID, customer, &assigned)
	assert.ErrorIs(t, err, models.ErrActorNotPermitted)
	_, err = h.svc.ApproveReturn(ctx, ret.ID, seller, &assigned)
	require.NoError(t, err)

	_, err = h.svc.MarkReceivedBySeller(ctx, ret.ID, agent)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = h.svc.MarkPickedUp(ctx, ret.ID, models.Actor{Role: models.RoleDeliveryAgent, ID: 301})
	assert.ErrorIs(t, err, models.ErrActorNotPermitted)

	_, err = h.svc.MarkPickedUp(ctx, ret.ID, seller)
	assert.ErrorIs(t, err, models.ErrActorNotPermitted)

	_, err = h.svc.ProcessRefund(ctx, ret.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	got, err := h.items.GetOrderItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusDelivered, got.Status)
}
