package fulfillment

import (
	"context"
	"time"

	"marketplace-ledger/internal/inventory"
	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/promo"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/util"
	"marketplace-ledger/internal/wallet"

	"go.uber.org/zap"
)

// EventPublisher fans committed order changes out to notification consumers.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishItemStatusChanged(ctx context.Context, event *models.ItemStatusChangedEvent) error
}

// Service places orders and drives order items through their lifecycle.
// It is the single place where item status changes meet stock and wallet side effects.
type Service struct {
	ledger    store.Ledger
	inventory *inventory.Manager
	wallet    *wallet.Manager
	promos    *promo.Tracker
	events    EventPublisher
	currency  string
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates the fulfillment service. events may be nil.
func NewService(
	ledger store.Ledger,
	inv *inventory.Manager,
	wal *wallet.Manager,
	promos *promo.Tracker,
	events EventPublisher,
	currency string,
) *Service {
	return &Service{
		ledger:    ledger,
		inventory: inv,
		wallet:    wal,
		promos:    promos,
		events:    events,
		currency:  currency,
		now:       time.Now,
		logger:    util.ComponentLogger("fulfillment"),
	}
}

// WithClock replaces the clock used for delivery and return deadlines.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetOrder returns an order with its items.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.GetOrder")
	defer span.End()

	var order *models.Order
	var items []models.OrderItem
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		items, err = tx.ListOrderItems(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, nil, util.RecordError(span, err)
	}
	return order, items, nil
}

// GetOrderItem returns one item.
func (s *Service) GetOrderItem(ctx context.Context, itemID int64) (*models.OrderItem, error) {
	var item *models.OrderItem
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		item, err = tx.GetOrderItem(ctx, itemID)
		return err
	})
	return item, err
}
