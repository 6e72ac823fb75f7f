package worker

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/broker"
	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/util"

	"go.uber.org/zap"
)

const dedupTTL = 24 * time.Hour

// Notifier delivers a message to a user (push, SMS, email).
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind, message string) error
}

// Deduper remembers processed event ids across restarts and replicas.
type Deduper interface {
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// LogNotifier writes notifications to the log. It is the default when no delivery channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.ComponentLogger("notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, userID int64, kind, message string) error {
	n.logger.Info("Notification",
		zap.Int64("user_id", userID),
		zap.String("kind", kind),
		zap.String("message", message))
	return nil
}

// NotificationWorker turns ledger events into user notifications
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	notifier     Notifier
	dedup        Deduper
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker. dedup may be nil.
func NewNotificationWorker(consumer *broker.Consumer, notifier Notifier, dedup Deduper) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		notifier: notifier,
		dedup:    dedup,
		logger:   util.ComponentLogger("notification-worker"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	eventHandler.OnItemStatusChanged(w.handleItemStatusChanged)
	eventHandler.OnReturnStatusChanged(w.handleReturnStatusChanged)
	eventHandler.OnWithdrawalProcessed(w.handleWithdrawalProcessed)
	eventHandler.OnCashbackAwarded(w.handleCashbackAwarded)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	return w.deliver(ctx, e.BaseEvent, e.UserID,
		fmt.Sprintf("Order #%d placed, %d item(s), payable %s", e.OrderID, len(e.ItemIDs), e.TotalPayable.StringFixed(2)))
}

func (w *NotificationWorker) handleItemStatusChanged(ctx context.Context, e *models.ItemStatusChangedEvent) error {
	return w.deliver(ctx, e.BaseEvent, e.UserID,
		fmt.Sprintf("Item #%d of order #%d is now %s", e.OrderItemID, e.OrderID, e.NewStatus))
}

func (w *NotificationWorker) handleReturnStatusChanged(ctx context.Context, e *models.ReturnStatusChangedEvent) error {
	return w.deliver(ctx, e.BaseEvent, e.UserID,
		fmt.Sprintf("Return #%d is now %s (pickup %s)", e.ReturnID, e.NewStatus, e.PickupStatus))
}

func (w *NotificationWorker) handleWithdrawalProcessed(ctx context.Context, e *models.WithdrawalProcessedEvent) error {
	return w.deliver(ctx, e.BaseEvent, e.UserID,
		fmt.Sprintf("Withdrawal #%d of %s was %s", e.WithdrawalID, e.Amount.StringFixed(2), e.Status))
}

func (w *NotificationWorker) handleCashbackAwarded(ctx context.Context, e *models.CashbackAwardedEvent) error {
	return w.deliver(ctx, e.BaseEvent, e.UserID,
		fmt.Sprintf("Cashback of %s for order #%d (Promo: %s) was added to your wallet", e.Amount.StringFixed(2), e.OrderID, e.PromoCode))
}

func (w *NotificationWorker) deliver(ctx context.Context, base models.BaseEvent, userID int64, message string) error {
	if w.dedup != nil && base.EventID != "" {
		first, err := w.dedup.MarkEventProcessed(ctx, base.EventID, dedupTTL)
		if err != nil {
			return fmt.Errorf("failed to check event idempotency: %w", err)
		}
		if !first {
			w.logger.Debug("Duplicate event skipped", zap.String("event_id", base.EventID))
			return nil
		}
	}
	return w.notifier.Notify(ctx, userID, base.EventType, message)
}
