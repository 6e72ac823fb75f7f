package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter writes one keyed event to the bus.
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher publishes ledger events. Events of one order share a key so they stay ordered.
type EventPublisher struct {
	writer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.writer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishItemStatusChanged publishes ItemStatusChanged event
func (ep *EventPublisher) PublishItemStatusChanged(ctx context.Context, event *models.ItemStatusChangedEvent) error {
	return ep.writer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishReturnStatusChanged publishes ReturnStatusChanged event
func (ep *EventPublisher) PublishReturnStatusChanged(ctx context.Context, event *models.ReturnStatusChangedEvent) error {
	key := fmt.Sprintf("return-%d", event.ReturnID)
	return ep.writer.PublishEvent(ctx, key, event)
}

// PublishWithdrawalProcessed publishes WithdrawalProcessed event
func (ep *EventPublisher) PublishWithdrawalProcessed(ctx context.Context, event *models.WithdrawalProcessedEvent) error {
	key := fmt.Sprintf("wallet-%d", event.UserID)
	return ep.writer.PublishEvent(ctx, key, event)
}

// PublishCashbackAwarded publishes CashbackAwarded event
func (ep *EventPublisher) PublishCashbackAwarded(ctx context.Context, event *models.CashbackAwardedEvent) error {
	return ep.writer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// LogWriter stands in for Kafka when no brokers are configured.
type LogWriter struct {
	logger *zap.Logger
}

func NewLogWriter() *LogWriter {
	return &LogWriter{logger: util.ComponentLogger("event-log")}
}

func (w *LogWriter) PublishEvent(_ context.Context, key string, event interface{}) error {
	w.logger.Info("Event", zap.String("key", key), zap.Any("event", event))
	return nil
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderPlaced         func(context.Context, *models.OrderPlacedEvent) error
	onItemStatusChanged   func(context.Context, *models.ItemStatusChangedEvent) error
	onReturnStatusChanged func(context.Context, *models.ReturnStatusChangedEvent) error
	onWithdrawalProcessed func(context.Context, *models.WithdrawalProcessedEvent) error
	onCashbackAwarded     func(context.Context, *models.CashbackAwardedEvent) error
	logger                *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnOrderPlaced registers a handler for OrderPlaced events
func (eh *EventHandler) OnOrderPlaced(handler func(context.Context, *models.OrderPlacedEvent) error) {
	eh.onOrderPlaced = handler
}

// OnItemStatusChanged registers a handler for ItemStatusChanged events
func (eh *EventHandler) OnItemStatusChanged(handler func(context.Context, *models.ItemStatusChangedEvent) error) {
	eh.onItemStatusChanged = handler
}

// OnReturnStatusChanged registers a handler for ReturnStatusChanged events
func (eh *EventHandler) OnReturnStatusChanged(handler func(context.Context, *models.ReturnStatusChangedEvent) error) {
	eh.onReturnStatusChanged = handler
}

// OnWithdrawalProcessed registers a handler for WithdrawalProcessed events
func (eh *EventHandler) OnWithdrawalProcessed(handler func(context.Context, *models.WithdrawalProcessedEvent) error) {
	eh.onWithdrawalProcessed = handler
}

// OnCashbackAwarded registers a handler for CashbackAwarded events
func (eh *EventHandler) OnCashbackAwarded(handler func(context.Context, *models.CashbackAwardedEvent) error) {
	eh.onCashbackAwarded = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderPlaced:
		if eh.onOrderPlaced != nil {
			var event models.OrderPlacedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderPlaced event: %w", err)
			}
			return eh.onOrderPlaced(ctx, &event)
		}

	case models.EventTypeItemStatusChanged:
		if eh.onItemStatusChanged != nil {
			var event models.ItemStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ItemStatusChanged event: %w", err)
			}
			return eh.onItemStatusChanged(ctx, &event)
		}

	case models.EventTypeReturnStatusChanged:
		if eh.onReturnStatusChanged != nil {
			var event models.ReturnStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReturnStatusChanged event: %w", err)
			}
			return eh.onReturnStatusChanged(ctx, &event)
		}

	case models.EventTypeWithdrawalProcessed:
		if eh.onWithdrawalProcessed != nil {
			var event models.WithdrawalProcessedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal WithdrawalProcessed event: %w", err)
			}
			return eh.onWithdrawalProcessed(ctx, &event)
		}

	case models.EventTypeCashbackAwarded:
		if eh.onCashbackAwarded != nil {
			var event models.CashbackAwardedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CashbackAwarded event: %w", err)
			}
			return eh.onCashbackAwarded(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
