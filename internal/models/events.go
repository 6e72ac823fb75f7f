package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced         = "ORDER_PLACED"
	EventTypeItemStatusChanged   = "ITEM_STATUS_CHANGED"
	EventTypeReturnStatusChanged = "RETURN_STATUS_CHANGED"
	EventTypeWithdrawalProcessed = "WITHDRAWAL_PROCESSED"
	EventTypeCashbackAwarded     = "CASHBACK_AWARDED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderPlacedEvent published after an order and its stock debit commit
type OrderPlacedEvent struct {
	BaseEvent
	OrderID      int64           `json:"order_id"`
	UserID       int64           `json:"user_id"`
	TotalPayable decimal.Decimal `json:"total_payable"`
	ItemIDs      []int64         `json:"item_ids"`
}

// ItemStatusChangedEvent carries one applied item transition
type ItemStatusChangedEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	OrderItemID    int64           `json:"order_item_id"`
	StoreID        int64           `json:"store_id"`
	UserID         int64           `json:"user_id"`
	PreviousStatus OrderItemStatus `json:"previous_status"`
	NewStatus      OrderItemStatus `json:"new_status"`
	Actor          Actor           `json:"actor"`
}

// ReturnStatusChangedEvent carries one applied return transition
type ReturnStatusChangedEvent struct {
	BaseEvent
	ReturnID       int64        `json:"return_id"`
	OrderItemID    int64        `json:"order_item_id"`
	UserID         int64        `json:"user_id"`
	PreviousStatus ReturnStatus `json:"previous_status"`
	NewStatus      ReturnStatus `json:"new_status"`
	PickupStatus   PickupStatus `json:"pickup_status"`
}

// WithdrawalProcessedEvent published when an admin approves or rejects a payout
type WithdrawalProcessedEvent struct {
	BaseEvent
	WithdrawalID int64            `json:"withdrawal_id"`
	UserID       int64            `json:"user_id"`
	Amount       decimal.Decimal  `json:"amount"`
	Status       WithdrawalStatus `json:"status"`
}

// CashbackAwardedEvent published by the cashback sweep
type CashbackAwardedEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	UserID    int64           `json:"user_id"`
	PromoCode string          `json:"promo_code"`
	Amount    decimal.Decimal `json:"amount"`
}
