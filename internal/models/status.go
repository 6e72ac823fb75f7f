package models

import "github.com/shopspring/decimal"

// OrderItemStatus is the fulfillment state of a single order item.
type OrderItemStatus string

const (
	ItemStatusPending               OrderItemStatus = "pending"
	ItemStatusAwaitingStoreResponse OrderItemStatus = "awaiting_store_response"
	ItemStatusAccepted              OrderItemStatus = "accepted"
	ItemStatusPreparing             OrderItemStatus = "preparing"
	ItemStatusCollected             OrderItemStatus = "collected"
	ItemStatusDelivered             OrderItemStatus = "delivered"
	ItemStatusRejected              OrderItemStatus = "rejected"
	ItemStatusCancelled             OrderItemStatus = "cancelled"
	ItemStatusReturned              OrderItemStatus = "returned"
	ItemStatusRefunded              OrderItemStatus = "refunded"
	ItemStatusFailed                OrderItemStatus = "failed"
)

// AllItemStatuses lists every item status in lifecycle order.
var AllItemStatuses = []OrderItemStatus{
	ItemStatusPending,
	ItemStatusAwaitingStoreResponse,
	ItemStatusAccepted,
	ItemStatusPreparing,
	ItemStatusCollected,
	ItemStatusDelivered,
	ItemStatusRejected,
	ItemStatusCancelled,
	ItemStatusReturned,
	ItemStatusRefunded,
	ItemStatusFailed,
}

// ActorRole identifies who drives a transition.
type ActorRole string

const (
	RoleCustomer      ActorRole = "customer"
	RoleSeller        ActorRole = "seller"
	RoleDeliveryAgent ActorRole = "delivery_agent"
	RoleAdmin         ActorRole = "admin"
	RoleSystem        ActorRole = "system"
)

// Actor is the caller of a state change.
type Actor struct {
	Role ActorRole `json:"role"`
	ID   int64     `json:"id"`
}

// SystemActor is used by background jobs and internal flows.
var SystemActor = Actor{Role: RoleSystem}

func (r ActorRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleDeliveryAgent, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

var (
	rolesSeller   = []ActorRole{RoleSeller, RoleAdmin}
	rolesCustomer = []ActorRole{RoleCustomer, RoleAdmin, RoleSystem}
	rolesRider    = []ActorRole{RoleDeliveryAgent, RoleAdmin}
	rolesFailure  = []ActorRole{RoleSystem, RoleAdmin}
	rolesInternal = []ActorRole{RoleSystem}
)

// itemTransitions is the complete table of legal item moves and who may make them.
var itemTransitions = map[OrderItemStatus]map[OrderItemStatus][]ActorRole{
	ItemStatusPending: {
		ItemStatusAwaitingStoreResponse: rolesInternal,
		ItemStatusCancelled:             rolesCustomer,
		ItemStatusFailed:                rolesFailure,
	},
	ItemStatusAwaitingStoreResponse: {
		ItemStatusAccepted:  rolesSeller,
		ItemStatusRejected:  rolesSeller,
		ItemStatusCancelled: rolesCustomer,
		ItemStatusFailed:    rolesFailure,
	},
	ItemStatusAccepted: {
		ItemStatusPreparing: rolesSeller,
		ItemStatusRejected:  rolesSeller,
		ItemStatusCancelled: rolesCustomer,
		ItemStatusFailed:    rolesFailure,
	},
	ItemStatusPreparing: {
		ItemStatusCollected: rolesRider,
		ItemStatusCancelled: rolesCustomer,
		ItemStatusFailed:    rolesFailure,
	},
	ItemStatusCollected: {
		ItemStatusDelivered: rolesRider,
		ItemStatusFailed:    {RoleDeliveryAgent, RoleSystem, RoleAdmin},
	},
	ItemStatusDelivered: {
		ItemStatusReturned: rolesInternal,
	},
	ItemStatusReturned: {
		ItemStatusRefunded: rolesInternal,
	},
}

// CanTransition reports whether the table has an edge from s to target.
func (s OrderItemStatus) CanTransition(target OrderItemStatus) bool {
	_, ok := itemTransitions[s][target]
	return ok
}

// AllowedBy reports whether role may drive the s -> target edge.
func (s OrderItemStatus) AllowedBy(target OrderItemStatus, role ActorRole) bool {
	for _, r := range itemTransitions[s][target] {
		if r == role {
			return true
		}
	}
	return false
}

func (s OrderItemStatus) Valid() bool {
	for _, v := range AllItemStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// InFlight is true for statuses that still progress toward delivery.
func (s OrderItemStatus) InFlight() bool {
	switch s {
	case ItemStatusPending, ItemStatusAwaitingStoreResponse, ItemStatusAccepted,
		ItemStatusPreparing, ItemStatusCollected:
		return true
	}
	return false
}

// Restocks is true for statuses whose entry returns sold units to the store.
func (s OrderItemStatus) Restocks() bool {
	switch s {
	case ItemStatusRejected, ItemStatusCancelled, ItemStatusReturned, ItemStatusRefunded:
		return true
	}
	return false
}

// Rank orders the forward lifecycle; off-path statuses rank zero.
func (s OrderItemStatus) Rank() int {
	switch s {
	case ItemStatusPending:
		return 1
	case ItemStatusAwaitingStoreResponse:
		return 2
	case ItemStatusAccepted:
		return 3
	case ItemStatusPreparing:
		return 4
	case ItemStatusCollected:
		return 5
	case ItemStatusDelivered:
		return 6
	}
	return 0
}

// OrderStatus is the derived header status.
type OrderStatus string

const (
	OrderStatusPending               OrderStatus = "pending"
	OrderStatusAwaitingStoreResponse OrderStatus = "awaiting_store_response"
	OrderStatusAccepted              OrderStatus = "accepted"
	OrderStatusPreparing             OrderStatus = "preparing"
	OrderStatusOutForDelivery        OrderStatus = "out_for_delivery"
	OrderStatusDelivered             OrderStatus = "delivered"
	OrderStatusReturned              OrderStatus = "returned"
	OrderStatusRefunded              OrderStatus = "refunded"
	OrderStatusRejected              OrderStatus = "rejected"
	OrderStatusCancelled             OrderStatus = "cancelled"
	OrderStatusFailed                OrderStatus = "failed"
)

// ReturnStatus is the business axis of a return.
type ReturnStatus string

const (
	ReturnStatusRequested        ReturnStatus = "requested"
	ReturnStatusSellerApproved   ReturnStatus = "seller_approved"
	ReturnStatusSellerRejected   ReturnStatus = "seller_rejected"
	ReturnStatusPickupAssigned   ReturnStatus = "pickup_assigned"
	ReturnStatusPickedUp         ReturnStatus = "picked_up"
	ReturnStatusReceivedBySeller ReturnStatus = "received_by_seller"
	ReturnStatusRefundProcessed  ReturnStatus = "refund_processed"
	ReturnStatusCompleted        ReturnStatus = "completed"
	ReturnStatusCancelled        ReturnStatus = "cancelled"
)

var returnTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnStatusRequested:        {ReturnStatusSellerApproved, ReturnStatusSellerRejected, ReturnStatusCancelled},
	ReturnStatusSellerApproved:   {ReturnStatusPickupAssigned},
	ReturnStatusPickupAssigned:   {ReturnStatusPickedUp},
	ReturnStatusPickedUp:         {ReturnStatusReceivedBySeller},
	ReturnStatusReceivedBySeller: {ReturnStatusRefundProcessed},
	ReturnStatusRefundProcessed:  {ReturnStatusCompleted},
}

func (s ReturnStatus) CanTransition(target ReturnStatus) bool {
	for _, t := range returnTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Active is true while the return still blocks a new request for the same item.
func (s ReturnStatus) Active() bool {
	return s != ReturnStatusCancelled && s != ReturnStatusSellerRejected
}

// PickupStatus is the logistics axis of a return.
type PickupStatus string

const (
	PickupStatusPending           PickupStatus = "pending"
	PickupStatusAssigned          PickupStatus = "assigned"
	PickupStatusPickedUp          PickupStatus = "picked_up"
	PickupStatusDeliveredToSeller PickupStatus = "delivered_to_seller"
	PickupStatusCancelled         PickupStatus = "cancelled"
)

var pickupTransitions = map[PickupStatus][]PickupStatus{
	PickupStatusPending:  {PickupStatusAssigned, PickupStatusCancelled},
	PickupStatusAssigned: {PickupStatusPickedUp, PickupStatusCancelled},
	PickupStatusPickedUp: {PickupStatusDeliveredToSeller},
}

func (s PickupStatus) CanTransition(target PickupStatus) bool {
	for _, t := range pickupTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

type PromoDiscountType string

const (
	DiscountPercentage   PromoDiscountType = "percentage"
	DiscountFixed        PromoDiscountType = "fixed"
	DiscountFreeShipping PromoDiscountType = "free_shipping"
)

type PromoMode string

const (
	PromoModeInstant  PromoMode = "instant"
	PromoModeCashback PromoMode = "cashback"
)

type WalletTransactionType string

const (
	WalletDeposit    WalletTransactionType = "deposit"
	WalletWithdrawal WalletTransactionType = "withdrawal"
)

// Sign applies the type's direction to a positive amount.
func (t WalletTransactionType) Sign(amount decimal.Decimal) decimal.Decimal {
	if t == WalletWithdrawal {
		return amount.Neg()
	}
	return amount
}

type WithdrawalKind string

const (
	WithdrawalSeller      WithdrawalKind = "seller"
	WithdrawalDeliveryBoy WithdrawalKind = "delivery_boy"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)
