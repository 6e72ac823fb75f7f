package fulfillment

import "marketplace-ledger/internal/models"

var inFlightOrderStatus = map[models.OrderItemStatus]models.OrderStatus{
	models.ItemStatusPending:               models.OrderStatusPending,
	models.ItemStatusAwaitingStoreResponse: models.OrderStatusAwaitingStoreResponse,
	models.ItemStatusAccepted:              models.OrderStatusAccepted,
	models.ItemStatusPreparing:             models.OrderStatusPreparing,
	models.ItemStatusCollected:             models.OrderStatusOutForDelivery,
}

// DeriveOrderStatus projects item statuses onto the order header.
//
// While any item is in flight the order reports the least advanced one.
// Once every item is terminal, a delivered item wins, then an open return,
// then a refund; otherwise all items were dropped and the order takes their
// common status, or cancelled when they differ.
func DeriveOrderStatus(items []models.OrderItem) models.OrderStatus {
	if len(items) == 0 {
		return models.OrderStatusPending
	}

	var least models.OrderItemStatus
	counts := map[models.OrderItemStatus]int{}
	for _, it := range items {
		counts[it.Status]++
		if it.Status.InFlight() && (least == "" || it.Status.Rank() < least.Rank()) {
			least = it.Status
		}
	}

	if least != "" {
		return inFlightOrderStatus[least]
	}

	switch {
	case counts[models.ItemStatusDelivered] > 0:
		return models.OrderStatusDelivered
	case counts[models.ItemStatusReturned] > 0:
		return models.OrderStatusReturned
	case counts[models.ItemStatusRefunded] > 0:
		return models.OrderStatusRefunded
	case counts[models.ItemStatusRejected] == len(items):
		return models.OrderStatusRejected
	case counts[models.ItemStatusFailed] == len(items):
		return models.OrderStatusFailed
	}
	return models.OrderStatusCancelled
}
