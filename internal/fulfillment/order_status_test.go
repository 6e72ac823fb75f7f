package fulfillment

import (
	"testing"

	"marketplace-ledger/internal/models"

	"github.com/stretchr/testify/assert"
)

func items(statuses ...models.OrderItemStatus) []models.OrderItem {
	out := make([]models.OrderItem, len(statuses))
	for i, s := range statuses {
		out[i] = models.OrderItem{Status: s}
	}
	return out
}

func TestDeriveOrderStatus(t *testing.T) {
	tests := []struct {
		name  string
		items []models.OrderItem
		want  models.OrderStatus
	}{
		{"empty", nil, models.OrderStatusPending},
		{"least advanced in flight wins", items(models.ItemStatusPreparing, models.ItemStatusAccepted), models.OrderStatusAccepted},
		{"collected is out for delivery", items(models.ItemStatusCollected, models.ItemStatusDelivered), models.OrderStatusOutForDelivery},
		{"in flight beats terminal", items(models.ItemStatusCancelled, models.ItemStatusAwaitingStoreResponse), models.OrderStatusAwaitingStoreResponse},
		{"partial delivery is delivered", items(models.ItemStatusDelivered, models.ItemStatusRejected), models.OrderStatusDelivered},
		{"returned", items(models.ItemStatusReturned, models.ItemStatusCancelled), models.OrderStatusReturned},
		{"refunded", items(models.ItemStatusRefunded), models.OrderStatusRefunded},
		{"all rejected", items(models.ItemStatusRejected, models.ItemStatusRejected), models.OrderStatusRejected},
		{"all failed", items(models.ItemStatusFailed), models.OrderStatusFailed},
		{"mixed drops are cancelled", items(models.ItemStatusRejected, models.ItemStatusFailed), models.OrderStatusCancelled},
		{"all cancelled", items(models.ItemStatusCancelled), models.OrderStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveOrderStatus(tt.items))
		})
	}
}
