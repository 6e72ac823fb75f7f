package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of order placements rejected",
	}, []string{"reason"})

	ItemTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_item_transitions_total",
		Help: "Applied order item status transitions",
	}, []string{"from", "to"})

	ItemTransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_item_transitions_rejected_total",
		Help: "Order item transitions refused by rule",
	}, []string{"reason"})

	StockMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_movements_total",
		Help: "Stock mutations by direction",
	}, []string{"direction"})

	StockMutationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_mutation_latency_seconds",
		Help:    "Latency of standalone stock adjustments",
		Buckets: prometheus.DefBuckets,
	})

	WalletEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_entries_total",
		Help: "Wallet ledger rows appended by type",
	}, []string{"type"})

	WithdrawalsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawals_processed_total",
		Help: "Withdrawal requests processed by outcome",
	}, []string{"status"})

	PromoRedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_redemptions_total",
		Help: "Promo codes recorded against orders",
	})

	ReturnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "returns_transitions_total",
		Help: "Return status changes by target status",
	}, []string{"status"})

	CashbackProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashback_processed_total",
		Help: "Orders whose cashback was credited",
	})

	CashbackFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashback_failed_total",
		Help: "Orders whose cashback credit failed",
	})

	CashbackRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cashback_run_duration_seconds",
		Help:    "Duration of cashback sweeper runs",
		Buckets: prometheus.DefBuckets,
	})

	EventsPublishFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_publish_failed_total",
		Help: "Domain events that could not be published",
	}, []string{"type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
