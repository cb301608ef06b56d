package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Checkout finalization attempts by outcome",
	}, []string{"outcome"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_finalize_latency_seconds",
		Help:    "Latency of checkout finalization, backoff included",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 10, 15},
	})

	PersistAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_persist_attempts_total",
		Help: "Order insert attempts by result",
	}, []string{"result"})

	InventoryAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_adjustments_total",
		Help: "Applied inventory history entries by action",
	}, []string{"action"})

	InventoryConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_version_conflicts_total",
		Help: "Inventory compare-and-swap conflicts that forced a re-read",
	})

	InventoryDiscrepanciesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_discrepancies_total",
		Help: "Post-payment decrements that could not be applied",
	})

	CouponValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_validations_total",
		Help: "Coupon validations by result",
	}, []string{"result"})

	CouponRedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_redemptions_total",
		Help: "Coupon redemptions by result",
	}, []string{"result"})

	DegradedPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "degraded_checkouts_pending",
		Help: "Degraded checkouts waiting in the side log",
	})

	ReconciliationMissingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_missing_orders_total",
		Help: "Captured payments found without an order",
	})

	OrdersRecoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_recovered_total",
		Help: "Orders created outside the checkout path, by source",
	}, []string{"source"})

	PaymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Gateway payment facts recorded, by status",
	}, []string{"status"})

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
