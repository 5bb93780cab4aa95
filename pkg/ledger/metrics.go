package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_orders_placed_total",
			Help: "Orders placed, by resulting status.",
		},
		[]string{"status"},
	)

	checkoutFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_checkout_failures_total",
			Help: "Rejected or failed checkouts, by error code.",
		},
		[]string{"code"},
	)

	ledgerAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_ledger_amount_total",
			Help: "Money moved through the ledger, by movement kind.",
		},
		[]string{"kind"},
	)
)
