package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Order metrics
	OrderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_order_transitions_total",
			Help: "Total number of committed order transitions",
		},
		[]string{"action"}, // create, fill, revert, settle
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_rejections_total",
			Help: "Total number of rejected ledger calls by error class",
		},
		[]string{"action", "class"},
	)

	RouteOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_route_outcomes_total",
			Help: "Fill disbursement outcomes",
		},
		[]string{"route", "outcome"}, // direct|swap|call, success|fallback
	)

	// Fee metrics
	FeesAccruedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_fees_accrued_total",
			Help: "Fees accrued in stablecoin base units",
		},
		[]string{"kind"}, // base, bps, insurance
	)

	// Liquidity metrics
	AvailableAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_available_assets",
			Help: "Available liquidity after the last committed call, in base units",
		},
	)

	TotalStakedAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_total_staked_assets",
			Help: "Total staked assets, in base units",
		},
	)

	// Price guard metrics
	PriceChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_price_checks_total",
			Help: "Price guard verifications by result",
		},
		[]string{"result"},
	)

	EventPublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_event_publish_failures_total",
			Help: "Event batches that could not be delivered to the sink",
		},
	)
)
