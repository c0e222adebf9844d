// Package metrics holds the Prometheus collectors of the toll pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FixesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_fixes_processed_total",
		Help: "Position fixes accepted by the crossing detector",
	})

	FixesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollgate_fixes_rejected_total",
		Help: "Position fixes rejected by the crossing detector, by reason",
	}, []string{"reason"})

	TrackedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tollgate_detector_devices",
		Help: "Devices with state held by the crossing detector",
	})

	CrossingsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_crossings_detected_total",
		Help: "Gantry crossings emitted by the crossing detector",
	})

	TollTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollgate_toll_transitions_total",
		Help: "Toll record status transitions, by target status",
	}, []string{"status"})

	DuplicateCrossings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_duplicate_crossings_total",
		Help: "Crossing events that matched an existing toll record",
	})

	LedgerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollgate_ledger_calls_total",
		Help: "Ledger operations, by operation and outcome",
	}, []string{"op", "outcome"})

	LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tollgate_ledger_call_duration_seconds",
		Help:    "Ledger call latency seen by the settlement engine",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	SettlementQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tollgate_settlement_queue_depth",
		Help: "Crossings and recovered tolls waiting for a settlement worker",
	})
)
