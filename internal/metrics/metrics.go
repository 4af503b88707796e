// Package metrics provides Prometheus metrics for the sync core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncsTotal tracks sync runs by vendor, trigger and outcome status
	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsync",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of device sync runs by status",
		},
		[]string{"vendor", "trigger", "status"},
	)

	// SyncDuration tracks sync run duration in seconds
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "healthsync",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of device sync runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"vendor"},
	)

	// SyncsInFlight tracks syncs currently running
	SyncsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "healthsync",
			Subsystem: "sync",
			Name:      "in_flight",
			Help:      "Number of device syncs currently running",
		},
	)

	// RecordsTotal tracks records handled per outcome (added, updated, failed)
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsync",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Total number of metric records by outcome",
		},
		[]string{"vendor", "outcome"},
	)

	// AdapterCallsTotal tracks vendor adapter calls by error kind ("ok" on success)
	AdapterCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsync",
			Subsystem: "adapter",
			Name:      "calls_total",
			Help:      "Total number of vendor adapter calls by result",
		},
		[]string{"vendor", "result"},
	)

	// PushesTotal tracks manual readings written back to devices
	PushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsync",
			Subsystem: "adapter",
			Name:      "pushes_total",
			Help:      "Total number of push batches by vendor and result",
		},
		[]string{"vendor", "result"},
	)

	// RetriesTotal tracks retried adapter calls
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsync",
			Subsystem: "adapter",
			Name:      "retries_total",
			Help:      "Total number of retried vendor adapter calls by error kind",
		},
		[]string{"vendor", "kind"},
	)

	// ConflictsTotal tracks resolved conflicts by type and policy
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsync",
			Subsystem: "resolver",
			Name:      "conflicts_total",
			Help:      "Total number of resolved conflicts by type and policy",
		},
		[]string{"type", "policy"},
	)

	// AttentionAlertsTotal tracks alerts raised for repeatedly failing devices
	AttentionAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsync",
			Subsystem: "sync",
			Name:      "attention_alerts_total",
			Help:      "Total number of needs-attention alerts raised",
		},
		[]string{"vendor"},
	)

	// CorrelationsComputed tracks correlation analyses by type and cache result
	CorrelationsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsync",
			Subsystem: "correlation",
			Name:      "analyses_total",
			Help:      "Total number of correlation analyses served by type and source",
		},
		[]string{"type", "source"},
	)
)
