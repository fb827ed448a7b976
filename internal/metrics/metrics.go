package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_events_ingested_total",
		Help: "Total number of events popped from the inbound queue.",
	})

	EventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_events_malformed_total",
		Help: "Total number of inbound messages dropped as unparseable.",
	})

	EventsLate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_events_late_total",
		Help: "Total number of events admitted past the window grace period.",
	})

	WindowsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_windows_closed_total",
		Help: "Total number of correlation windows handed to the correlator.",
	})

	CandidatesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetwatch_candidates_total",
		Help: "Total number of incident candidates, labelled by suppression decision.",
	}, []string{"decision"})

	IncidentsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_incidents_open",
		Help: "Number of incidents currently open or acknowledged.",
	})

	RegistryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_registry_failures_total",
		Help: "Total number of asset-registry lookups that failed or timed out.",
	})

	EnrichmentResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetwatch_enrichment_total",
		Help: "Total number of enrichment calls, labelled by outcome.",
	}, []string{"outcome"})

	IntegrityWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_integrity_warnings_total",
		Help: "Total number of tolerated state-integrity violations.",
	})

	EmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetwatch_window_emit_seconds",
		Help:    "Time spent correlating and dispatching one closed window.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)
