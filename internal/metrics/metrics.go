package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation stage counters and histograms.

var (
	// Ledger query layer, partitioned by query name (e.g. "orders.primary").
	LedgerQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "ledger",
		Name:      "queries_total",
		Help:      "Total ledger queries issued",
	}, []string{"query"})

	LedgerQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "ledger",
		Name:      "query_errors_total",
		Help:      "Ledger queries degraded to an empty result, by failure class",
	}, []string{"query", "class"})

	LedgerQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activity",
		Subsystem: "ledger",
		Name:      "query_duration_seconds",
		Help:      "Ledger query duration including pagination and retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"query"})

	LedgerRecordsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "ledger",
		Name:      "records_fetched_total",
		Help:      "Raw ledger records returned by the query service",
	}, []string{"query"})

	// Upstream HTTP calls (ledger gateway, profile and asset lookups)
	UpstreamCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "upstream",
		Name:      "calls_total",
		Help:      "Upstream HTTP calls by upstream, operation and status class",
	}, []string{"upstream", "operation", "status"})

	UpstreamRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "upstream",
		Name:      "rate_limit_waits_total",
		Help:      "Upstream requests delayed by the client-side rate limiter",
	}, []string{"upstream"})

	// Classifier / filter
	EventsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "classifier",
		Name:      "events_total",
		Help:      "Normalized events produced, by kind",
	}, []string{"kind"})

	RecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "pipeline",
		Name:      "records_dropped_total",
		Help:      "Records or events removed during reconciliation, by reason",
	}, []string{"reason"})

	ReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "activity",
		Subsystem: "pipeline",
		Name:      "reconcile_duration_seconds",
		Help:      "End-to-end reconciliation duration for one scope",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// Enrichment
	EnrichmentLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "enrichment",
		Name:      "lookups_total",
		Help:      "Companion lookup batches, by service and outcome",
	}, []string{"service", "outcome"})

	LookupCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "enrichment",
		Name:      "cache_hits_total",
		Help:      "Summary ids served from cache, by service",
	}, []string{"service"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "activity",
		Subsystem: "upstream",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per upstream (0=closed, 1=open, 2=half-open)",
	}, []string{"upstream"})

	// Sessions
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Cursor sessions currently held in memory",
	})

	StaleResultsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "sessions",
		Name:      "stale_results_discarded_total",
		Help:      "Reconcile results dropped because the session scope changed in flight",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
