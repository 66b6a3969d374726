package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllVariablesNonNil(t *testing.T) {
	t.Parallel()

	vars := []struct {
		name string
		val  any
	}{
		{"LedgerQueriesTotal", LedgerQueriesTotal},
		{"LedgerQueryErrors", LedgerQueryErrors},
		{"LedgerQueryLatency", LedgerQueryLatency},
		{"LedgerRecordsFetched", LedgerRecordsFetched},
		{"UpstreamCallsTotal", UpstreamCallsTotal},
		{"UpstreamRateLimitWaits", UpstreamRateLimitWaits},
		{"EventsClassified", EventsClassified},
		{"RecordsDropped", RecordsDropped},
		{"ReconcileLatency", ReconcileLatency},
		{"EnrichmentLookups", EnrichmentLookups},
		{"LookupCacheHits", LookupCacheHits},
		{"CircuitBreakerState", CircuitBreakerState},
		{"SessionsActive", SessionsActive},
		{"StaleResultsDiscarded", StaleResultsDiscarded},
	}

	for _, v := range vars {
		assert.NotNilf(t, v.val, "%s should not be nil", v.name)
	}
}

func TestMetrics_RecordNoPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { LedgerQueriesTotal.WithLabelValues("orders.primary").Inc() })
	assert.NotPanics(t, func() { LedgerQueryErrors.WithLabelValues("orders.primary", "transient").Inc() })
	assert.NotPanics(t, func() { LedgerQueryLatency.WithLabelValues("orders.primary").Observe(0.3) })
	assert.NotPanics(t, func() { LedgerRecordsFetched.WithLabelValues("orders.primary").Add(3) })
	assert.NotPanics(t, func() { UpstreamCallsTotal.WithLabelValues("ledger", "transactions", "ok").Inc() })
	assert.NotPanics(t, func() { UpstreamRateLimitWaits.WithLabelValues("ledger").Inc() })
	assert.NotPanics(t, func() { EventsClassified.WithLabelValues("LISTED").Inc() })
	assert.NotPanics(t, func() { RecordsDropped.WithLabelValues("blacklisted").Inc() })
	assert.NotPanics(t, func() { ReconcileLatency.Observe(1.2) })
	assert.NotPanics(t, func() { EnrichmentLookups.WithLabelValues("profiles", "ok").Inc() })
	assert.NotPanics(t, func() { LookupCacheHits.WithLabelValues("assets").Add(2) })
	assert.NotPanics(t, func() { CircuitBreakerState.WithLabelValues("ledger").Set(1) })
	assert.NotPanics(t, func() { SessionsActive.Inc() })
	assert.NotPanics(t, func() { StaleResultsDiscarded.Inc() })
}
