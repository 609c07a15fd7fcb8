package metrics

import (
	"time"

	"github.com/keywheel/keywheel/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Credential pool metrics
	SelectionsTotal      = "keywheel_selections_total"
	ConfirmedTokensTotal = "keywheel_confirmed_tokens_total"
	FailuresTotal        = "keywheel_failures_total"
	PoolActive           = "keywheel_pool_active_credentials"
	PoolEligible         = "keywheel_pool_eligible_credentials"
	JournalWriteErrors   = "keywheel_journal_write_errors_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
)

// Selection outcomes.
const (
	OutcomeSelected  = "selected"
	OutcomeExhausted = "exhausted"
)

// RecordSelection counts a selection attempt by outcome.
func RecordSelection(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SelectionsTotal,
			1,
			map[string]string{
				"outcome": outcome,
			},
		)
	}
}

// RecordConfirmedTokens adds confirmed token usage for a credential name.
func RecordConfirmedTokens(credential string, tokens int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ConfirmedTokensTotal,
			float64(tokens),
			map[string]string{
				"credential": credential,
			},
		)
	}
}

// RecordFailure counts a failure report for a credential name and kind.
func RecordFailure(credential string, kind string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			FailuresTotal,
			1,
			map[string]string{
				"credential": credential,
				"kind":       kind,
			},
		)
	}
}

// SetPoolGauges publishes the current active and eligible credential counts.
func SetPoolGauges(active, eligible int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(PoolActive, float64(active), nil)
		_ = observability.TelemetrySystem.Gauge(PoolEligible, float64(eligible), nil)
	}
}

// RecordJournalWriteError counts a usage journal write that was dropped.
func RecordJournalWriteError(kind string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			JournalWriteErrors,
			1,
			map[string]string{
				"kind": kind,
			},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
