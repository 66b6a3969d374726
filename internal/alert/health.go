package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/emperorhan/atomic-activity/internal/pipeline"
)

const sendTimeout = 15 * time.Second

// HealthNotifier returns a pipeline.Health status-change hook that raises
// an alert for the new status. Sends run in the background so a slow
// channel never stalls a reconcile run.
func HealthNotifier(a Alerter, source string, logger *slog.Logger) func(from, to pipeline.HealthStatus) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "health_notifier", "source", source)
	return func(from, to pipeline.HealthStatus) {
		alert, ok := healthAlert(source, from, to)
		if !ok {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := a.Send(ctx, alert); err != nil {
				logger.Debug("health alert send failed", "type", alert.Type, "to", to, "error", err)
			}
		}()
	}
}

func healthAlert(source string, from, to pipeline.HealthStatus) (Alert, bool) {
	fields := map[string]string{"from": string(from), "to": string(to)}
	switch to {
	case pipeline.HealthStatusUnhealthy:
		return Alert{
			Type:    AlertTypeUnhealthy,
			Source:  source,
			Title:   "Ledger queries failing",
			Message: "Every ledger query failed in consecutive reconcile runs; activity views are empty.",
			Fields:  fields,
		}, true
	case pipeline.HealthStatusDegraded:
		if from != pipeline.HealthStatusHealthy {
			return Alert{}, false
		}
		return Alert{
			Type:    AlertTypeDegraded,
			Source:  source,
			Title:   "Reconcile degraded",
			Message: "Some ledger queries failed or latency is above threshold; activity views may be incomplete.",
			Fields:  fields,
		}, true
	case pipeline.HealthStatusHealthy:
		if from != pipeline.HealthStatusUnhealthy && from != pipeline.HealthStatusDegraded {
			return Alert{}, false
		}
		return Alert{
			Type:    AlertTypeRecovery,
			Source:  source,
			Title:   "Reconcile recovered",
			Message: "All ledger queries are succeeding again.",
			Fields:  fields,
		}, true
	default:
		return Alert{}, false
	}
}
