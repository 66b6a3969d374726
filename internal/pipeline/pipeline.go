package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/ledger"
	"github.com/emperorhan/atomic-activity/internal/metrics"
	"github.com/emperorhan/atomic-activity/internal/pipeline/classifier"
	"github.com/emperorhan/atomic-activity/internal/pipeline/fetcher"
	"github.com/emperorhan/atomic-activity/internal/pipeline/filter"
	"github.com/emperorhan/atomic-activity/internal/pipeline/normalizer"
	"github.com/emperorhan/atomic-activity/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
)

// Config wires the reconcile stages together.
type Config struct {
	Catalog       ledger.CatalogConfig
	PaymentTokens []string
	Blacklist     []string
	SpamBigrams   []string
}

// Result is the reconciled, filtered and unsorted event set for a scope.
type Result struct {
	RunID         string
	Scope         model.Scope
	Events        []model.NormalizedEvent
	Queries       int
	FailedQueries int
	Duration      time.Duration
}

// Reconciler rebuilds a scope's event set from the ledger:
// fetch -> normalize -> classify/dedup -> filter.
type Reconciler struct {
	fetcher    *fetcher.Fetcher
	normalizer *normalizer.Normalizer
	classifier *classifier.Classifier
	filter     *filter.Filter
	catalog    ledger.CatalogConfig
	health     *Health
	logger     *slog.Logger
}

func NewReconciler(f *fetcher.Fetcher, cfg Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	flt := filter.New(filter.Policy{
		Blacklist:   cfg.Blacklist,
		SpamBigrams: cfg.SpamBigrams,
	}, logger)
	return &Reconciler{
		fetcher:    f,
		normalizer: normalizer.New(logger),
		classifier: classifier.New(cfg.PaymentTokens, logger).WithExclusion(flt.Integrity),
		filter:     flt,
		catalog:    cfg.Catalog,
		health:     NewHealth(),
		logger:     logger.With("component", "reconciler"),
	}
}

// Health exposes the reconciler's upstream health tracker.
func (r *Reconciler) Health() *Health {
	return r.health
}

// Reconcile fetches and reconciles scope. It fails only on an invalid
// scope; upstream failures degrade to a smaller event set.
func (r *Reconciler) Reconcile(ctx context.Context, scope model.Scope) (Result, error) {
	if err := scope.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid scope: %w", err)
	}

	runID := uuid.NewString()
	start := time.Now()
	ctx, span := tracing.Tracer("pipeline").Start(ctx, "pipeline.Reconcile",
		otelTrace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("scope", scope.Key()),
		),
	)
	defer span.End()
	log := r.logger.With("run_id", runID, "scope", scope.Key())

	results := r.fetcher.FetchAll(ctx, ledger.BuildQueries(scope, r.catalog))

	var records []normalizer.Record
	for _, res := range results {
		records = append(records, r.normalizer.Normalize(res.Spec.Name, res.Records)...)
	}

	if scope.AssetID != "" {
		// Cancellations name only their order, so they are found through
		// the listings already fetched.
		ids, authors := r.listingOrders(records)
		follow := r.fetcher.FetchAll(ctx, ledger.CancellationQueries(ids, authors, r.catalog))
		for _, res := range follow {
			records = append(records, r.normalizer.Normalize(res.Spec.Name, res.Records)...)
		}
		results = append(results, follow...)
	}

	candidates := r.classifier.Classify(records, scope.ViewingAddress())
	events := r.filter.WithDateRange(scope.DateRange).Apply(candidates)
	if scope.AssetID != "" {
		events = r.keepAsset(events, strings.TrimSpace(scope.AssetID))
	}

	elapsed := time.Since(start)
	failed := fetcher.Failed(results)
	metrics.ReconcileLatency.Observe(elapsed.Seconds())
	r.health.RecordRun(len(results), failed, elapsed)
	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("events", len(events)),
		attribute.Int("failed_queries", failed),
	)

	log.Info("reconciled scope",
		"queries", len(results),
		"failed_queries", failed,
		"records", len(records),
		"events", len(events),
		"duration", elapsed,
	)

	return Result{
		RunID:         runID,
		Scope:         scope,
		Events:        events,
		Queries:       len(results),
		FailedQueries: failed,
		Duration:      elapsed,
	}, nil
}

// listingOrders returns the order ids and authors of listing records
// (Create-Order not paid in a payment token) in first-seen order.
func (r *Reconciler) listingOrders(records []normalizer.Record) (ids, authors []string) {
	for _, rec := range records {
		if rec.Action != classifier.ActionCreateOrder || r.classifier.IsPaymentToken(rec.AssetID) {
			continue
		}
		id := rec.OrderID
		if id == "" {
			id = rec.Raw.ID
		}
		author := rec.Raw.Owner
		if author == "" {
			author = rec.Sender
		}
		ids = append(ids, id)
		authors = append(authors, author)
	}
	return ids, authors
}

// keepAsset drops events alias resolution attributed to a different asset
// than the one the scope asked for.
func (r *Reconciler) keepAsset(events []model.NormalizedEvent, assetID string) []model.NormalizedEvent {
	out := events[:0]
	for _, ev := range events {
		if ev.AssetID != "" && ev.AssetID != assetID {
			metrics.RecordsDropped.WithLabelValues("scope_mismatch").Inc()
			r.logger.Debug("dropping event for another asset", "event_id", ev.EventID, "asset_id", ev.AssetID)
			continue
		}
		out = append(out, ev)
	}
	return out
}
