package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/ledger"
	"github.com/emperorhan/atomic-activity/internal/metrics"
	"github.com/emperorhan/atomic-activity/internal/pipeline/retry"
	"github.com/emperorhan/atomic-activity/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers      = 6
	defaultQueryTimeout = 30 * time.Second
)

// Result is the outcome of one catalog query. A failed query has Err set
// and no records; the remaining queries are unaffected.
type Result struct {
	Spec     ledger.QuerySpec
	Records  []model.RawRecord
	Err      error
	Duration time.Duration
}

// Fetcher fans a query set out to the ledger and joins the results.
type Fetcher struct {
	querier      ledger.Querier
	workerCount  int
	queryTimeout time.Duration
	logger       *slog.Logger
}

type Option func(*Fetcher)

func WithWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.workerCount = n
		}
	}
}

// WithQueryTimeout bounds each query, including its pages and retries.
func WithQueryTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.queryTimeout = d
		}
	}
}

func New(querier ledger.Querier, logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		querier:      querier,
		workerCount:  defaultWorkers,
		queryTimeout: defaultQueryTimeout,
		logger:       logger.With("component", "fetcher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// FetchAll issues every query concurrently and returns one Result per query
// in input order. It never fails: a query error or timeout degrades to an
// empty Result for that query only.
func (f *Fetcher) FetchAll(ctx context.Context, specs []ledger.QuerySpec) []Result {
	results := make([]Result, len(specs))

	// Each goroutine writes only its own slot; the group is a join, not a
	// fail-fast, so no worker returns an error.
	var g errgroup.Group
	g.SetLimit(f.workerCount)
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = f.fetchOne(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, spec ledger.QuerySpec) Result {
	spanCtx, span := tracing.Tracer("fetcher").Start(ctx, "fetcher.query",
		otelTrace.WithAttributes(
			attribute.String("query", spec.Name),
			attribute.String("category", string(spec.Category)),
		),
	)
	defer span.End()

	queryCtx, cancel := context.WithTimeout(spanCtx, f.queryTimeout)
	defer cancel()

	start := time.Now()
	metrics.LedgerQueriesTotal.WithLabelValues(spec.Name).Inc()
	records, err := f.querier.Query(queryCtx, spec)
	elapsed := time.Since(start)
	metrics.LedgerQueryLatency.WithLabelValues(spec.Name).Observe(elapsed.Seconds())

	if err != nil {
		class := failureClass(err)
		metrics.LedgerQueryErrors.WithLabelValues(spec.Name, class).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.logger.Warn("ledger query failed, continuing with empty result",
			"query", spec.Name,
			"class", class,
			"duration", elapsed,
			"error", err,
		)
		return Result{Spec: spec, Err: err, Duration: elapsed}
	}

	metrics.LedgerRecordsFetched.WithLabelValues(spec.Name).Add(float64(len(records)))
	span.SetAttributes(attribute.Int("records", len(records)))
	return Result{Spec: spec, Records: records, Duration: elapsed}
}

func failureClass(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ledger.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ledger.ErrTransport):
		return "transport"
	}
	return string(retry.Classify(err).Class)
}

// Failed reports how many results carry an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
