package cursor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/metrics"
	"github.com/emperorhan/atomic-activity/internal/pipeline"
	"github.com/emperorhan/atomic-activity/internal/pipeline/aggregator"
)

// ErrSuperseded is returned by SetScope when a newer scope change started
// before this one finished; its result was discarded.
var ErrSuperseded = errors.New("scope change superseded by a newer one")

type Reconciler interface {
	Reconcile(ctx context.Context, scope model.Scope) (pipeline.Result, error)
}

type Enricher interface {
	Enrich(ctx context.Context, page []model.NormalizedEvent, sortHint model.SortOrder) model.Page
}

// Session is a stateful cursor over one reconciled event set.
//
// Two counters guard against stale writes. generation advances on every
// scope change and gates committing a reconcile result; epoch advances on
// every change to the visible page and gates caching its enrichment. All
// I/O runs outside the lock.
type Session struct {
	reconciler Reconciler
	enricher   Enricher
	groupCount int
	logger     *slog.Logger

	mu         sync.Mutex
	scope      model.Scope
	loaded     bool
	sortOrder  model.SortOrder
	events     []model.NormalizedEvent
	pages      [][]model.NormalizedEvent
	cursor     int
	generation uint64
	epoch      uint64
	enriched   model.Page
	hasCache   bool
}

func New(reconciler Reconciler, enricher Enricher, groupCount int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if groupCount <= 0 {
		groupCount = aggregator.DefaultGroupCount
	}
	return &Session{
		reconciler: reconciler,
		enricher:   enricher,
		groupCount: groupCount,
		sortOrder:  model.SortNewToOld,
		logger:     logger.With("component", "cursor"),
	}
}

// SetScope reconciles scope and, unless a newer SetScope started in the
// meantime, replaces the event set and resets the cursor.
func (s *Session) SetScope(ctx context.Context, scope model.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	res, err := s.reconciler.Reconcile(ctx, scope)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		metrics.StaleResultsDiscarded.Inc()
		s.logger.Info("discarding stale reconcile result",
			"scope", scope.Key(),
			"run_id", res.RunID,
			"generation", gen,
			"current_generation", s.generation,
		)
		return ErrSuperseded
	}

	s.scope = scope
	s.loaded = true
	s.events = aggregator.Sort(res.Events, s.sortOrder)
	s.regroupLocked()
	return nil
}

// Refresh re-fetches the current scope.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	scope, loaded := s.scope, s.loaded
	s.mu.Unlock()
	if !loaded {
		return errors.New("session has no scope")
	}
	return s.SetScope(ctx, scope)
}

// SetSortOrder re-sorts the held event set. Choosing the current order is
// a no-op; any other order resets the cursor.
func (s *Session) SetSortOrder(order model.SortOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order == s.sortOrder {
		return
	}
	s.sortOrder = order
	s.events = aggregator.Sort(s.events, order)
	s.regroupLocked()
}

// Next advances the cursor and reports whether it moved. At the last page
// it is a no-op.
func (s *Session) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor+1 >= len(s.pages) {
		return false
	}
	s.cursor++
	s.invalidateLocked()
	return true
}

// Previous moves the cursor back and reports whether it moved. At the
// first page it is a no-op.
func (s *Session) Previous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor <= 0 {
		return false
	}
	s.cursor--
	s.invalidateLocked()
	return true
}

// Scope returns the committed scope.
func (s *Session) Scope() model.Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// View returns the current page, enriching it on first access after any
// change. Enrichment failures leave summaries unset.
func (s *Session) View(ctx context.Context) model.View {
	s.mu.Lock()
	view := s.viewLocked()
	if s.hasCache {
		view.Events = s.enriched
		s.mu.Unlock()
		return view
	}
	var page []model.NormalizedEvent
	if s.cursor < len(s.pages) {
		page = s.pages[s.cursor]
	}
	epoch, order := s.epoch, s.sortOrder
	s.mu.Unlock()

	enriched := s.enrich(ctx, page, order)

	s.mu.Lock()
	if epoch == s.epoch {
		s.enriched = enriched
		s.hasCache = true
	}
	s.mu.Unlock()

	view.Events = enriched
	return view
}

func (s *Session) enrich(ctx context.Context, page []model.NormalizedEvent, order model.SortOrder) model.Page {
	if len(page) == 0 {
		return model.Page{}
	}
	if s.enricher == nil {
		out := make(model.Page, 0, len(page))
		for _, ev := range page {
			out = append(out, model.EnrichedEvent{NormalizedEvent: ev})
		}
		return out
	}
	return s.enricher.Enrich(ctx, page, order)
}

func (s *Session) viewLocked() model.View {
	return model.View{
		Cursor:      s.cursor,
		PageCount:   len(s.pages),
		Total:       len(s.events),
		SortOrder:   s.sortOrder,
		HasNext:     s.cursor+1 < len(s.pages),
		HasPrevious: s.cursor > 0,
	}
}

func (s *Session) regroupLocked() {
	s.pages = aggregator.Group(s.events, s.groupCount)
	s.cursor = 0
	s.invalidateLocked()
}

func (s *Session) invalidateLocked() {
	s.epoch++
	s.enriched = nil
	s.hasCache = false
}
