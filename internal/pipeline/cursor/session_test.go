package cursor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReconciler struct {
	mu      sync.Mutex
	byScope map[string][]model.NormalizedEvent
	gates   map[string]chan struct{}
	calls   int
}

func (f *fakeReconciler) Reconcile(ctx context.Context, scope model.Scope) (pipeline.Result, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[scope.Key()]
	events := f.byScope[scope.Key()]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return pipeline.Result{RunID: "run", Scope: scope, Events: events}, nil
}

type countingEnricher struct {
	calls atomic.Int32
}

func (c *countingEnricher) Enrich(_ context.Context, page []model.NormalizedEvent, _ model.SortOrder) model.Page {
	c.calls.Add(1)
	out := make(model.Page, 0, len(page))
	for _, ev := range page {
		out = append(out, model.EnrichedEvent{
			NormalizedEvent: ev,
			Asset:           &model.AssetSummary{ID: ev.AssetID},
		})
	}
	return out
}

func makeEvents(prefix string, n int) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, n)
	for i := 0; i < n; i++ {
		ts := int64(i + 1)
		out = append(out, model.NormalizedEvent{
			EventID:   fmt.Sprintf("%s%d", prefix, i),
			Kind:      model.EventKindListed,
			AssetID:   "A",
			Timestamp: &ts,
		})
	}
	return out
}

func newSession(t *testing.T, byScope map[string][]model.NormalizedEvent, groupCount int) (*Session, *fakeReconciler, *countingEnricher) {
	t.Helper()
	rec := &fakeReconciler{byScope: byScope, gates: map[string]chan struct{}{}}
	enr := &countingEnricher{}
	return New(rec, enr, groupCount, nil), rec, enr
}

var addrScope = model.Scope{Address: "U1"}

func TestSession_NavigationBoundsAreNoOps(t *testing.T) {
	s, _, _ := newSession(t, map[string][]model.NormalizedEvent{addrScope.Key(): makeEvents("e", 5)}, 2)
	require.NoError(t, s.SetScope(context.Background(), addrScope))

	v := s.View(context.Background())
	assert.Equal(t, 0, v.Cursor)
	assert.Equal(t, 3, v.PageCount)
	assert.Equal(t, 5, v.Total)
	assert.False(t, v.HasPrevious)
	assert.True(t, v.HasNext)

	assert.False(t, s.Previous(), "previous at first page")
	assert.True(t, s.Next())
	assert.True(t, s.Next())
	assert.False(t, s.Next(), "next at last page")

	v = s.View(context.Background())
	assert.Equal(t, 2, v.Cursor)
	assert.False(t, v.HasNext)
	assert.True(t, v.HasPrevious)
	require.Len(t, v.Events, 1)
	assert.Equal(t, "e0", v.Events[0].EventID, "default order is new-to-old")
}

func TestSession_EmptyEventSet(t *testing.T) {
	s, _, enr := newSession(t, nil, 50)
	require.NoError(t, s.SetScope(context.Background(), addrScope))

	v := s.View(context.Background())
	assert.Equal(t, 0, v.PageCount)
	assert.Empty(t, v.Events)
	assert.False(t, s.Next())
	assert.False(t, s.Previous())
	assert.Zero(t, enr.calls.Load())
}

func TestSession_EnrichmentCachedUntilInvalidated(t *testing.T) {
	s, _, enr := newSession(t, map[string][]model.NormalizedEvent{addrScope.Key(): makeEvents("e", 4)}, 2)
	require.NoError(t, s.SetScope(context.Background(), addrScope))

	s.View(context.Background())
	v := s.View(context.Background())
	assert.Equal(t, int32(1), enr.calls.Load())
	require.NotNil(t, v.Events[0].Asset)

	s.Next()
	s.View(context.Background())
	assert.Equal(t, int32(2), enr.calls.Load())

	s.Next() // boundary no-op keeps the cache
	s.View(context.Background())
	assert.Equal(t, int32(2), enr.calls.Load())
}

func TestSession_SortOrderChangeResetsCursor(t *testing.T) {
	s, _, enr := newSession(t, map[string][]model.NormalizedEvent{addrScope.Key(): makeEvents("e", 4)}, 2)
	require.NoError(t, s.SetScope(context.Background(), addrScope))
	s.Next()
	s.View(context.Background())

	s.SetSortOrder(model.SortOldToNew)

	v := s.View(context.Background())
	assert.Equal(t, 0, v.Cursor)
	assert.Equal(t, model.SortOldToNew, v.SortOrder)
	assert.Equal(t, "e0", v.Events[0].EventID)
	assert.Equal(t, int32(2), enr.calls.Load())

	s.Next()
	s.SetSortOrder(model.SortOldToNew)
	assert.Equal(t, 1, s.View(context.Background()).Cursor, "same order is a no-op")
}

func TestSession_ScopeChangeResetsCursor(t *testing.T) {
	other := model.Scope{AssetID: "ASSET"}
	s, _, _ := newSession(t, map[string][]model.NormalizedEvent{
		addrScope.Key(): makeEvents("u", 6),
		other.Key():     makeEvents("a", 1),
	}, 2)
	require.NoError(t, s.SetScope(context.Background(), addrScope))
	s.Next()

	require.NoError(t, s.SetScope(context.Background(), other))

	v := s.View(context.Background())
	assert.Equal(t, 0, v.Cursor)
	assert.Equal(t, 1, v.Total)
	assert.Equal(t, "a0", v.Events[0].EventID)
	assert.Equal(t, other, s.Scope())
}

func TestSession_StaleResultDiscarded(t *testing.T) {
	slow := model.Scope{Address: "SLOW"}
	fast := model.Scope{Address: "FAST"}
	s, rec, _ := newSession(t, map[string][]model.NormalizedEvent{
		slow.Key(): makeEvents("slow", 3),
		fast.Key(): makeEvents("fast", 1),
	}, 50)
	gate := make(chan struct{})
	rec.gates[slow.Key()] = gate

	errCh := make(chan error, 1)
	go func() { errCh <- s.SetScope(context.Background(), slow) }()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.calls == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.SetScope(context.Background(), fast))
	close(gate)

	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	v := s.View(context.Background())
	assert.Equal(t, 1, v.Total)
	assert.Equal(t, "fast0", v.Events[0].EventID)
	assert.Equal(t, fast, s.Scope())
}

func TestSession_InvalidScopeRejected(t *testing.T) {
	s, rec, _ := newSession(t, nil, 50)
	require.Error(t, s.SetScope(context.Background(), model.Scope{}))
	assert.Zero(t, rec.calls)
	require.Error(t, s.Refresh(context.Background()), "no scope yet")
}

func TestSession_Refresh(t *testing.T) {
	s, rec, _ := newSession(t, map[string][]model.NormalizedEvent{addrScope.Key(): makeEvents("e", 3)}, 1)
	require.NoError(t, s.SetScope(context.Background(), addrScope))
	s.Next()

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 2, rec.calls)
	assert.Equal(t, 0, s.View(context.Background()).Cursor)
}

func TestSession_NilEnricherWrapsEvents(t *testing.T) {
	rec := &fakeReconciler{byScope: map[string][]model.NormalizedEvent{addrScope.Key(): makeEvents("e", 2)}}
	s := New(rec, nil, 0, nil)
	require.NoError(t, s.SetScope(context.Background(), addrScope))

	v := s.View(context.Background())
	require.Len(t, v.Events, 2)
	assert.Nil(t, v.Events[0].Asset)
}
