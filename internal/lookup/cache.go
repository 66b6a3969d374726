package lookup

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/emperorhan/atomic-activity/internal/cache"
	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/metrics"
)

// SharedCache is a cross-process byte cache, such as the Redis store.
type SharedCache interface {
	GetMany(ctx context.Context, ids []string) (map[string][]byte, error)
	PutMany(ctx context.Context, values map[string][]byte) error
}

type profileSource interface {
	ResolveProfiles(ctx context.Context, addresses []string) ([]model.ProfileSummary, error)
}

type assetSource interface {
	ResolveAssets(ctx context.Context, ids []string, sortHint model.SortOrder) ([]model.AssetSummary, error)
}

// tiered resolves ids through an in-process LRU, then an optional shared
// cache, then the upstream service. Only resolved summaries are cached; a
// miss is asked again next time.
type tiered[T any] struct {
	service string
	local   *cache.LRU[string, T]
	shared  SharedCache
	idOf    func(T) string
	logger  *slog.Logger
}

func newTiered[T any](service string, size int, ttl time.Duration, shared SharedCache, idOf func(T) string, logger *slog.Logger) tiered[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return tiered[T]{
		service: service,
		local:   cache.NewLRU[string, T](size, ttl),
		shared:  shared,
		idOf:    idOf,
		logger:  logger.With("component", service+"_cache"),
	}
}

// resolve returns the summaries for ids in id order. On an upstream error
// the cached subset is returned together with the error.
func (t *tiered[T]) resolve(ctx context.Context, ids []string, fetch func(ctx context.Context, missing []string) ([]T, error)) ([]T, error) {
	found, missing := t.local.GetMany(ids)
	if hits := len(ids) - len(missing); hits > 0 {
		metrics.LookupCacheHits.WithLabelValues(t.service).Add(float64(hits))
	}

	if len(missing) > 0 && t.shared != nil {
		missing = t.fromShared(ctx, missing, found)
	}

	var fetchErr error
	if len(missing) > 0 {
		fetched, err := fetch(ctx, missing)
		if err != nil {
			fetchErr = err
		} else {
			t.store(ctx, fetched, found)
		}
	}

	out := make([]T, 0, len(found))
	for _, id := range ids {
		if v, ok := found[id]; ok {
			out = append(out, v)
		}
	}
	return out, fetchErr
}

func (t *tiered[T]) fromShared(ctx context.Context, missing []string, found map[string]T) []string {
	raw, err := t.shared.GetMany(ctx, missing)
	if err != nil {
		t.logger.Warn("shared cache read failed", "ids", len(missing), "error", err)
		return missing
	}
	still := missing[:0:0]
	for _, id := range missing {
		b, ok := raw[id]
		if !ok {
			still = append(still, id)
			continue
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			t.logger.Debug("dropping undecodable shared cache entry", "id", id, "error", err)
			still = append(still, id)
			continue
		}
		found[id] = v
		t.local.Put(id, v)
	}
	if hits := len(missing) - len(still); hits > 0 {
		metrics.LookupCacheHits.WithLabelValues(t.service + "_shared").Add(float64(hits))
	}
	return still
}

func (t *tiered[T]) store(ctx context.Context, fetched []T, found map[string]T) {
	var encoded map[string][]byte
	if t.shared != nil {
		encoded = make(map[string][]byte, len(fetched))
	}
	for _, v := range fetched {
		id := t.idOf(v)
		if id == "" {
			continue
		}
		found[id] = v
		t.local.Put(id, v)
		if encoded != nil {
			if b, err := json.Marshal(v); err == nil {
				encoded[id] = b
			}
		}
	}
	if len(encoded) > 0 {
		if err := t.shared.PutMany(ctx, encoded); err != nil {
			t.logger.Warn("shared cache write failed", "ids", len(encoded), "error", err)
		}
	}
}

// CachedProfiles decorates a profile source with caching keyed by wallet
// address.
type CachedProfiles struct {
	source profileSource
	tiered[model.ProfileSummary]
}

func NewCachedProfiles(source profileSource, size int, ttl time.Duration, shared SharedCache, logger *slog.Logger) *CachedProfiles {
	return &CachedProfiles{
		source: source,
		tiered: newTiered("profiles", size, ttl, shared,
			func(p model.ProfileSummary) string { return p.WalletAddress }, logger),
	}
}

func (c *CachedProfiles) ResolveProfiles(ctx context.Context, addresses []string) ([]model.ProfileSummary, error) {
	return c.resolve(ctx, addresses, c.source.ResolveProfiles)
}

// CachedAssets decorates an asset source with caching keyed by asset id.
// The sort hint only affects the upstream request, never the cache key.
type CachedAssets struct {
	source assetSource
	tiered[model.AssetSummary]
}

func NewCachedAssets(source assetSource, size int, ttl time.Duration, shared SharedCache, logger *slog.Logger) *CachedAssets {
	return &CachedAssets{
		source: source,
		tiered: newTiered("assets", size, ttl, shared,
			func(a model.AssetSummary) string { return a.ID }, logger),
	}
}

func (c *CachedAssets) ResolveAssets(ctx context.Context, ids []string, sortHint model.SortOrder) ([]model.AssetSummary, error) {
	return c.resolve(ctx, ids, func(ctx context.Context, missing []string) ([]model.AssetSummary, error) {
		return c.source.ResolveAssets(ctx, missing, sortHint)
	})
}
