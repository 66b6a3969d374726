package aggregator

import (
	"context"
	"log/slog"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/metrics"
	"github.com/emperorhan/atomic-activity/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ProfileResolver batch-resolves wallet addresses. Partial results are
// allowed.
type ProfileResolver interface {
	ResolveProfiles(ctx context.Context, addresses []string) ([]model.ProfileSummary, error)
}

// AssetResolver batch-resolves asset ids. Partial results are allowed.
type AssetResolver interface {
	ResolveAssets(ctx context.Context, ids []string, sortHint model.SortOrder) ([]model.AssetSummary, error)
}

// Enricher attaches profile and asset summaries to one page.
type Enricher struct {
	profiles ProfileResolver
	assets   AssetResolver
	logger   *slog.Logger
}

func NewEnricher(profiles ProfileResolver, assets AssetResolver, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		profiles: profiles,
		assets:   assets,
		logger:   logger.With("component", "enricher"),
	}
}

// Enrich resolves the distinct parties and assets of page and attaches the
// summaries by id. The two batches run concurrently and are both awaited.
// A failed batch leaves the fields it could not resolve nil; Enrich itself
// never fails.
func (e *Enricher) Enrich(ctx context.Context, page []model.NormalizedEvent, sortHint model.SortOrder) model.Page {
	ctx, span := tracing.Tracer("aggregator").Start(ctx, "aggregator.Enrich",
		otelTrace.WithAttributes(attribute.Int("events", len(page))),
	)
	defer span.End()

	addresses, assetIDs := collectIDs(page)

	var (
		profiles map[string]model.ProfileSummary
		assets   map[string]model.AssetSummary
	)

	var g errgroup.Group
	g.Go(func() error {
		profiles = e.resolveProfiles(ctx, addresses)
		return nil
	})
	g.Go(func() error {
		assets = e.resolveAssets(ctx, assetIDs, sortHint)
		return nil
	})
	_ = g.Wait()

	out := make(model.Page, 0, len(page))
	for _, ev := range page {
		enriched := model.EnrichedEvent{NormalizedEvent: ev}
		if p, ok := profiles[ev.Sender]; ok && ev.Sender != "" {
			enriched.SenderProfile = &p
		}
		if p, ok := profiles[ev.Receiver]; ok && ev.Receiver != "" {
			enriched.ReceiverProfile = &p
		}
		if a, ok := assets[ev.AssetID]; ok && ev.AssetID != "" {
			enriched.Asset = &a
		}
		out = append(out, enriched)
	}
	return out
}

func (e *Enricher) resolveProfiles(ctx context.Context, addresses []string) map[string]model.ProfileSummary {
	if len(addresses) == 0 || e.profiles == nil {
		return nil
	}
	found, err := e.profiles.ResolveProfiles(ctx, addresses)
	if err != nil {
		// Partial results (e.g. cache hits) are still attached.
		metrics.EnrichmentLookups.WithLabelValues("profiles", "error").Inc()
		e.logger.Warn("profile lookup failed, page left unenriched", "addresses", len(addresses), "resolved", len(found), "error", err)
	} else {
		metrics.EnrichmentLookups.WithLabelValues("profiles", "ok").Inc()
	}

	byAddr := make(map[string]model.ProfileSummary, len(found))
	for _, p := range found {
		if p.WalletAddress != "" {
			byAddr[p.WalletAddress] = p
		}
	}
	return byAddr
}

func (e *Enricher) resolveAssets(ctx context.Context, ids []string, sortHint model.SortOrder) map[string]model.AssetSummary {
	if len(ids) == 0 || e.assets == nil {
		return nil
	}
	found, err := e.assets.ResolveAssets(ctx, ids, sortHint)
	if err != nil {
		metrics.EnrichmentLookups.WithLabelValues("assets", "error").Inc()
		e.logger.Warn("asset lookup failed, page left unenriched", "assets", len(ids), "resolved", len(found), "error", err)
	} else {
		metrics.EnrichmentLookups.WithLabelValues("assets", "ok").Inc()
	}

	byID := make(map[string]model.AssetSummary, len(found))
	for _, a := range found {
		if a.ID != "" {
			byID[a.ID] = a
		}
	}
	return byID
}

// collectIDs returns the distinct non-empty addresses and asset ids of page
// in first-seen order.
func collectIDs(page []model.NormalizedEvent) (addresses, assetIDs []string) {
	seenAddr := make(map[string]struct{})
	seenAsset := make(map[string]struct{})
	for _, ev := range page {
		for _, addr := range []string{ev.Sender, ev.Receiver} {
			if addr == "" {
				continue
			}
			if _, ok := seenAddr[addr]; !ok {
				seenAddr[addr] = struct{}{}
				addresses = append(addresses, addr)
			}
		}
		if ev.AssetID != "" {
			if _, ok := seenAsset[ev.AssetID]; !ok {
				seenAsset[ev.AssetID] = struct{}{}
				assetIDs = append(assetIDs, ev.AssetID)
			}
		}
	}
	return addresses, assetIDs
}
