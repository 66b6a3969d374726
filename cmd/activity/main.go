package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emperorhan/atomic-activity/internal/alert"
	"github.com/emperorhan/atomic-activity/internal/circuitbreaker"
	"github.com/emperorhan/atomic-activity/internal/config"
	"github.com/emperorhan/atomic-activity/internal/ledger"
	"github.com/emperorhan/atomic-activity/internal/lookup"
	"github.com/emperorhan/atomic-activity/internal/metrics"
	"github.com/emperorhan/atomic-activity/internal/pipeline"
	"github.com/emperorhan/atomic-activity/internal/pipeline/aggregator"
	"github.com/emperorhan/atomic-activity/internal/pipeline/cursor"
	"github.com/emperorhan/atomic-activity/internal/pipeline/fetcher"
	"github.com/emperorhan/atomic-activity/internal/pipeline/retry"
	"github.com/emperorhan/atomic-activity/internal/ratelimit"
	"github.com/emperorhan/atomic-activity/internal/server"
	redispkg "github.com/emperorhan/atomic-activity/internal/store/redis"
	"github.com/emperorhan/atomic-activity/internal/tracing"
	"golang.org/x/sync/errgroup"
)

const sessionSweepInterval = time.Minute

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting atomic-activity",
		"ledger_graphql_url", cfg.Ledger.GraphQLURL,
		"profile_lookup_url", cfg.Lookup.ProfileURL,
		"asset_lookup_url", cfg.Lookup.AssetURL,
		"fetch_workers", cfg.Pipeline.FetchWorkers,
		"group_count", cfg.Pipeline.GroupCount,
		"payment_tokens", len(cfg.Policy.PaymentTokens),
		"blacklisted_addresses", len(cfg.Policy.BlacklistedAddresses),
		"spam_bigrams", len(cfg.Policy.SpamBigrams),
		"shared_cache", cfg.Redis.URL != "",
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "atomic-activity", tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BackoffInitial: cfg.Retry.BackoffInitial,
		BackoffMax:     cfg.Retry.BackoffMax,
	}

	ledgerClient := ledger.NewClient(cfg.Ledger.GraphQLURL, logger,
		ledger.WithMaxPages(cfg.Ledger.MaxPages),
		ledger.WithRetryPolicy(policy),
		ledger.WithBreaker(newBreaker("ledger", cfg.Breaker, logger)),
		ledger.WithLimiter(ratelimit.NewLimiter(cfg.Ledger.RateLimitRPS, cfg.Ledger.RateLimitBurst, "ledger")),
	)

	var profileShared, assetShared lookup.SharedCache
	if cfg.Redis.URL != "" {
		client, err := redispkg.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		profileShared = redispkg.NewStore(client, "activity:profile", cfg.Redis.TTL)
		assetShared = redispkg.NewStore(client, "activity:asset", cfg.Redis.TTL)
		logger.Info("shared summary cache enabled", "ttl", cfg.Redis.TTL)
	}

	lookupOpts := func(service string) []lookup.Option {
		return []lookup.Option{
			lookup.WithTimeout(cfg.Lookup.Timeout),
			lookup.WithRetryPolicy(policy),
			lookup.WithBreaker(newBreaker(service, cfg.Breaker, logger)),
			lookup.WithLimiter(ratelimit.NewLimiter(cfg.Lookup.RateLimitRPS, cfg.Lookup.RateLimitBurst, service)),
		}
	}
	profiles := lookup.NewCachedProfiles(
		lookup.NewProfileClient(cfg.Lookup.ProfileURL, logger, lookupOpts("profiles")...),
		cfg.Lookup.CacheSize, cfg.Lookup.CacheTTL, profileShared, logger,
	)
	assets := lookup.NewCachedAssets(
		lookup.NewAssetClient(cfg.Lookup.AssetURL, logger, lookupOpts("assets")...),
		cfg.Lookup.CacheSize, cfg.Lookup.CacheTTL, assetShared, logger,
	)

	f := fetcher.New(ledgerClient, logger,
		fetcher.WithWorkers(cfg.Pipeline.FetchWorkers),
		fetcher.WithQueryTimeout(cfg.Ledger.QueryTimeout),
	)
	reconciler := pipeline.NewReconciler(f, pipeline.Config{
		Catalog: ledger.CatalogConfig{
			ProtocolTag: cfg.Ledger.ProtocolTag,
			RecordType:  cfg.Ledger.RecordType,
			First:       cfg.Ledger.QueryFirst,
		},
		PaymentTokens: cfg.Policy.PaymentTokens,
		Blacklist:     cfg.Policy.BlacklistedAddresses,
		SpamBigrams:   cfg.Policy.SpamBigrams,
	}, logger)
	enricher := aggregator.NewEnricher(profiles, assets, logger)

	if alerter := buildAlerter(cfg.Alert, logger); alerter != nil {
		reconciler.Health().OnStatusChange(alert.HealthNotifier(alerter, "reconciler", logger))
	}

	rl := server.NewRateLimiter(logger)
	defer rl.Stop()

	srv := server.NewServer(
		func() *cursor.Session {
			return cursor.New(reconciler, enricher, cfg.Pipeline.GroupCount, logger)
		},
		logger,
		server.WithHealthProvider(reconciler.Health()),
		server.WithRateLimiter(rl),
		server.WithSessionLimits(cfg.Server.MaxSessions, cfg.Server.SessionTTL),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.HTTPPort, srv.Handler(), logger)
	})

	g.Go(func() error {
		srv.SweepSessions(gCtx, sessionSweepInterval)
		return nil
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("activity service exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("activity service shut down gracefully")
}

// newBreaker counts only transient upstream failures; a 4xx says nothing
// about the upstream's health.
func newBreaker(name string, cfg config.BreakerConfig, logger *slog.Logger) *circuitbreaker.Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             name,
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		OpenTimeout:      cfg.OpenTimeout,
		IsFailure: func(err error) bool {
			return retry.Classify(err).IsTransient()
		},
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state changed", "upstream", name, "from", from, "to", to)
		},
	})
}

// buildAlerter returns nil when no alert channel is configured.
func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		return nil
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "port", port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
