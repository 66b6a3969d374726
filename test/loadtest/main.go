// Package main is a load test harness for the activity session API. Each
// worker repeatedly opens a session for one of the given scopes, pages
// through it and closes it, measuring latency per operation.
//
// Usage:
//
//	go run ./test/loadtest \
//	  -url http://localhost:8080 \
//	  -addresses addr1,addr2 \
//	  -assets assetA \
//	  -concurrency 4 \
//	  -duration 30s \
//	  -pages 3
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type sessionView struct {
	SessionID string `json:"session_id"`
	View      struct {
		Total   int  `json:"total"`
		HasNext bool `json:"has_next"`
	} `json:"view"`
}

// latencies collects per-operation samples in nanoseconds.
type latencies struct {
	mu  sync.Mutex
	ops map[string][]int64
}

func (l *latencies) record(op string, d time.Duration) {
	l.mu.Lock()
	l.ops[op] = append(l.ops[op], d.Nanoseconds())
	l.mu.Unlock()
}

func (l *latencies) sorted(op string) []int64 {
	l.mu.Lock()
	out := append([]int64(nil), l.ops[op]...)
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:8080", "Activity service base URL")
		addresses   = flag.String("addresses", "", "Comma-separated addresses to open address-scoped sessions for")
		assets      = flag.String("assets", "", "Comma-separated asset ids to open asset-scoped sessions for")
		concurrency = flag.Int("concurrency", 4, "Number of parallel workers")
		duration    = flag.Duration("duration", 30*time.Second, "Test duration")
		pages       = flag.Int("pages", 3, "Pages to walk per session")
		timeout     = flag.Duration("timeout", 60*time.Second, "Per-request timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	scopes := buildScopes(*addresses, *assets)
	if len(scopes) == 0 {
		logger.Error("at least one of -addresses or -assets is required")
		os.Exit(2)
	}

	logger.Info("load test configuration",
		"url", *baseURL,
		"scopes", len(scopes),
		"concurrency", *concurrency,
		"duration", *duration,
		"pages", *pages,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *duration+*timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	client := &http.Client{Timeout: *timeout}
	stats := &latencies{ops: map[string][]int64{}}
	var (
		totalSessions atomic.Int64
		totalEvents   atomic.Int64
		totalErrors   atomic.Int64
	)

	worker := func(workerID int) {
		deadline := time.Now().Add(*duration)
		for i := workerID; time.Now().Before(deadline) && ctx.Err() == nil; i++ {
			scope := scopes[i%len(scopes)]

			start := time.Now()
			var created sessionView
			if err := call(ctx, client, http.MethodPost, *baseURL+"/v1/sessions", scope, &created); err != nil {
				logger.Warn("create session failed", "worker", workerID, "error", err)
				totalErrors.Add(1)
				continue
			}
			stats.record("create", time.Since(start))
			totalSessions.Add(1)
			totalEvents.Add(int64(created.View.Total))

			base := *baseURL + "/v1/sessions/" + created.SessionID
			hasNext := created.View.HasNext
			for p := 1; p < *pages && hasNext; p++ {
				start = time.Now()
				var page sessionView
				if err := call(ctx, client, http.MethodPost, base+"/next", nil, &page); err != nil {
					logger.Warn("next page failed", "worker", workerID, "error", err)
					totalErrors.Add(1)
					break
				}
				stats.record("next", time.Since(start))
				hasNext = page.View.HasNext
			}

			start = time.Now()
			if err := call(ctx, client, http.MethodDelete, base, nil, nil); err != nil {
				totalErrors.Add(1)
				continue
			}
			stats.record("delete", time.Since(start))
		}
	}

	logger.Info("starting load test", "workers", *concurrency, "duration", *duration)
	testStart := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(id)
		}(i)
	}
	wg.Wait()

	testDuration := time.Since(testStart)
	sessions := totalSessions.Load()
	errors := totalErrors.Load()

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       LOAD TEST RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Duration:       %s\n", testDuration.Round(time.Millisecond))
	fmt.Printf("Workers:        %d\n", *concurrency)
	fmt.Printf("Scopes:         %d\n", len(scopes))
	fmt.Println("----------------------------------------")
	fmt.Println("Throughput:")
	fmt.Printf("  Sessions:     %d\n", sessions)
	fmt.Printf("  Events:       %d\n", totalEvents.Load())
	fmt.Printf("  Sessions/sec: %.2f\n", float64(sessions)/testDuration.Seconds())
	for _, op := range []string{"create", "next", "delete"} {
		samples := stats.sorted(op)
		if len(samples) == 0 {
			continue
		}
		fmt.Println("----------------------------------------")
		fmt.Printf("Latency (%s, n=%d):\n", op, len(samples))
		fmt.Printf("  p50:          %s\n", formatNanos(percentile(samples, 50)))
		fmt.Printf("  p95:          %s\n", formatNanos(percentile(samples, 95)))
		fmt.Printf("  p99:          %s\n", formatNanos(percentile(samples, 99)))
	}
	fmt.Println("----------------------------------------")
	fmt.Println("Errors:")
	fmt.Printf("  Total:        %d\n", errors)
	fmt.Println("========================================")

	if errors > 0 {
		os.Exit(1)
	}
}

func buildScopes(addresses, assets string) []map[string]any {
	var scopes []map[string]any
	for _, addr := range splitList(addresses) {
		scopes = append(scopes, map[string]any{"address": addr, "include_incoming": true})
	}
	for _, id := range splitList(assets) {
		scopes = append(scopes, map[string]any{"asset_id": id})
	}
	return scopes
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func call(ctx context.Context, client *http.Client, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// percentile returns the value at the given percentile from a sorted slice.
func percentile(sorted []int64, pct float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func formatNanos(ns int64) string {
	d := time.Duration(ns)
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fus", float64(d.Microseconds()))
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
