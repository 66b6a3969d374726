package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/emperorhan/atomic-activity/internal/circuitbreaker"
	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/pipeline/retry"
	"github.com/emperorhan/atomic-activity/internal/ratelimit"
)

const maxErrorBody = 512

// StatusError is a non-2xx reply from a lookup service.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s lookup http status %d: %s", e.Service, e.Status, e.Body)
}

func (e *StatusError) StatusCode() int {
	return e.Status
}

// endpoint is the transport shared by the profile and asset clients.
type endpoint struct {
	service    string
	url        string
	httpClient *http.Client
	retry      retry.Policy
	breaker    *circuitbreaker.Breaker
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

type Option func(*endpoint)

func WithHTTPClient(hc *http.Client) Option {
	return func(e *endpoint) { e.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(e *endpoint) {
		if d > 0 {
			e.httpClient.Timeout = d
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(e *endpoint) { e.retry = p }
}

func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(e *endpoint) { e.breaker = b }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(e *endpoint) { e.limiter = l }
}

func newEndpoint(service, url string, logger *slog.Logger, opts []Option) endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	e := endpoint{
		service:    service,
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", service+"_lookup"),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// post sends payload as JSON and decodes the reply into out, under the
// endpoint's limiter, breaker and retry policy.
func (e *endpoint) post(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", e.service, err)
	}

	return e.retry.Do(ctx, e.service+".lookup", func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		call := func() error { return e.roundTrip(ctx, body, out) }
		var err error
		if e.breaker != nil {
			err = e.breaker.Execute(call)
		} else {
			err = call()
		}
		ratelimit.RecordCall(e.service, "lookup", err)
		return err
	})
}

func (e *endpoint) roundTrip(ctx context.Context, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s lookup request: %w", e.service, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", e.service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(respBody)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return &StatusError{Service: e.service, Status: resp.StatusCode, Body: snippet}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Terminal(fmt.Errorf("unmarshal %s response: %w", e.service, err))
	}
	return nil
}

// ProfileClient resolves wallet addresses through the profile service.
type ProfileClient struct {
	endpoint
}

func NewProfileClient(url string, logger *slog.Logger, opts ...Option) *ProfileClient {
	return &ProfileClient{endpoint: newEndpoint("profiles", url, logger, opts)}
}

type profilesRequest struct {
	Addresses []string `json:"addresses"`
}

type profilesResponse struct {
	Profiles []model.ProfileSummary `json:"profiles"`
}

func (c *ProfileClient) ResolveProfiles(ctx context.Context, addresses []string) ([]model.ProfileSummary, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	var resp profilesResponse
	if err := c.post(ctx, profilesRequest{Addresses: addresses}, &resp); err != nil {
		return nil, err
	}
	return resp.Profiles, nil
}

// AssetClient resolves asset ids through the asset service.
type AssetClient struct {
	endpoint
}

func NewAssetClient(url string, logger *slog.Logger, opts ...Option) *AssetClient {
	return &AssetClient{endpoint: newEndpoint("assets", url, logger, opts)}
}

type assetsRequest struct {
	IDs  []string        `json:"ids"`
	Sort model.SortOrder `json:"sort,omitempty"`
}

type assetsResponse struct {
	Assets []model.AssetSummary `json:"assets"`
}

func (c *AssetClient) ResolveAssets(ctx context.Context, ids []string, sortHint model.SortOrder) ([]model.AssetSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var resp assetsResponse
	if err := c.post(ctx, assetsRequest{IDs: ids, Sort: sortHint}, &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}
