package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emperorhan/atomic-activity/internal/circuitbreaker"
	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/pipeline/retry"
	"github.com/emperorhan/atomic-activity/internal/ratelimit"
	"github.com/emperorhan/atomic-activity/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	upstreamName    = "ledger"
	defaultMaxPages = 5
	maxErrorBody    = 512
)

const transactionsQuery = `
query Transactions($first: Int!, $after: String, $owners: [String!], $recipients: [String!], $tags: [TagFilter!]) {
  transactions(first: $first, after: $after, owners: $owners, recipients: $recipients, tags: $tags, sort: HEIGHT_DESC) {
    pageInfo { hasNextPage }
    edges {
      cursor
      node {
        id
        owner { address }
        recipient
        tags { name value }
        block { timestamp height }
      }
    }
  }
}`

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type transactionsData struct {
	Transactions *connection `json:"transactions"`
}

type connection struct {
	PageInfo struct {
		HasNextPage bool `json:"hasNextPage"`
	} `json:"pageInfo"`
	Edges *[]edge `json:"edges"`
}

type edge struct {
	Cursor string `json:"cursor"`
	Node   node   `json:"node"`
}

type node struct {
	ID    string `json:"id"`
	Owner struct {
		Address string `json:"address"`
	} `json:"owner"`
	Recipient string      `json:"recipient"`
	Tags      []model.Tag `json:"tags"`
	Block     *struct {
		Timestamp *int64 `json:"timestamp"`
		Height    int64  `json:"height"`
	} `json:"block"`
}

func (n node) toRecord() model.RawRecord {
	rec := model.RawRecord{
		ID:        n.ID,
		Owner:     n.Owner.Address,
		Recipient: n.Recipient,
		Tags:      model.Tags(n.Tags),
	}
	if n.Block != nil && n.Block.Timestamp != nil {
		ts := *n.Block.Timestamp
		rec.BlockTimestamp = &ts
	}
	return rec
}

type page struct {
	records    []model.RawRecord
	hasNext    bool
	nextCursor string
}

// Client queries the ledger's GraphQL gateway. Each page request passes
// through the rate limiter, the circuit breaker and the retry policy in
// that order.
type Client struct {
	httpClient *http.Client
	graphqlURL string
	maxPages   int
	retry      retry.Policy
	breaker    *circuitbreaker.Breaker
	limiter    *ratelimit.Limiter
	tracer     trace.Tracer
	logger     *slog.Logger
}

var _ Querier = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxPages bounds how many pages one query follows.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func NewClient(graphqlURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		graphqlURL: graphqlURL,
		maxPages:   defaultMaxPages,
		tracer:     tracing.Tracer("ledger"),
		logger:     logger.With("component", "ledger_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, d retry.Decision, err error) {
			c.logger.Warn("retrying ledger request", "attempt", attempt, "reason", d.Reason, "error", err)
		}
	}
	return c
}

// Query runs the query and follows the connection cursor for at most maxPages
// pages. A failure on a later page discards the pages already read so a
// caller never mistakes a truncated result for a complete one.
func (c *Client) Query(ctx context.Context, spec QuerySpec) ([]model.RawRecord, error) {
	ctx, span := c.tracer.Start(ctx, "ledger.Query", trace.WithAttributes(
		attribute.String("ledger.query", spec.Name),
		attribute.String("ledger.category", string(spec.Category)),
	))
	defer span.End()

	var (
		records []model.RawRecord
		after   = spec.After
	)
	for n := 0; n < c.maxPages; n++ {
		p, err := c.fetchPageWithRetry(ctx, spec, after)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("query %s page %d: %w", spec.Name, n, err)
		}
		records = append(records, p.records...)
		if !p.hasNext || p.nextCursor == "" {
			break
		}
		after = p.nextCursor
	}

	span.SetAttributes(attribute.Int("ledger.records", len(records)))
	return records, nil
}

func (c *Client) fetchPageWithRetry(ctx context.Context, spec QuerySpec, after string) (page, error) {
	var p page
	err := c.retry.Do(ctx, "ledger."+spec.Name, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		call := func() error {
			var err error
			p, err = c.fetchPage(ctx, spec, after)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Execute(call)
		} else {
			err = call()
		}
		ratelimit.RecordCall(upstreamName, "transactions", err)
		return err
	})
	return p, err
}

func (c *Client) fetchPage(ctx context.Context, spec QuerySpec, after string) (page, error) {
	body, err := json.Marshal(graphqlRequest{
		Query:     transactionsQuery,
		Variables: variables(spec, after),
	})
	if err != nil {
		return page{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return page{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return page{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return page{}, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(respBody)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return page{}, &TransportError{Status: resp.StatusCode, Body: snippet}
	}

	return decodePage(respBody)
}

func decodePage(body []byte) (page, error) {
	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return page{}, fmt.Errorf("%w: unmarshal envelope: %w", ErrMalformedResponse, err)
	}
	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			msgs = append(msgs, e.Message)
		}
		return page{}, fmt.Errorf("%w: graphql errors: %s", ErrMalformedResponse, strings.Join(msgs, "; "))
	}

	var data transactionsData
	if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
		return page{}, fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}
	if err := json.Unmarshal(gqlResp.Data, &data); err != nil {
		return page{}, fmt.Errorf("%w: unmarshal data: %w", ErrMalformedResponse, err)
	}
	if data.Transactions == nil || data.Transactions.Edges == nil {
		return page{}, fmt.Errorf("%w: missing edges", ErrMalformedResponse)
	}

	edges := *data.Transactions.Edges
	p := page{
		records: make([]model.RawRecord, 0, len(edges)),
		hasNext: data.Transactions.PageInfo.HasNextPage,
	}
	for _, e := range edges {
		if e.Node.ID == "" {
			continue
		}
		p.records = append(p.records, e.Node.toRecord())
	}
	if len(edges) > 0 {
		p.nextCursor = edges[len(edges)-1].Cursor
	}
	return p, nil
}

func variables(spec QuerySpec, after string) map[string]any {
	vars := map[string]any{
		"first": spec.First,
	}
	if after != "" {
		vars["after"] = after
	}
	if len(spec.Owners) > 0 {
		vars["owners"] = spec.Owners
	}
	if len(spec.Recipients) > 0 {
		vars["recipients"] = spec.Recipients
	}
	if len(spec.Tags) > 0 {
		vars["tags"] = spec.Tags
	}
	return vars
}
