package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
)

//go:generate mockgen -source=types.go -destination=mocks/mock_querier.go -package=mocks

// Querier issues one parameterized query against the indexed transaction
// log and returns every record it yields.
type Querier interface {
	Query(ctx context.Context, spec QuerySpec) ([]model.RawRecord, error)
}

// Category is the semantic event class a query selects.
type Category string

const (
	CategoryOrders        Category = "orders"
	CategoryExecutions    Category = "executions"
	CategoryCancellations Category = "cancellations"
	CategoryTransfers     Category = "transfers"
)

// TagFilter matches records carrying tag Name with any of Values.
type TagFilter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// QuerySpec is one catalog query. Name is a stable label such as
// "orders.primary" used for logs and metrics.
type QuerySpec struct {
	Name       string
	Category   Category
	First      int
	Owners     []string
	Recipients []string
	Tags       []TagFilter
	After      string
}

var (
	// ErrTransport covers an unreachable service and any non-2xx reply.
	ErrTransport = errors.New("ledger transport error")
	// ErrMalformedResponse covers replies whose shape is not a
	// transaction connection, and GraphQL-level errors.
	ErrMalformedResponse = errors.New("ledger malformed response")
)

// TransportError is a non-2xx reply from the query service.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ledger http status %d: %s", e.Status, e.Body)
}

// StatusCode lets the retry classifier see the HTTP status.
func (e *TransportError) StatusCode() int {
	return e.Status
}

func (e *TransportError) Unwrap() error {
	return ErrTransport
}
