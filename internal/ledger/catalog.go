package ledger

import (
	"fmt"
	"strings"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
)

// Tag names and values the catalog filters on.
const (
	TagProtocol = "Data-Protocol"
	TagType     = "Type"

	TagAction         = "Action"
	TagAltOrderAction = "X-Order-Action"
	TagAltAction      = "X-Action"

	TagDominantToken    = "DominantToken"
	TagAltDominantToken = "X-Dominant-Token"
	TagSwapToken        = "SwapToken"
	TagAltSwapToken     = "X-Swap-Token"
	TagOrderID          = "OrderId"
	TagAltOrderID       = "X-Order-Id"
	TagRecipient        = "Recipient"

	ActionCreateOrder  = "Create-Order"
	ActionCancelOrder  = "Cancel-Order"
	ActionTransfer     = "Transfer"
	ActionCreditNotice = "Credit-Notice"
)

// maxTagValues bounds the values of one tag predicate in a follow-up query.
const maxTagValues = 100

// CatalogConfig carries the constant predicates every query includes.
type CatalogConfig struct {
	ProtocolTag string
	RecordType  string
	First       int
}

func (c CatalogConfig) base(name string, category Category, extra ...TagFilter) QuerySpec {
	tags := make([]TagFilter, 0, 2+len(extra))
	if c.ProtocolTag != "" {
		tags = append(tags, TagFilter{Name: TagProtocol, Values: []string{c.ProtocolTag}})
	}
	if c.RecordType != "" {
		tags = append(tags, TagFilter{Name: TagType, Values: []string{c.RecordType}})
	}
	tags = append(tags, extra...)
	first := c.First
	if first <= 0 {
		first = 100
	}
	return QuerySpec{Name: name, Category: category, First: first, Tags: tags}
}

func tag(name string, values ...string) TagFilter {
	return TagFilter{Name: name, Values: values}
}

// BuildQueries returns the query set for scope. Every category has a
// primary query on the current tag schema and an alt query on the
// historical one; both must run because old records only match the old
// predicate. Order is stable: per category, primary before alt.
//
// Asset-scoped cancellations cannot be selected by asset because a
// cancellation only names its order; use CancellationQueries with the
// order ids of the listings found.
func BuildQueries(scope model.Scope, cfg CatalogConfig) []QuerySpec {
	if asset := strings.TrimSpace(scope.AssetID); asset != "" {
		return assetQueries(asset, cfg)
	}
	addr := strings.TrimSpace(scope.Address)
	if addr == "" {
		return nil
	}
	return addressQueries(addr, scope.IncludeIncoming, cfg)
}

func assetQueries(asset string, cfg CatalogConfig) []QuerySpec {
	specs := []QuerySpec{
		cfg.base("orders.primary", CategoryOrders,
			tag(TagAction, ActionCreateOrder), tag(TagDominantToken, asset)),
		cfg.base("orders.alt", CategoryOrders,
			tag(TagAltOrderAction, ActionCreateOrder), tag(TagAltDominantToken, asset)),
		cfg.base("executions.primary", CategoryExecutions,
			tag(TagAction, ActionCreateOrder), tag(TagSwapToken, asset)),
		cfg.base("executions.alt", CategoryExecutions,
			tag(TagAltOrderAction, ActionCreateOrder), tag(TagAltSwapToken, asset)),
	}

	// Transfers are messages addressed to the asset process; credit notices
	// are written by it.
	transfers := cfg.base("transfers.primary", CategoryTransfers, tag(TagAction, ActionTransfer))
	transfers.Recipients = []string{asset}
	notices := cfg.base("transfers.alt", CategoryTransfers, tag(TagAction, ActionCreditNotice))
	notices.Owners = []string{asset}

	return append(specs, transfers, notices)
}

func addressQueries(addr string, incoming bool, cfg CatalogConfig) []QuerySpec {
	owned := func(s QuerySpec) QuerySpec {
		s.Owners = []string{addr}
		return s
	}
	specs := []QuerySpec{
		owned(cfg.base("orders.primary", CategoryOrders, tag(TagAction, ActionCreateOrder))),
		owned(cfg.base("orders.alt", CategoryOrders, tag(TagAltOrderAction, ActionCreateOrder))),
		owned(cfg.base("cancellations.primary", CategoryCancellations, tag(TagAction, ActionCancelOrder))),
		owned(cfg.base("cancellations.alt", CategoryCancellations, tag(TagAltOrderAction, ActionCancelOrder))),
		owned(cfg.base("transfers.primary", CategoryTransfers, tag(TagAction, ActionTransfer))),
		owned(cfg.base("transfers.alt", CategoryTransfers, tag(TagAltAction, ActionTransfer))),
	}
	if !incoming {
		return specs
	}

	notices := cfg.base("transfers.incoming.primary", CategoryTransfers, tag(TagAction, ActionCreditNotice))
	notices.Recipients = []string{addr}
	named := cfg.base("transfers.incoming.alt", CategoryTransfers,
		tag(TagAction, ActionTransfer), tag(TagRecipient, addr))
	return append(specs, notices, named)
}

// CancellationQueries selects cancellations of the given orders, in chunks
// of at most maxTagValues ids. Duplicate and empty ids are ignored. Queries
// are restricted to records signed by authors, the writers of the listings,
// unless that set is empty or too large for one predicate; the classifier
// still pairs each cancellation with its own author's listing.
func CancellationQueries(orderIDs, authors []string, cfg CatalogConfig) []QuerySpec {
	ids := uniqueNonEmpty(orderIDs)
	if len(ids) == 0 {
		return nil
	}
	owners := uniqueNonEmpty(authors)
	if len(owners) == 0 || len(owners) > maxTagValues {
		owners = nil
	}
	signed := func(s QuerySpec) QuerySpec {
		s.Owners = owners
		return s
	}

	var specs []QuerySpec
	for i, chunk := 0, 0; i < len(ids); i, chunk = i+maxTagValues, chunk+1 {
		end := min(i+maxTagValues, len(ids))
		part := ids[i:end]
		specs = append(specs,
			signed(cfg.base(fmt.Sprintf("cancellations.primary.%d", chunk), CategoryCancellations,
				tag(TagAction, ActionCancelOrder), tag(TagOrderID, part...))),
			signed(cfg.base(fmt.Sprintf("cancellations.alt.%d", chunk), CategoryCancellations,
				tag(TagAltOrderAction, ActionCancelOrder), tag(TagAltOrderID, part...))),
		)
	}
	return specs
}

func uniqueNonEmpty(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
