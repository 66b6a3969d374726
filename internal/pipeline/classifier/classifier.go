package classifier

import (
	"log/slog"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/metrics"
	"github.com/emperorhan/atomic-activity/internal/pipeline/normalizer"
)

// Recognized action tag values.
const (
	ActionCreateOrder  = "Create-Order"
	ActionCancelOrder  = "Cancel-Order"
	ActionTransfer     = "Transfer"
	ActionCreditNotice = "Credit-Notice"
)

// Candidate is a classified event plus the raw evidence the integrity
// filter needs and the event itself does not carry.
type Candidate struct {
	Event model.NormalizedEvent

	RawPrice string
	Message  string
	Roles    []string
	// Owner is the signer of the record, as opposed to tag-declared roles.
	Owner string
}

// Author returns who wrote the order the candidate belongs to: the record
// signer, or the declared sender when the signer is unknown.
func (c Candidate) Author() string {
	if c.Owner != "" {
		return c.Owner
	}
	return c.Event.Sender
}

// Exclusion reports whether a candidate must be discarded and why.
type Exclusion func(Candidate) (reason string, excluded bool)

// Classifier assigns event kinds relative to a viewing address and removes
// duplicates surfaced by overlapping queries.
type Classifier struct {
	paymentTokens map[string]struct{}
	exclude       Exclusion
	logger        *slog.Logger
}

func New(paymentTokens []string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]struct{}, len(paymentTokens))
	for _, token := range paymentTokens {
		if token != "" {
			set[token] = struct{}{}
		}
	}
	return &Classifier{
		paymentTokens: set,
		logger:        logger.With("component", "classifier"),
	}
}

// WithExclusion returns a copy of c that discards candidates matching fn
// before they are correlated with other records of the same order, so an
// excluded record can neither claim an order id nor close a listing.
func (c *Classifier) WithExclusion(fn Exclusion) *Classifier {
	cp := *c
	cp.exclude = fn
	return &cp
}

// IsPaymentToken reports whether id is one of the recognized payment tokens.
func (c *Classifier) IsPaymentToken(id string) bool {
	_, ok := c.paymentTokens[id]
	return ok
}

// Classify classifies and deduplicates records for viewer. Records must be
// in merge order (primary queries before alt queries); the first record
// seen for an event or order wins. The result is deterministic for a given
// input order.
func (c *Classifier) Classify(records []normalizer.Record, viewer string) []Candidate {
	dedup := NewDeduper()
	for _, rec := range records {
		cand, ok := c.classifyRecord(rec, viewer)
		if !ok {
			metrics.RecordsDropped.WithLabelValues("unclassifiable").Inc()
			c.logger.Debug("dropping unclassifiable record",
				"id", rec.Raw.ID,
				"action", rec.Action,
				"query", rec.Query,
			)
			continue
		}
		if c.exclude != nil {
			if reason, excluded := c.exclude(cand); excluded {
				metrics.RecordsDropped.WithLabelValues(reason).Inc()
				c.logger.Debug("excluding record before correlation",
					"id", rec.Raw.ID,
					"order_id", cand.Event.OrderID,
					"reason", reason,
				)
				continue
			}
		}
		if !dedup.Add(cand) {
			metrics.RecordsDropped.WithLabelValues("duplicate").Inc()
			c.logger.Debug("dropping duplicate record",
				"id", rec.Raw.ID,
				"order_id", cand.Event.OrderID,
				"query", rec.Query,
			)
		}
	}

	for _, cand := range dedup.Unauthorized() {
		metrics.RecordsDropped.WithLabelValues("unauthorized_cancel").Inc()
		c.logger.Debug("dropping cancellation of another author's order",
			"id", cand.Event.EventID,
			"order_id", cand.Event.OrderID,
			"author", cand.Author(),
		)
	}

	out := dedup.Result()
	for _, cand := range out {
		metrics.EventsClassified.WithLabelValues(cand.Event.Kind.String()).Inc()
	}
	return out
}

func (c *Classifier) classifyRecord(rec normalizer.Record, viewer string) (Candidate, bool) {
	raw := rec.Raw
	ev := model.NormalizedEvent{
		EventID:   raw.ID,
		OrderID:   rec.OrderID,
		Price:     rec.Price,
		Quantity:  rec.Quantity,
		Sender:    rec.Sender,
		Receiver:  rec.Recipient,
		Timestamp: raw.BlockTimestamp,
	}
	if ev.OrderID == "" {
		ev.OrderID = raw.ID
	}
	if ev.Sender == "" {
		ev.Sender = raw.Owner
	}

	var (
		category    model.ActivityCategory
		beneficiary bool
	)
	switch rec.Action {
	case ActionCreateOrder:
		if c.IsPaymentToken(rec.AssetID) {
			// The order pays with the payment token, so its author is
			// buying the swap-side asset: an execution, not a listing.
			category = model.ActivityCategoryExecution
			ev.AssetID = rec.SwapToken
			ev.SwapAssetID = rec.AssetID
			beneficiary = viewer != "" && viewer == ev.Sender
		} else {
			category = model.ActivityCategoryListing
			ev.AssetID = rec.AssetID
			ev.SwapAssetID = rec.SwapToken
		}

	case ActionCancelOrder:
		category = model.ActivityCategoryCancellation
		ev.AssetID = rec.AssetID
		ev.SwapAssetID = rec.SwapToken

	case ActionTransfer, ActionCreditNotice:
		category = model.ActivityCategoryTransfer
		ev.IsDirectTransfer = true
		ev.AssetID = rec.AssetID
		if rec.Action == ActionTransfer {
			// A transfer is addressed to the token process itself.
			if ev.AssetID == "" {
				ev.AssetID = raw.Recipient
			}
		} else {
			// A credit notice is written by the token process to the receiver.
			if ev.AssetID == "" {
				ev.AssetID = raw.Owner
			}
			if ev.Receiver == "" {
				ev.Receiver = raw.Recipient
			}
		}
		beneficiary = viewer != "" && viewer == ev.Receiver

	default:
		return Candidate{}, false
	}

	kind, ok := model.ClassifyActivity(category, beneficiary)
	if !ok {
		return Candidate{}, false
	}
	ev.Kind = kind
	ev.Status = kind.Status()

	return Candidate{
		Event:    ev,
		RawPrice: rec.RawPrice,
		Message:  rec.Message,
		Roles:    rec.Roles(),
		Owner:    raw.Owner,
	}, true
}
