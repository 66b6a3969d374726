package normalizer

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
)

// Record is a raw ledger record with its semantic fields resolved through
// TagAliases. It is still unclassified.
type Record struct {
	Raw   model.RawRecord
	Query string // catalog query that surfaced the record

	Action    string
	AssetID   string
	SwapToken string
	OrderID   string // empty when no correlation tag is present
	Sender    string
	Recipient string
	Creator   string
	Message   string

	Price    uint64
	Quantity uint64

	// RawPrice keeps the literal price tag so the integrity filter can
	// tell an explicit "None" apart from an absent or zero price.
	RawPrice string
}

// Normalizer turns raw records into Records. It never fails: unparseable
// numbers become 0 and missing fields stay empty.
type Normalizer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger.With("component", "normalizer")}
}

// Normalize resolves every record. query labels the catalog entry that
// produced the slice and is carried along for diagnostics.
func (n *Normalizer) Normalize(query string, records []model.RawRecord) []Record {
	out := make([]Record, 0, len(records))
	for _, raw := range records {
		rec := NormalizeRecord(raw)
		rec.Query = query
		if rec.Action == "" {
			n.logger.Debug("record carries no action tag", "id", raw.ID, "query", query)
		}
		out = append(out, rec)
	}
	return out
}

// NormalizeRecord resolves the semantic fields of one record.
func NormalizeRecord(raw model.RawRecord) Record {
	tags := raw.Tags
	rawPrice, _, _ := Resolve(tags, FieldPrice)
	rawQty, _, _ := Resolve(tags, FieldQuantity)

	return Record{
		Raw:       raw,
		Action:    strings.TrimSpace(ResolveString(tags, FieldAction)),
		AssetID:   ResolveString(tags, FieldAssetID),
		SwapToken: ResolveString(tags, FieldSwapToken),
		OrderID:   ResolveString(tags, FieldOrderID),
		Sender:    ResolveString(tags, FieldSender),
		Recipient: ResolveString(tags, FieldRecipient),
		Creator:   ResolveString(tags, FieldCreator),
		Message:   ResolveString(tags, FieldMessage),
		Price:     ParseAmount(rawPrice),
		Quantity:  ParseAmount(rawQty),
		RawPrice:  rawPrice,
	}
}

// ParseAmount parses a base-unit integer. Anything that is not a
// non-negative base-10 integer yields 0; callers treat 0 as unknown.
func ParseAmount(raw string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Roles returns every party address named by the record: owner, target,
// and all role tags. Duplicates are kept; order is stable.
func (r Record) Roles() []string {
	roles := make([]string, 0, 2+len(RoleTags))
	if r.Raw.Owner != "" {
		roles = append(roles, r.Raw.Owner)
	}
	if r.Raw.Recipient != "" {
		roles = append(roles, r.Raw.Recipient)
	}
	for _, name := range RoleTags {
		for _, tag := range r.Raw.Tags {
			if tag.Name == name && tag.Value != "" {
				roles = append(roles, tag.Value)
			}
		}
	}
	return roles
}
