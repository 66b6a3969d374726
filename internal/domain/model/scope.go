package model

import (
	"fmt"
	"strings"
)

// SortOrder selects the chronological ordering of a reconciled event set.
type SortOrder string

const (
	SortNewToOld SortOrder = "new-to-old"
	SortOldToNew SortOrder = "old-to-new"
)

// ParseSortOrder accepts the canonical names; empty yields the default.
func ParseSortOrder(raw string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SortNewToOld:
		return SortNewToOld, nil
	case SortOldToNew:
		return SortOldToNew, nil
	default:
		return "", fmt.Errorf("unknown sort order %q", raw)
	}
}

// DateRange bounds events by block timestamp (unix seconds, inclusive).
// A zero bound is open.
type DateRange struct {
	From int64 `json:"from,omitempty"`
	To   int64 `json:"to,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.From == 0 && r.To == 0
}

// Contains reports whether ts falls inside the range.
func (r DateRange) Contains(ts int64) bool {
	if r.From != 0 && ts < r.From {
		return false
	}
	if r.To != 0 && ts > r.To {
		return false
	}
	return true
}

// Scope identifies the activity view being reconstructed: either one
// asset's activity or one address's activity.
type Scope struct {
	AssetID string `json:"asset_id,omitempty"`
	Address string `json:"address,omitempty"`

	// IncludeIncoming also queries records where Address is the recipient.
	IncludeIncoming bool `json:"include_incoming,omitempty"`

	// Viewer is the address whose perspective labels executed trades and
	// transfers. It defaults to Address.
	Viewer string `json:"viewer,omitempty"`

	DateRange DateRange `json:"date_range"`
}

// ViewingAddress returns the address used for perspective-relative kinds.
func (s Scope) ViewingAddress() string {
	if v := strings.TrimSpace(s.Viewer); v != "" {
		return v
	}
	return strings.TrimSpace(s.Address)
}

// Validate checks that exactly one scope target is set.
func (s Scope) Validate() error {
	asset := strings.TrimSpace(s.AssetID)
	addr := strings.TrimSpace(s.Address)
	switch {
	case asset == "" && addr == "":
		return fmt.Errorf("scope requires asset_id or address")
	case asset != "" && addr != "":
		return fmt.Errorf("scope accepts only one of asset_id or address")
	}
	if s.DateRange.From != 0 && s.DateRange.To != 0 && s.DateRange.From > s.DateRange.To {
		return fmt.Errorf("date range from %d is after to %d", s.DateRange.From, s.DateRange.To)
	}
	return nil
}

// Key is a stable identity used for logging and metrics labels.
func (s Scope) Key() string {
	if s.AssetID != "" {
		return "asset:" + s.AssetID
	}
	return "address:" + s.Address
}
