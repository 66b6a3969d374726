package filter

import (
	"log/slog"
	"strings"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/metrics"
	"github.com/emperorhan/atomic-activity/internal/pipeline/classifier"
)

// NonePrice is the sentinel price written by a known spam client.
const NonePrice = "None"

// Drop reasons, used as metric labels and log attributes.
const (
	ReasonBlacklisted = "blacklisted"
	ReasonNonePrice   = "none_price"
	ReasonSpamMessage = "spam_message"
	ReasonOutOfRange  = "out_of_range"
	ReasonPending     = "pending"
)

// Policy is the exclusion policy. The zero value drops nothing.
//
// Every predicate is an exact match. A missed spam record is acceptable, a
// dropped legitimate one is not, so the lists stay narrow.
type Policy struct {
	Blacklist   []string
	SpamBigrams []string
	DateRange   model.DateRange
}

type Filter struct {
	blacklist map[string]struct{}
	bigrams   []string
	dateRange model.DateRange
	logger    *slog.Logger
}

func New(policy Policy, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	bl := make(map[string]struct{}, len(policy.Blacklist))
	for _, addr := range policy.Blacklist {
		if addr = strings.TrimSpace(addr); addr != "" {
			bl[addr] = struct{}{}
		}
	}
	bigrams := make([]string, 0, len(policy.SpamBigrams))
	for _, b := range policy.SpamBigrams {
		if b != "" {
			bigrams = append(bigrams, b)
		}
	}
	return &Filter{
		blacklist: bl,
		bigrams:   bigrams,
		dateRange: policy.DateRange,
		logger:    logger.With("component", "filter"),
	}
}

// WithDateRange returns a copy of f bound to r.
func (f *Filter) WithDateRange(r model.DateRange) *Filter {
	cp := *f
	cp.dateRange = r
	return &cp
}

// Apply keeps the events for which no exclusion predicate holds, in input
// order.
func (f *Filter) Apply(cands []classifier.Candidate) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, len(cands))
	for _, cand := range cands {
		if reason, drop := f.Excluded(cand); drop {
			metrics.RecordsDropped.WithLabelValues(reason).Inc()
			f.logger.Debug("excluding event",
				"event_id", cand.Event.EventID,
				"kind", cand.Event.Kind,
				"reason", reason,
			)
			continue
		}
		out = append(out, cand.Event)
	}
	return out
}

// Excluded reports whether cand must be dropped and why. Predicates are
// OR-ed; the first match is reported.
func (f *Filter) Excluded(cand classifier.Candidate) (string, bool) {
	if reason, drop := f.Integrity(cand); drop {
		return reason, true
	}
	if !f.dateRange.IsZero() {
		ts := cand.Event.Timestamp
		if ts == nil {
			return ReasonPending, true
		}
		if !f.dateRange.Contains(*ts) {
			return ReasonOutOfRange, true
		}
	}
	return "", false
}

// Integrity applies the predicates that describe the record itself
// (blacklist, price sentinel, spam message) and not the requested window.
// It has the classifier.Exclusion signature.
func (f *Filter) Integrity(cand classifier.Candidate) (string, bool) {
	if f.blacklisted(cand) {
		return ReasonBlacklisted, true
	}
	if cand.RawPrice == NonePrice {
		return ReasonNonePrice, true
	}
	if f.spam(cand.Message) {
		return ReasonSpamMessage, true
	}
	return "", false
}

func (f *Filter) blacklisted(cand classifier.Candidate) bool {
	if len(f.blacklist) == 0 {
		return false
	}
	for _, role := range cand.Roles {
		if _, ok := f.blacklist[role]; ok {
			return true
		}
	}
	for _, addr := range []string{cand.Event.Sender, cand.Event.Receiver} {
		if _, ok := f.blacklist[addr]; ok && addr != "" {
			return true
		}
	}
	return false
}

func (f *Filter) spam(message string) bool {
	if message == "" {
		return false
	}
	for _, b := range f.bigrams {
		if strings.Contains(message, b) {
			return true
		}
	}
	return false
}
