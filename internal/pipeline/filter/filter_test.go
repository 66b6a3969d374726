package filter

import (
	"testing"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/pipeline/classifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bad    = "BAD-ADDRESS"
	bigram = "\U0001F381\U0001F525"
)

func ts(v int64) *int64 { return &v }

func cand(id string, mutate func(*classifier.Candidate)) classifier.Candidate {
	c := classifier.Candidate{
		Event: model.NormalizedEvent{
			EventID:   id,
			OrderID:   id,
			Kind:      model.EventKindListed,
			Status:    model.OrderStatusListed,
			Sender:    "ALICE",
			Timestamp: ts(100),
		},
		Roles: []string{"ALICE"},
	}
	if mutate != nil {
		mutate(&c)
	}
	return c
}

func ids(events []model.NormalizedEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventID)
	}
	return out
}

func TestFilter_BlacklistInEveryRole(t *testing.T) {
	f := New(Policy{Blacklist: []string{bad}}, nil)

	roles := []struct {
		name   string
		mutate func(*classifier.Candidate)
	}{
		{"owner", func(c *classifier.Candidate) { c.Roles = []string{bad} }},
		{"recipient tag", func(c *classifier.Candidate) { c.Roles = append(c.Roles, bad) }},
		{"sender", func(c *classifier.Candidate) { c.Event.Sender = bad }},
		{"receiver", func(c *classifier.Candidate) { c.Event.Receiver = bad }},
		{"creator after other roles", func(c *classifier.Candidate) { c.Roles = []string{"X", "Y", bad} }},
	}

	for _, tt := range roles {
		t.Run(tt.name, func(t *testing.T) {
			reason, drop := f.Excluded(cand("E", tt.mutate))
			assert.True(t, drop)
			assert.Equal(t, ReasonBlacklisted, reason)
		})
	}

	_, drop := f.Excluded(cand("E", func(c *classifier.Candidate) { c.Roles = []string{bad + "-suffix"} }))
	assert.False(t, drop, "blacklist is exact match only")
}

func TestFilter_NonePriceSentinel(t *testing.T) {
	f := New(Policy{}, nil)

	tests := []struct {
		rawPrice string
		dropped  bool
	}{
		{rawPrice: "None", dropped: true},
		{rawPrice: "0", dropped: false},
		{rawPrice: "1", dropped: false},
		{rawPrice: "", dropped: false},
		{rawPrice: "none", dropped: false},
		{rawPrice: "garbage", dropped: false},
	}

	for _, tt := range tests {
		t.Run("price="+tt.rawPrice, func(t *testing.T) {
			_, drop := f.Excluded(cand("E", func(c *classifier.Candidate) { c.RawPrice = tt.rawPrice }))
			assert.Equal(t, tt.dropped, drop)
		})
	}
}

func TestFilter_SpamBigrams(t *testing.T) {
	f := New(Policy{SpamBigrams: []string{bigram}}, nil)

	_, drop := f.Excluded(cand("E", func(c *classifier.Candidate) { c.Message = "free drop " + bigram + " now" }))
	assert.True(t, drop)

	_, drop = f.Excluded(cand("E", func(c *classifier.Candidate) { c.Message = "\U0001F381 and \U0001F525 apart" }))
	assert.False(t, drop, "both runes must be adjacent")

	_, drop = f.Excluded(cand("E", func(c *classifier.Candidate) { c.Message = "" }))
	assert.False(t, drop)
}

func TestFilter_DateRange(t *testing.T) {
	f := New(Policy{DateRange: model.DateRange{From: 50, To: 150}}, nil)

	events := f.Apply([]classifier.Candidate{
		cand("in", nil),
		cand("early", func(c *classifier.Candidate) { c.Event.Timestamp = ts(10) }),
		cand("late", func(c *classifier.Candidate) { c.Event.Timestamp = ts(151) }),
		cand("edge", func(c *classifier.Candidate) { c.Event.Timestamp = ts(150) }),
		cand("pending", func(c *classifier.Candidate) { c.Event.Timestamp = nil }),
	})

	assert.Equal(t, []string{"in", "edge"}, ids(events))
}

func TestFilter_PendingKeptWithoutDateRange(t *testing.T) {
	f := New(Policy{}, nil)

	events := f.Apply([]classifier.Candidate{
		cand("pending", func(c *classifier.Candidate) { c.Event.Timestamp = nil }),
	})

	require.Len(t, events, 1)
}

func TestFilter_ApplyPreservesOrder(t *testing.T) {
	f := New(Policy{Blacklist: []string{bad}}, nil)

	events := f.Apply([]classifier.Candidate{
		cand("A", nil),
		cand("B", func(c *classifier.Candidate) { c.Roles = []string{bad} }),
		cand("C", func(c *classifier.Candidate) { c.RawPrice = "None" }),
		cand("D", nil),
	})

	assert.Equal(t, []string{"A", "D"}, ids(events))
}

func TestFilter_WithDateRangeDoesNotMutateBase(t *testing.T) {
	base := New(Policy{}, nil)
	ranged := base.WithDateRange(model.DateRange{From: 200})

	c := cand("E", nil)
	_, drop := ranged.Excluded(c)
	assert.True(t, drop)
	_, drop = base.Excluded(c)
	assert.False(t, drop)
}

func TestFilter_IntegrityIgnoresDateRange(t *testing.T) {
	f := New(Policy{Blacklist: []string{bad}, DateRange: model.DateRange{From: 500}}, nil)

	reason, drop := f.Integrity(cand("early", nil))
	assert.False(t, drop)
	assert.Empty(t, reason)

	reason, drop = f.Integrity(cand("none", func(c *classifier.Candidate) { c.RawPrice = NonePrice }))
	assert.True(t, drop)
	assert.Equal(t, ReasonNonePrice, reason)

	reason, drop = f.Integrity(cand("bad", func(c *classifier.Candidate) { c.Roles = []string{bad} }))
	assert.True(t, drop)
	assert.Equal(t, ReasonBlacklisted, reason)
}
