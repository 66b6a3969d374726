package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyActivity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		category    ActivityCategory
		beneficiary bool
		expected    EventKind
		ok          bool
	}{
		{"LISTING → LISTED", ActivityCategoryListing, false, EventKindListed, true},
		{"LISTING ignores viewer", ActivityCategoryListing, true, EventKindListed, true},
		{"CANCELLATION → CANCELLED", ActivityCategoryCancellation, true, EventKindCancelled, true},
		{"EXECUTION buyer → PURCHASED", ActivityCategoryExecution, true, EventKindPurchased, true},
		{"EXECUTION other → SOLD", ActivityCategoryExecution, false, EventKindSold, true},
		{"TRANSFER receiver → TRANSFER_IN", ActivityCategoryTransfer, true, EventKindTransferIn, true},
		{"TRANSFER other → TRANSFER_OUT", ActivityCategoryTransfer, false, EventKindTransferOut, true},
		{"unknown → dropped", ActivityCategory("UNKNOWN"), true, "", false},
		{"empty category → dropped", ActivityCategory(""), true, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kind, ok := ClassifyActivity(tc.category, tc.beneficiary)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, kind)
		})
	}
}

func TestEventKindStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind     EventKind
		status   OrderStatus
		terminal bool
	}{
		{EventKindListed, OrderStatusListed, false},
		{EventKindCancelled, OrderStatusCancelled, true},
		{EventKindPurchased, OrderStatusExecuted, true},
		{EventKindSold, OrderStatusExecuted, true},
		{EventKindTransferIn, OrderStatusExecuted, true},
		{EventKindTransferOut, OrderStatusExecuted, true},
	}

	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.status, tc.kind.Status())
			assert.Equal(t, tc.terminal, tc.kind.IsTerminal())
		})
	}
}
