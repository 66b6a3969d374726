package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSortOrder(t *testing.T) {
	t.Parallel()

	order, err := ParseSortOrder("")
	require.NoError(t, err)
	assert.Equal(t, SortNewToOld, order)

	order, err = ParseSortOrder(" Old-To-New ")
	require.NoError(t, err)
	assert.Equal(t, SortOldToNew, order)

	_, err = ParseSortOrder("random")
	assert.Error(t, err)
}

func TestScopeValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		scope   Scope
		wantErr bool
	}{
		{"asset only", Scope{AssetID: "A1"}, false},
		{"address only", Scope{Address: "U1"}, false},
		{"neither", Scope{}, true},
		{"both", Scope{AssetID: "A1", Address: "U1"}, true},
		{"inverted range", Scope{Address: "U1", DateRange: DateRange{From: 10, To: 5}}, true},
		{"open range", Scope{Address: "U1", DateRange: DateRange{From: 10}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.scope.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestScopeViewingAddress(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "U1", Scope{Address: "U1"}.ViewingAddress())
	assert.Equal(t, "V1", Scope{Address: "U1", Viewer: "V1"}.ViewingAddress())
	assert.Empty(t, Scope{AssetID: "A1"}.ViewingAddress())
}

func TestDateRangeContains(t *testing.T) {
	t.Parallel()

	r := DateRange{From: 100, To: 200}
	assert.True(t, r.Contains(100))
	assert.True(t, r.Contains(200))
	assert.False(t, r.Contains(99))
	assert.False(t, r.Contains(201))
	assert.True(t, DateRange{}.Contains(1))
	assert.True(t, DateRange{}.IsZero())
}

func TestTagsFirst(t *testing.T) {
	t.Parallel()

	tags := Tags{{Name: "Action", Value: "Create-Order"}, {Name: "Action", Value: "Cancel-Order"}}
	v, ok := tags.First("Action")
	assert.True(t, ok)
	assert.Equal(t, "Create-Order", v)

	_, ok = tags.First("Missing")
	assert.False(t, ok)
}
