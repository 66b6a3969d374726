package aggregator

import (
	"slices"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
)

// DefaultGroupCount is the page size used when none is configured.
const DefaultGroupCount = 50

// Sort returns a stably sorted copy of events. Pending events sort as if
// their timestamp were 0. Equal timestamps keep their input order in both
// directions.
func Sort(events []model.NormalizedEvent, order model.SortOrder) []model.NormalizedEvent {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b model.NormalizedEvent) int {
		ka, kb := a.SortKey(), b.SortKey()
		switch {
		case ka == kb:
			return 0
		case order == model.SortOldToNew:
			if ka < kb {
				return -1
			}
			return 1
		default:
			if ka > kb {
				return -1
			}
			return 1
		}
	})
	return out
}

// Group partitions sorted events into pages of groupCount; the last page
// may be shorter. A non-positive groupCount uses DefaultGroupCount. Pages
// share the backing array of events.
func Group(events []model.NormalizedEvent, groupCount int) [][]model.NormalizedEvent {
	if groupCount <= 0 {
		groupCount = DefaultGroupCount
	}
	if len(events) == 0 {
		return nil
	}
	pages := make([][]model.NormalizedEvent, 0, (len(events)+groupCount-1)/groupCount)
	for start := 0; start < len(events); start += groupCount {
		end := min(start+groupCount, len(events))
		pages = append(pages, events[start:end:end])
	}
	return pages
}
