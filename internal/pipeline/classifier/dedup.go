package classifier

import "github.com/emperorhan/atomic-activity/internal/domain/model"

// orderKey identifies an order by its author and id. Order ids are tag
// values any writer can set, so an id alone does not identify an order.
type orderKey struct {
	author string
	order  string
}

// Deduper is a first-write-wins set over classified candidates.
//
// Every candidate is keyed by event id. Listings and cancellations are
// additionally keyed by author and order id so an order has at most one of
// each; a cancellation hides the listing of the same author it closes and
// inherits that listing's asset and amounts when its own tags lack them.
// Executions and transfers are only deduplicated by event id since one
// order may produce many fills.
type Deduper struct {
	order     []Candidate
	events    map[string]struct{}
	listed    map[orderKey]int // index in order
	cancelled map[orderKey]int
	listedBy  map[string][]string // order id -> listing authors
}

func NewDeduper() *Deduper {
	return &Deduper{
		events:    make(map[string]struct{}),
		listed:    make(map[orderKey]int),
		cancelled: make(map[orderKey]int),
		listedBy:  make(map[string][]string),
	}
}

// Add records cand and reports whether it was new. Adding a candidate that
// is already present is a no-op.
func (d *Deduper) Add(cand Candidate) bool {
	ev := cand.Event
	if _, seen := d.events[ev.EventID]; seen {
		return false
	}

	key := orderKey{author: cand.Author(), order: ev.OrderID}
	switch ev.Kind {
	case model.EventKindListed:
		if _, seen := d.listed[key]; seen {
			return false
		}
		d.listed[key] = len(d.order)
		d.listedBy[ev.OrderID] = append(d.listedBy[ev.OrderID], key.author)
	case model.EventKindCancelled:
		if _, seen := d.cancelled[key]; seen {
			return false
		}
		d.cancelled[key] = len(d.order)
	}

	d.events[ev.EventID] = struct{}{}
	d.order = append(d.order, cand)
	return true
}

// Result returns the surviving candidates in insertion order. A
// cancellation naming an order that only other authors listed is not a
// cancellation of any known order and is dropped; Unauthorized reports how
// many were.
func (d *Deduper) Result() []Candidate {
	out := make([]Candidate, 0, len(d.order))
	for _, cand := range d.order {
		ev := cand.Event
		key := orderKey{author: cand.Author(), order: ev.OrderID}
		switch ev.Kind {
		case model.EventKindListed:
			if _, closed := d.cancelled[key]; closed {
				continue
			}
		case model.EventKindCancelled:
			li, ok := d.listed[key]
			if !ok && len(d.listedBy[ev.OrderID]) > 0 {
				continue
			}
			if ok {
				cand.Event = inheritFromListing(ev, d.order[li].Event)
			}
		}
		out = append(out, cand)
	}
	return out
}

// Unauthorized returns the cancellations Result drops because the order
// they name was listed by someone else.
func (d *Deduper) Unauthorized() []Candidate {
	var out []Candidate
	for key, idx := range d.cancelled {
		if _, ok := d.listed[key]; ok {
			continue
		}
		if len(d.listedBy[key.order]) > 0 {
			out = append(out, d.order[idx])
		}
	}
	return out
}

func inheritFromListing(cancel, listing model.NormalizedEvent) model.NormalizedEvent {
	if cancel.AssetID == "" {
		cancel.AssetID = listing.AssetID
	}
	if cancel.SwapAssetID == "" {
		cancel.SwapAssetID = listing.SwapAssetID
	}
	if cancel.Price == 0 {
		cancel.Price = listing.Price
	}
	if cancel.Quantity == 0 {
		cancel.Quantity = listing.Quantity
	}
	return cancel
}
