package model

// EventKind is the reconciled, viewer-relative kind of a marketplace event.
type EventKind string

const (
	EventKindListed      EventKind = "LISTED"
	EventKindCancelled   EventKind = "CANCELLED"
	EventKindPurchased   EventKind = "PURCHASED"
	EventKindSold        EventKind = "SOLD"
	EventKindTransferIn  EventKind = "TRANSFER_IN"
	EventKindTransferOut EventKind = "TRANSFER_OUT"
)

func (k EventKind) String() string {
	return string(k)
}

// OrderStatus is the order lifecycle state derived from an EventKind.
type OrderStatus string

const (
	OrderStatusListed    OrderStatus = "LISTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusExecuted  OrderStatus = "EXECUTED"
)

// Status maps the kind onto its lifecycle state. Transfers settle
// immediately and therefore report Executed.
func (k EventKind) Status() OrderStatus {
	switch k {
	case EventKindListed:
		return OrderStatusListed
	case EventKindCancelled:
		return OrderStatusCancelled
	default:
		return OrderStatusExecuted
	}
}

// IsTerminal reports whether the kind closes an order lifecycle.
func (k EventKind) IsTerminal() bool {
	return k != EventKindListed
}

// NormalizedEvent is one reconciled marketplace event.
//
// Price and Quantity are base units; zero means the tag was absent or
// unparseable, not a true zero amount.
type NormalizedEvent struct {
	EventID          string      `json:"event_id"`
	OrderID          string      `json:"order_id"`
	Kind             EventKind   `json:"kind"`
	Status           OrderStatus `json:"status"`
	AssetID          string      `json:"asset_id,omitempty"`
	SwapAssetID      string      `json:"swap_asset_id,omitempty"`
	Price            uint64      `json:"price"`
	Quantity         uint64      `json:"quantity"`
	Sender           string      `json:"sender,omitempty"`
	Receiver         string      `json:"receiver,omitempty"`
	Timestamp        *int64      `json:"timestamp,omitempty"`
	IsDirectTransfer bool        `json:"is_direct_transfer"`
}

// SortKey returns the timestamp used for ordering; pending events sort as 0.
func (e NormalizedEvent) SortKey() int64 {
	if e.Timestamp == nil {
		return 0
	}
	return *e.Timestamp
}
