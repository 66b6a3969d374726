package normalizer

import "github.com/emperorhan/atomic-activity/internal/domain/model"

// Field is a semantic field that may be written under several tag names.
type Field string

const (
	FieldAssetID   Field = "asset_id"
	FieldSwapToken Field = "swap_token"
	FieldAction    Field = "action"
	FieldOrderID   Field = "order_id"
	FieldPrice     Field = "price"
	FieldQuantity  Field = "quantity"
	FieldSender    Field = "sender"
	FieldRecipient Field = "recipient"
	FieldCreator   Field = "creator"
	FieldMessage   Field = "message"
)

// TagAliases lists, per field, the tag names tried in priority order.
// The tagging schema evolved without removing old names, so newer names
// come first. Adding a historical alias is an edit to this table.
var TagAliases = map[Field][]string{
	FieldAssetID:   {"DominantToken", "X-Dominant-Token", "Asset-Id", "Asset", "Data-Source", "Target", "Contract", "Token-Id", "Id"},
	FieldSwapToken: {"SwapToken", "X-Swap-Token", "Swap-Token"},
	FieldAction:    {"Action", "X-Order-Action", "X-Action"},
	FieldOrderID:   {"OrderId", "X-Order-Id", "Order-Id"},
	FieldPrice:     {"Price", "X-Price", "Unit-Price"},
	FieldQuantity:  {"Quantity", "X-Quantity", "Amount"},
	FieldSender:    {"Sender", "From-Process", "X-Sender"},
	FieldRecipient: {"Recipient", "X-Recipient", "To-Process"},
	FieldCreator:   {"Creator", "X-Creator"},
	FieldMessage:   {"Message", "X-Message", "Data"},
}

// RoleTags are the tags whose values name a party to the record. Every one
// is checked against the blacklist, independent of field resolution.
var RoleTags = []string{"Recipient", "Sender", "From-Process", "To-Process", "Creator", "X-Recipient", "X-Sender", "X-Creator"}

// Resolve returns the first non-empty value among the field's aliases. For
// a repeated tag name the first occurrence wins.
func Resolve(tags model.Tags, field Field) (value string, tagName string, ok bool) {
	for _, name := range TagAliases[field] {
		if v, found := tags.First(name); found && v != "" {
			return v, name, true
		}
	}
	return "", "", false
}

// ResolveString is Resolve without the provenance.
func ResolveString(tags model.Tags, field Field) string {
	v, _, _ := Resolve(tags, field)
	return v
}
