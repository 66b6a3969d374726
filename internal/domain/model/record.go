package model

// Tag is a single name/value annotation on a ledger record. Names are not
// unique and carry no schema.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Tags is the ordered tag list of a record.
type Tags []Tag

// First returns the value of the first tag with the given name.
func (t Tags) First(name string) (string, bool) {
	for _, tag := range t {
		if tag.Name == name {
			return tag.Value, true
		}
	}
	return "", false
}

// RawRecord is a ledger transaction as returned by the query service.
// Records are immutable once observed.
type RawRecord struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Recipient      string `json:"recipient,omitempty"`
	Tags           Tags   `json:"tags"`
	BlockTimestamp *int64 `json:"block_timestamp,omitempty"` // nil while unconfirmed
}

// Pending reports whether the record has no confirmed block timestamp yet.
func (r RawRecord) Pending() bool {
	return r.BlockTimestamp == nil
}
