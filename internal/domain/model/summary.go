package model

// ProfileSummary is the denormalized profile attached to page events.
type ProfileSummary struct {
	ID            string `json:"id"`
	WalletAddress string `json:"wallet_address"`
	Username      string `json:"username,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	Thumbnail     string `json:"thumbnail,omitempty"`
}

// AssetSummary is the denormalized asset attached to page events.
type AssetSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// EnrichedEvent decorates an event with summaries resolved for its page.
// Nil summaries mean the lookup failed or had no match.
type EnrichedEvent struct {
	NormalizedEvent
	SenderProfile   *ProfileSummary `json:"sender_profile,omitempty"`
	ReceiverProfile *ProfileSummary `json:"receiver_profile,omitempty"`
	Asset           *AssetSummary   `json:"asset,omitempty"`
}

// Page is one fixed-size slice of the sorted event set.
type Page []EnrichedEvent

// View is what a session hands to its consumer.
type View struct {
	Events      Page      `json:"events"`
	Cursor      int       `json:"cursor"`
	PageCount   int       `json:"page_count"`
	Total       int       `json:"total"`
	SortOrder   SortOrder `json:"sort_order"`
	HasNext     bool      `json:"has_next"`
	HasPrevious bool      `json:"has_previous"`
}
