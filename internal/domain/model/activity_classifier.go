package model

// ActivityCategory is the semantic category of a record before it is
// resolved against a viewing address.
type ActivityCategory string

const (
	ActivityCategoryListing      ActivityCategory = "LISTING"
	ActivityCategoryExecution    ActivityCategory = "EXECUTION"
	ActivityCategoryCancellation ActivityCategory = "CANCELLATION"
	ActivityCategoryTransfer     ActivityCategory = "TRANSFER"
)

// ClassifyActivity maps a category plus the viewer's relation to the record
// into one of the six canonical EventKind values.
//
// viewerIsBeneficiary means the viewing address is the party credited by the
// record: the buyer of an execution or the receiver of a transfer. It is
// ignored for listings and cancellations. Unknown categories report false.
func ClassifyActivity(category ActivityCategory, viewerIsBeneficiary bool) (EventKind, bool) {
	switch category {
	case ActivityCategoryListing:
		return EventKindListed, true

	case ActivityCategoryCancellation:
		return EventKindCancelled, true

	case ActivityCategoryExecution:
		if viewerIsBeneficiary {
			return EventKindPurchased, true
		}
		return EventKindSold, true

	case ActivityCategoryTransfer:
		if viewerIsBeneficiary {
			return EventKindTransferIn, true
		}
		return EventKindTransferOut, true

	default:
		return "", false
	}
}
