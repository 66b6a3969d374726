package classifier

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/pipeline/normalizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	paymentToken = "PAY"
	seller       = "SELLER"
	buyer        = "BUYER"
)

func record(id, owner, recipient string, ts int64, kv ...string) model.RawRecord {
	tags := make(model.Tags, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		tags = append(tags, model.Tag{Name: kv[i], Value: kv[i+1]})
	}
	rec := model.RawRecord{ID: id, Owner: owner, Recipient: recipient, Tags: tags}
	if ts != 0 {
		rec.BlockTimestamp = &ts
	}
	return rec
}

func normalize(query string, raws ...model.RawRecord) []normalizer.Record {
	return normalizer.New(slog.Default()).Normalize(query, raws)
}

func newTestClassifier() *Classifier {
	return New([]string{paymentToken}, slog.Default())
}

func TestClassify_CreateThenCancelYieldsOneCancelled(t *testing.T) {
	recs := normalize("orders",
		record("L1", "U1", "", 10, "Action", "Create-Order", "OrderId", "X", "DominantToken", "ASSET1", "Price", "100"),
		record("C1", "U1", "", 20, "Action", "Cancel-Order", "OrderId", "X"),
	)

	got := newTestClassifier().Classify(recs, "U1")

	require.Len(t, got, 1)
	ev := got[0].Event
	assert.Equal(t, "X", ev.OrderID)
	assert.Equal(t, model.EventKindCancelled, ev.Kind)
	assert.Equal(t, model.OrderStatusCancelled, ev.Status)
	assert.Equal(t, "C1", ev.EventID)
	assert.Equal(t, "ASSET1", ev.AssetID, "cancellation inherits the listing asset")
	assert.Equal(t, uint64(100), ev.Price)
}

func TestClassify_CancelBeforeListingInMergeOrder(t *testing.T) {
	recs := append(
		normalize("cancels", record("C1", "U1", "", 20, "Action", "Cancel-Order", "OrderId", "X")),
		normalize("orders", record("L1", "U1", "", 10, "Action", "Create-Order", "OrderId", "X", "DominantToken", "ASSET1"))...,
	)

	got := newTestClassifier().Classify(recs, "U1")

	require.Len(t, got, 1)
	assert.Equal(t, model.EventKindCancelled, got[0].Event.Kind)
	assert.Equal(t, "ASSET1", got[0].Event.AssetID)
}

func TestClassify_PrimaryAndAltSurfaceSameTransaction(t *testing.T) {
	tx := record("TX1", "U1", "", 10, "Action", "Create-Order", "DominantToken", "ASSET1", "X-Order-Action", "Create-Order")
	recs := append(normalize("orders.primary", tx), normalize("orders.alt", tx)...)

	got := newTestClassifier().Classify(recs, "U1")

	require.Len(t, got, 1)
	assert.Equal(t, "TX1", got[0].Event.EventID)
	assert.Equal(t, "TX1", got[0].Event.OrderID, "order id falls back to event id")
	assert.Equal(t, model.EventKindListed, got[0].Event.Kind)
}

func TestClassify_ListingDedupByOrderIDFirstWins(t *testing.T) {
	recs := normalize("orders",
		record("A", "U1", "", 10, "Action", "Create-Order", "OrderId", "O1", "DominantToken", "ASSET1", "Price", "5"),
		record("B", "U1", "", 11, "X-Order-Action", "Create-Order", "X-Order-Id", "O1", "X-Dominant-Token", "ASSET1", "X-Price", "7"),
	)

	got := newTestClassifier().Classify(recs, "U1")

	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Event.EventID)
	assert.Equal(t, uint64(5), got[0].Event.Price)
}

func TestClassify_CancellationPairsOnlyWithSameAuthor(t *testing.T) {
	listing := record("L1", seller, "", 10, "Action", "Create-Order", "OrderId", "X", "DominantToken", "ASSET1", "Price", "5")

	tests := []struct {
		name     string
		recs     []model.RawRecord
		wantIDs  []string
		wantKind []model.EventKind
	}{
		{
			name:     "stranger cannot cancel the order",
			recs:     []model.RawRecord{listing, record("C1", "STRANGER", "", 20, "Action", "Cancel-Order", "OrderId", "X")},
			wantIDs:  []string{"L1"},
			wantKind: []model.EventKind{model.EventKindListed},
		},
		{
			name:     "stranger cancellation seen first",
			recs:     []model.RawRecord{record("C1", "STRANGER", "", 20, "Action", "Cancel-Order", "OrderId", "X"), listing},
			wantIDs:  []string{"L1"},
			wantKind: []model.EventKind{model.EventKindListed},
		},
		{
			name: "forged listing does not take the order slot",
			recs: []model.RawRecord{
				record("L0", "STRANGER", "", 9, "Action", "Create-Order", "OrderId", "X", "DominantToken", "ASSET1", "Price", "1"),
				listing,
				record("C1", seller, "", 20, "Action", "Cancel-Order", "OrderId", "X"),
			},
			wantIDs:  []string{"L0", "C1"},
			wantKind: []model.EventKind{model.EventKindListed, model.EventKindCancelled},
		},
		{
			name: "declared sender stands in for a missing signer",
			recs: []model.RawRecord{
				record("L1", "", "", 10, "Action", "Create-Order", "OrderId", "X", "DominantToken", "ASSET1", "Sender", seller),
				record("C1", "", "", 20, "Action", "Cancel-Order", "OrderId", "X", "Sender", seller),
			},
			wantIDs:  []string{"C1"},
			wantKind: []model.EventKind{model.EventKindCancelled},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestClassifier().Classify(normalize("orders", tt.recs...), seller)

			ids := make([]string, 0, len(got))
			kinds := make([]model.EventKind, 0, len(got))
			for _, cand := range got {
				ids = append(ids, cand.Event.EventID)
				kinds = append(kinds, cand.Event.Kind)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantKind, kinds)
		})
	}
}

func TestClassify_ExcludedRecordsDoNotCorrelate(t *testing.T) {
	excludeOwner := func(owner string) Exclusion {
		return func(c Candidate) (string, bool) {
			if c.Owner == owner {
				return "blacklisted", true
			}
			if c.RawPrice == "None" {
				return "none_price", true
			}
			return "", false
		}
	}

	tests := []struct {
		name string
		recs []model.RawRecord
	}{
		{
			name: "excluded cancellation",
			recs: []model.RawRecord{
				record("L1", seller, "", 10, "Action", "Create-Order", "OrderId", "X", "DominantToken", "ASSET1"),
				record("C1", seller, "", 20, "Action", "Cancel-Order", "OrderId", "X", "Price", "None"),
			},
		},
		{
			name: "excluded listing seen first",
			recs: []model.RawRecord{
				record("L0", "SPAMMER", "", 9, "Action", "Create-Order", "OrderId", "X", "DominantToken", "ASSET1"),
				record("L1", seller, "", 10, "Action", "Create-Order", "OrderId", "X", "DominantToken", "ASSET1"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier().WithExclusion(excludeOwner("SPAMMER"))

			got := c.Classify(normalize("orders", tt.recs...), seller)

			require.Len(t, got, 1)
			assert.Equal(t, "L1", got[0].Event.EventID)
			assert.Equal(t, model.EventKindListed, got[0].Event.Kind)
		})
	}
}

func TestDeduper_Unauthorized(t *testing.T) {
	d := NewDeduper()
	listing := Candidate{Owner: seller, Event: model.NormalizedEvent{EventID: "L1", OrderID: "X", Kind: model.EventKindListed}}
	forged := Candidate{Owner: "STRANGER", Event: model.NormalizedEvent{EventID: "C1", OrderID: "X", Kind: model.EventKindCancelled}}
	orphan := Candidate{Owner: "OTHER", Event: model.NormalizedEvent{EventID: "C2", OrderID: "Z", Kind: model.EventKindCancelled}}

	require.True(t, d.Add(listing))
	require.True(t, d.Add(forged))
	require.True(t, d.Add(orphan))

	unauthorized := d.Unauthorized()
	require.Len(t, unauthorized, 1)
	assert.Equal(t, "C1", unauthorized[0].Event.EventID)

	got := d.Result()
	require.Len(t, got, 2)
	assert.Equal(t, "L1", got[0].Event.EventID)
	assert.Equal(t, "C2", got[1].Event.EventID, "a cancellation of an unseen order is kept")
}

func TestClassify_PerspectiveRelabeling(t *testing.T) {
	// Buyer pays with the payment token for ASSET1.
	fill := record("F1", buyer, "ORDERBOOK", 10,
		"Action", "Create-Order",
		"DominantToken", paymentToken,
		"SwapToken", "ASSET1",
		"OrderId", "O1",
		"Quantity", "3",
	)

	tests := []struct {
		name   string
		viewer string
		want   model.EventKind
	}{
		{name: "buyer", viewer: buyer, want: model.EventKindPurchased},
		{name: "seller", viewer: seller, want: model.EventKindSold},
		{name: "asset scope without viewer", viewer: "", want: model.EventKindSold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestClassifier().Classify(normalize("executions", fill), tt.viewer)
			require.Len(t, got, 1)
			ev := got[0].Event
			assert.Equal(t, tt.want, ev.Kind)
			assert.Equal(t, model.OrderStatusExecuted, ev.Status)
			assert.Equal(t, "ASSET1", ev.AssetID)
			assert.Equal(t, paymentToken, ev.SwapAssetID)
			assert.Equal(t, buyer, ev.Sender)
			assert.Equal(t, uint64(3), ev.Quantity)
		})
	}
}

func TestClassify_ExecutionsAreKeyedByEventID(t *testing.T) {
	recs := normalize("executions",
		record("F1", buyer, "", 10, "Action", "Create-Order", "DominantToken", paymentToken, "SwapToken", "ASSET1", "OrderId", "O1"),
		record("F2", "OTHER", "", 11, "Action", "Create-Order", "DominantToken", paymentToken, "SwapToken", "ASSET1", "OrderId", "O1"),
	)

	got := newTestClassifier().Classify(recs, buyer)

	require.Len(t, got, 2)
	assert.Equal(t, model.EventKindPurchased, got[0].Event.Kind)
	assert.Equal(t, model.EventKindSold, got[1].Event.Kind)
}

func TestClassify_Transfers(t *testing.T) {
	tests := []struct {
		name         string
		raw          model.RawRecord
		viewer       string
		wantKind     model.EventKind
		wantAsset    string
		wantReceiver string
	}{
		{
			name:         "outgoing transfer addressed to token process",
			raw:          record("T1", "ME", "TOKEN", 10, "Action", "Transfer", "Recipient", "FRIEND", "Quantity", "1"),
			viewer:       "ME",
			wantKind:     model.EventKindTransferOut,
			wantAsset:    "TOKEN",
			wantReceiver: "FRIEND",
		},
		{
			name:         "incoming transfer",
			raw:          record("T2", "FRIEND", "TOKEN", 10, "Action", "Transfer", "Recipient", "ME"),
			viewer:       "ME",
			wantKind:     model.EventKindTransferIn,
			wantAsset:    "TOKEN",
			wantReceiver: "ME",
		},
		{
			name:         "credit notice from token process",
			raw:          record("T3", "TOKEN", "ME", 10, "Action", "Credit-Notice", "Sender", "FRIEND"),
			viewer:       "ME",
			wantKind:     model.EventKindTransferIn,
			wantAsset:    "TOKEN",
			wantReceiver: "ME",
		},
		{
			name:         "explicit asset tag wins over target",
			raw:          record("T4", "ME", "TOKEN", 10, "X-Action", "Transfer", "Asset-Id", "ASSET9", "X-Recipient", "FRIEND"),
			viewer:       "ME",
			wantKind:     model.EventKindTransferOut,
			wantAsset:    "ASSET9",
			wantReceiver: "FRIEND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestClassifier().Classify(normalize("transfers", tt.raw), tt.viewer)
			require.Len(t, got, 1)
			ev := got[0].Event
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.wantAsset, ev.AssetID)
			assert.Equal(t, tt.wantReceiver, ev.Receiver)
			assert.True(t, ev.IsDirectTransfer)
			assert.Empty(t, ev.SwapAssetID)
		})
	}
}

func TestClassify_UnknownActionDroppedWithDiagnostic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	recs := normalize("orders",
		record("U1", "A", "", 10, "Action", "Eval"),
		record("U2", "A", "", 10, "Data-Protocol", "ao"),
	)

	got := New([]string{paymentToken}, logger).Classify(recs, "A")

	assert.Empty(t, got)
	assert.Contains(t, buf.String(), "dropping unclassifiable record")
	assert.Contains(t, buf.String(), "id=U1")
	assert.Contains(t, buf.String(), "id=U2")
}

func TestClassify_Idempotent(t *testing.T) {
	recs := normalize("mixed",
		record("L1", seller, "", 10, "Action", "Create-Order", "OrderId", "X", "DominantToken", "ASSET1"),
		record("L2", seller, "", 11, "Action", "Create-Order", "OrderId", "Y", "DominantToken", "ASSET2"),
		record("C1", seller, "", 12, "Action", "Cancel-Order", "OrderId", "X"),
		record("F1", buyer, "", 13, "Action", "Create-Order", "DominantToken", paymentToken, "SwapToken", "ASSET2", "OrderId", "Y"),
		record("F1", buyer, "", 13, "Action", "Create-Order", "DominantToken", paymentToken, "SwapToken", "ASSET2", "OrderId", "Y"),
		record("T1", seller, "ASSET3", 14, "Action", "Transfer", "Recipient", buyer),
	)

	c := newTestClassifier()
	first := c.Classify(recs, seller)
	second := c.Classify(recs, seller)

	assert.Equal(t, first, second)
	require.Len(t, first, 4)
	ids := make([]string, 0, len(first))
	for _, cand := range first {
		ids = append(ids, cand.Event.EventID)
	}
	assert.Equal(t, []string{"L2", "C1", "F1", "T1"}, ids)
}

func TestClassify_CarriesFilterEvidence(t *testing.T) {
	recs := normalize("orders",
		record("L1", seller, "", 10, "Action", "Create-Order", "DominantToken", "ASSET1", "Price", "None", "Message", "hi", "Creator", "C"),
	)

	got := newTestClassifier().Classify(recs, seller)

	require.Len(t, got, 1)
	assert.Equal(t, "None", got[0].RawPrice)
	assert.Equal(t, uint64(0), got[0].Event.Price)
	assert.Equal(t, "hi", got[0].Message)
	assert.Contains(t, got[0].Roles, "C")
	assert.Contains(t, got[0].Roles, seller)
}

func TestDeduper_AddIsNoOpForKnownEvent(t *testing.T) {
	d := NewDeduper()
	cand := Candidate{Event: model.NormalizedEvent{EventID: "E", OrderID: "E", Kind: model.EventKindListed}}

	assert.True(t, d.Add(cand))
	assert.False(t, d.Add(cand))
	assert.Len(t, d.Result(), 1)
}

func TestIsPaymentToken(t *testing.T) {
	c := New([]string{"PAY", ""}, nil)
	assert.True(t, c.IsPaymentToken("PAY"))
	assert.False(t, c.IsPaymentToken(""))
	assert.False(t, c.IsPaymentToken("ASSET"))
}
