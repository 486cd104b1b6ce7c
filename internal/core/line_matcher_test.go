package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"invoice-agent/internal/core"
)

func TestClassifyPOMatch(t *testing.T) {
	tests := []struct {
		matched, total int
		rate           float64
		confidence     core.Confidence
		status         core.POMatchStatus
	}{
		{10, 10, 1, core.ConfidenceHigh, core.POMatched},
		{9, 10, 0.9, core.ConfidenceHigh, core.POPartial},
		{7, 10, 0.7, core.ConfidenceMedium, core.POPartial},
		{6, 10, 0.6, core.ConfidenceLow, core.POPartial},
		{0, 4, 0, core.ConfidenceLow, core.PONoMatch},
		{0, 0, 0, core.ConfidenceNone, core.PONoItems},
	}
	for _, tt := range tests {
		rate, c, s := core.ClassifyPOMatch(tt.matched, tt.total)
		if !approxEqual(rate, tt.rate) || c != tt.confidence || s != tt.status {
			t.Errorf("ClassifyPOMatch(%d, %d) = %v/%s/%s, want %v/%s/%s", tt.matched, tt.total, rate, c, s, tt.rate, tt.confidence, tt.status)
		}
	}
}

func TestBestPOLine_Threshold(t *testing.T) {
	poLines := []core.POLine{
		{POItem: "00010", Embedding: withScore(0.65)},
		{POItem: "00020", Embedding: withScore(0.72)},
	}
	idx, score, ok := core.BestPOLine(query, poLines, 3, 0.7)
	if idx != 1 || !ok || !approxEqual(score, 0.72) {
		t.Errorf("got idx=%d score=%v ok=%v, want 1/0.72/true", idx, score, ok)
	}
	_, _, ok = core.BestPOLine(query, poLines, 3, 0.8)
	if ok {
		t.Error("score below threshold must not be accepted")
	}
	if idx, _, _ := core.BestPOLine(query, nil, 3, 0.7); idx != -1 {
		t.Errorf("no candidates: idx = %d, want -1", idx)
	}
}

type matchFixture struct {
	store  *memStore
	emb    *fakeEmbedder
	source *fakePOSource
	svc    core.POMatchService
}

func newMatchFixture(cfg core.MatchingConfig) *matchFixture {
	f := &matchFixture{store: newMemStore(), emb: newFakeEmbedder(), source: &fakePOSource{}}
	f.svc = core.NewPOMatchService(f.store, f.emb, f.source, cfg, nil)
	return f
}

func TestMatchPOLines_NoPO(t *testing.T) {
	f := newMatchFixture(core.DefaultMatchingConfig())
	inv := newInvoice(t, f.store, core.Invoice{VendorName: "X"}, []core.InvoiceLine{{Description: "Widget"}})

	res, err := f.svc.MatchPOLines(context.Background(), inv.ID, "", false)
	if err != nil {
		t.Fatalf("MatchPOLines: %v", err)
	}
	if res.Status != core.PONoPO {
		t.Errorf("status = %s, want NO_PO", res.Status)
	}
	if got := f.store.invoice(inv.ID).Step; got != core.StepPOMatchSkipped {
		t.Errorf("step = %s, want PO_MATCH_SKIPPED", got)
	}
	if f.source.calls != 0 {
		t.Error("ERP must not be called without a PO number")
	}
}

func TestMatchPOLines_NoItems(t *testing.T) {
	f := newMatchFixture(core.DefaultMatchingConfig())
	inv := newInvoice(t, f.store, core.Invoice{VendorName: "X", PONumber: "4500000123"}, nil)

	res, err := f.svc.MatchPOLines(context.Background(), inv.ID, "", false)
	if err != nil {
		t.Fatalf("MatchPOLines: %v", err)
	}
	if res.Status != core.PONoItems || res.MatchedCount != 0 {
		t.Errorf("got status=%s matched=%d, want NO_ITEMS/0", res.Status, res.MatchedCount)
	}
}

func TestMatchPOLines_ConsolidatesDuplicates(t *testing.T) {
	f := newMatchFixture(core.DefaultMatchingConfig())
	f.source.lines = []core.POLine{
		{POItem: "0010", MaterialNumber: "MAT-1", Description: "Consulting", OrderedQuantity: decimal.NewFromInt(10), ReceivedQuantity: decimal.NewFromInt(8), UnitPrice: decimal.NewFromInt(20)},
		{POItem: "0020", MaterialNumber: "MAT-2", Description: "Travel", OrderedQuantity: decimal.NewFromInt(1)},
	}
	f.emb.set("MAT-1 Consulting", query)
	f.emb.set("MAT-2 Travel", []float32{0, 1})
	f.emb.set("Consulting day 1", withScore(0.9))
	f.emb.set("Consulting day 2", withScore(0.85))

	inv := newInvoice(t, f.store, core.Invoice{VendorName: "X", PONumber: "PO123"}, []core.InvoiceLine{
		{LineNumber: 1, Description: "Consulting day 1", Quantity: decimal.NewFromInt(5), NetAmount: decimal.NewFromInt(100)},
		{LineNumber: 2, Description: "Consulting day 2", Quantity: decimal.NewFromInt(3), NetAmount: decimal.NewFromInt(60)},
	})

	res, err := f.svc.MatchPOLines(context.Background(), inv.ID, "", false)
	if err != nil {
		t.Fatalf("MatchPOLines: %v", err)
	}
	if f.source.calls != 1 {
		t.Errorf("expected one ERP fetch for an empty cache, got %d", f.source.calls)
	}
	if res.Consolidation.GroupsConsolidated != 1 || res.Consolidation.LinesDeleted != 1 {
		t.Errorf("consolidation = %+v, want 1/1", res.Consolidation)
	}
	if res.TotalLines != 1 || res.MatchedCount != 1 || res.Status != core.POMatched || res.Confidence != core.ConfidenceHigh {
		t.Errorf("result total=%d matched=%d status=%s confidence=%s", res.TotalLines, res.MatchedCount, res.Status, res.Confidence)
	}
	if res.Matches[0].POItemKey != "PO123-0010" {
		t.Errorf("matched PO item = %q, want PO123-0010", res.Matches[0].POItemKey)
	}

	lines := f.store.linesOf(inv.ID)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line after consolidation, got %d", len(lines))
	}
	l := lines[0]
	if !l.Quantity.Equal(decimal.NewFromInt(8)) || !l.NetAmount.Equal(decimal.NewFromInt(160)) {
		t.Errorf("consolidated qty=%s amount=%s, want 8/160", l.Quantity, l.NetAmount)
	}
	if !strings.HasSuffix(l.Description, "(Consolidated)") {
		t.Errorf("description %q lacks marker", l.Description)
	}

	stored := f.store.invoice(inv.ID)
	if stored.Step != core.StepPOMatched || stored.Status != core.StatusInProgress {
		t.Errorf("invoice at %s/%s, want PO_MATCHED/IN_PROGRESS", stored.Step, stored.Status)
	}
	if stored.ThreeWayMatchRequired || stored.ThreeWayMatchStatus != core.ThreeWayNotRequired {
		t.Errorf("three-way match should not be required, got %v/%s", stored.ThreeWayMatchRequired, stored.ThreeWayMatchStatus)
	}

	// A re-run queries the survivor by its original description.
	again, err := f.svc.MatchPOLines(context.Background(), inv.ID, "", false)
	if err != nil {
		t.Fatalf("re-run MatchPOLines: %v", err)
	}
	if again.MatchedCount != 1 || again.Matches[0].POItemKey != "PO123-0010" {
		t.Errorf("re-run matched=%d, want the same PO item", again.MatchedCount)
	}
}

func TestMatchPOLines_ThresholdAndThreeWayMatch(t *testing.T) {
	f := newMatchFixture(core.DefaultMatchingConfig())
	f.source.lines = []core.POLine{
		{POItem: "0010", Description: "Steel beams", IsGoodsReceiptBased: true, ReceivedQuantity: decimal.Zero},
	}
	f.emb.set("Steel beams", query)
	f.emb.set("S-1 Steel beam 6m", withScore(0.95))
	f.emb.set("Freight", withScore(0.5))

	inv := newInvoice(t, f.store, core.Invoice{VendorName: "X", PONumber: "4500000777"}, []core.InvoiceLine{
		{LineNumber: 10, MaterialNumber: "S-1", Description: "Steel beam 6m", Quantity: decimal.NewFromInt(2), NetAmount: decimal.NewFromInt(500)},
		{LineNumber: 20, Description: "Freight", Quantity: decimal.NewFromInt(1), NetAmount: decimal.NewFromInt(50)},
		{LineNumber: 30},
	})

	res, err := f.svc.MatchPOLines(context.Background(), inv.ID, "", false)
	if err != nil {
		t.Fatalf("MatchPOLines: %v", err)
	}
	if res.MatchedCount != 1 || res.UnmatchedCount != 2 || res.Status != core.POPartial {
		t.Errorf("matched=%d unmatched=%d status=%s, want 1/2/PARTIAL", res.MatchedCount, res.UnmatchedCount, res.Status)
	}
	if !res.ThreeWayMatchRequired || res.ThreeWayMatchPassed || res.ThreeWayMatchStatus != core.ThreeWayFailed {
		t.Errorf("three-way = %v/%v/%s, want required, not passed, FAILED", res.ThreeWayMatchRequired, res.ThreeWayMatchPassed, res.ThreeWayMatchStatus)
	}

	byNumber := map[int]core.InvoiceLine{}
	for _, l := range f.store.linesOf(inv.ID) {
		byNumber[l.LineNumber] = l
	}
	if l := byNumber[20]; l.MatchStatus != core.LineNoMatch || l.MatchScore == nil || l.MatchedPOLineID != nil {
		t.Errorf("freight line: status=%s score=%v ref=%v; want NO_MATCH with score recorded", l.MatchStatus, l.MatchScore, l.MatchedPOLineID)
	}
	if l := byNumber[30]; l.MatchStatus != core.LinePending {
		t.Errorf("line without text should stay PENDING, got %s", l.MatchStatus)
	}
	if got := f.store.invoice(inv.ID).Status; got != core.StatusManualReview {
		t.Errorf("status = %s, want MANUAL_REVIEW", got)
	}
}

func TestMatchPOLines_ConfigurableThreshold(t *testing.T) {
	cfg := core.DefaultMatchingConfig()
	cfg.POAcceptThreshold = 0.3
	f := newMatchFixture(cfg)
	f.source.lines = []core.POLine{{POItem: "0010", Description: "Cleaning"}}
	f.emb.set("Cleaning", query)
	f.emb.set("Janitorial services", withScore(0.4))
	inv := newInvoice(t, f.store, core.Invoice{PONumber: "PO9"}, []core.InvoiceLine{{Description: "Janitorial services", Quantity: decimal.NewFromInt(1), NetAmount: decimal.NewFromInt(10)}})

	res, err := f.svc.MatchPOLines(context.Background(), inv.ID, "", false)
	if err != nil {
		t.Fatalf("MatchPOLines: %v", err)
	}
	if res.MatchedCount != 1 {
		t.Errorf("score 0.4 should be accepted at threshold 0.3, matched=%d", res.MatchedCount)
	}
}

func TestMatchPOLines_UsesCacheUnlessRefreshRequested(t *testing.T) {
	f := newMatchFixture(core.DefaultMatchingConfig())
	f.source.lines = []core.POLine{{POItem: "0010", Description: "Paper"}}
	f.emb.set("Paper", query)
	inv := newInvoice(t, f.store, core.Invoice{PONumber: "PO1"}, []core.InvoiceLine{{Description: "Paper", Quantity: decimal.NewFromInt(1), NetAmount: decimal.NewFromInt(1)}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.svc.MatchPOLines(ctx, inv.ID, "", false); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if f.source.calls != 1 {
		t.Errorf("expected cached PO lines on re-run, ERP called %d times", f.source.calls)
	}
	if _, err := f.svc.MatchPOLines(ctx, inv.ID, "", true); err != nil {
		t.Fatalf("refresh run: %v", err)
	}
	if f.source.calls != 2 {
		t.Errorf("fetchFromSource should refresh, ERP called %d times", f.source.calls)
	}
	var cached []core.POLine
	_ = f.store.InTx(ctx, func(tx core.Tx) error {
		var err error
		cached, err = tx.ListPOLines(ctx, inv.ID, "PO1")
		return err
	})
	if len(cached) != 1 {
		t.Errorf("refresh must upsert by PO item, got %d cached lines", len(cached))
	}
}

func TestMatchPOLines_DownstreamFailures(t *testing.T) {
	t.Run("ERP failure", func(t *testing.T) {
		f := newMatchFixture(core.DefaultMatchingConfig())
		f.source.err = errors.New("connection refused")
		inv := newInvoice(t, f.store, core.Invoice{PONumber: "PO1"}, []core.InvoiceLine{{Description: "Paper"}})

		_, err := f.svc.MatchPOLines(context.Background(), inv.ID, "", false)
		if !errors.Is(err, core.ErrExternal) {
			t.Fatalf("expected ErrExternal, got %v", err)
		}
		stored := f.store.invoice(inv.ID)
		if stored.Status != core.StatusError || stored.Step != core.StepDoxExtracted {
			t.Errorf("invoice at %s/%s, want DOX_EXTRACTED/ERROR", stored.Step, stored.Status)
		}
		for _, l := range f.store.linesOf(inv.ID) {
			if l.MatchStatus != core.LinePending {
				t.Errorf("line mutated to %s on failure", l.MatchStatus)
			}
		}
	})

	t.Run("oracle failure", func(t *testing.T) {
		f := newMatchFixture(core.DefaultMatchingConfig())
		f.source.lines = []core.POLine{{POItem: "0010", Description: "Paper"}}
		f.emb.err = errors.New("oracle down")
		inv := newInvoice(t, f.store, core.Invoice{PONumber: "PO1"}, []core.InvoiceLine{{Description: "Paper"}})

		if _, err := f.svc.MatchPOLines(context.Background(), inv.ID, "", false); !errors.Is(err, core.ErrExternal) {
			t.Fatalf("expected ErrExternal, got %v", err)
		}
	})

	t.Run("unknown invoice", func(t *testing.T) {
		f := newMatchFixture(core.DefaultMatchingConfig())
		if _, err := f.svc.MatchPOLines(context.Background(), [16]byte{1}, "PO1", false); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
