package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invoice-agent/internal/core"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func score(v float64) *float64 { return &v }

// validInvoice returns an invoice that passes every check.
func validInvoice() core.Invoice {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return core.Invoice{
		ID:                    uuid.New(),
		Step:                  core.StepPOMatched,
		Status:                core.StatusInProgress,
		InvoiceNumber:         "INV-100",
		VendorName:            "Acme Corp",
		CompanyCode:           "1000",
		Currency:              "EUR",
		NetAmount:             dec("100"),
		GrossAmount:           dec("119"),
		TaxAmount:             dec("19"),
		DocumentDate:          &date,
		PONumber:              "4500000001",
		MatchedSupplierNumber: "0000100001",
		MatchedSupplierName:   "ACME Corporation",
		SupplierMatchScore:    score(0.98),
		SupplierMatchStatus:   core.SupplierMatched,
		ThreeWayMatchPassed:   true,
		ThreeWayMatchStatus:   core.ThreeWayNotRequired,
	}
}

func TestEvaluateInvoice(t *testing.T) {
	matched := []core.InvoiceLine{{MatchStatus: core.LineMatched}, {MatchStatus: core.LineMatched}}
	partial := []core.InvoiceLine{{MatchStatus: core.LineMatched}, {MatchStatus: core.LineNoMatch}}
	none := []core.InvoiceLine{{MatchStatus: core.LineNoMatch}}

	tests := []struct {
		name      string
		mutate    func(inv *core.Invoice)
		lines     []core.InvoiceLine
		status    core.ValidationStatus
		wantCodes []string
	}{
		{"valid", func(inv *core.Invoice) {}, matched, core.ValidationValid, nil},
		{"missing currency and net amount", func(inv *core.Invoice) {
			inv.Currency = ""
			inv.NetAmount = nil
		}, matched, core.ValidationInvalid, []string{core.CodeCurrencyMissing, core.CodeNetAmountMissing}},
		{"non-positive amounts", func(inv *core.Invoice) {
			inv.NetAmount = dec("0")
			inv.GrossAmount = dec("-5")
		}, matched, core.ValidationInvalid, []string{core.CodeNetAmountNotPositive, core.CodeGrossNotPositive}},
		{"missing gross, date and company code", func(inv *core.Invoice) {
			inv.GrossAmount = nil
			inv.DocumentDate = nil
			inv.CompanyCode = " "
		}, matched, core.ValidationInvalid, []string{core.CodeGrossAmountMissing, core.CodeDocumentDateMissing, core.CodeCompanyCodeMissing}},
		{"supplier unmatched", func(inv *core.Invoice) {
			inv.MatchedSupplierNumber = ""
			inv.SupplierMatchStatus = core.SupplierNoMatch
		}, matched, core.ValidationInvalid, []string{core.CodeSupplierNotMatched}},
		{"supplier low score warns", func(inv *core.Invoice) {
			inv.SupplierMatchScore = score(0.65)
		}, matched, core.ValidationWithWarnings, []string{core.CodeSupplierLowConfidence}},
		{"supplier awaiting confirmation warns", func(inv *core.Invoice) {
			inv.SupplierMatchScore = score(0.75)
			inv.SupplierMatchStatus = core.SupplierManualReview
		}, matched, core.ValidationWithWarnings, []string{core.CodeSupplierLowConfidence}},
		{"partial PO match warns", func(inv *core.Invoice) {}, partial, core.ValidationWithWarnings, []string{core.CodePOPartialMatch}},
		{"no PO line matched", func(inv *core.Invoice) {}, none, core.ValidationInvalid, []string{core.CodePONoLinesMatched}},
		{"PO check skipped without PO number", func(inv *core.Invoice) { inv.PONumber = "" }, none, core.ValidationValid, nil},
		{"three-way match failed", func(inv *core.Invoice) {
			inv.ThreeWayMatchRequired = true
			inv.ThreeWayMatchPassed = false
			inv.ThreeWayMatchStatus = core.ThreeWayFailed
		}, matched, core.ValidationInvalid, []string{core.CodeGRCheckFailed, core.CodeThreeWayMatchFailed}},
		{"three-way match passed", func(inv *core.Invoice) {
			inv.ThreeWayMatchRequired = true
			inv.ThreeWayMatchStatus = core.ThreeWayPassed
		}, matched, core.ValidationValid, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := validInvoice()
			tt.mutate(&inv)
			r := core.EvaluateInvoice(&inv, tt.lines)
			if r.Status != tt.status {
				t.Errorf("status = %s, want %s (codes %v)", r.Status, tt.status, r.Codes())
			}
			if r.IsValid != (r.ErrorCount == 0) {
				t.Errorf("IsValid=%v inconsistent with ErrorCount=%d", r.IsValid, r.ErrorCount)
			}
			if len(r.Codes()) != len(tt.wantCodes) {
				t.Errorf("codes = %v, want %v", r.Codes(), tt.wantCodes)
			}
			for _, c := range tt.wantCodes {
				if !r.HasCode(c) {
					t.Errorf("missing code %s in %v", c, r.Codes())
				}
			}
		})
	}
}

func insertInvoice(t *testing.T, store *memStore, inv core.Invoice, lines []core.InvoiceLine) {
	t.Helper()
	for i := range lines {
		lines[i].ID = uuid.New()
		lines[i].InvoiceID = inv.ID
		if lines[i].LineNumber == 0 {
			lines[i].LineNumber = (i + 1) * 10
		}
	}
	err := store.InTx(context.Background(), func(tx core.Tx) error {
		if err := tx.InsertInvoice(context.Background(), &inv); err != nil {
			return err
		}
		return tx.InsertInvoiceLines(context.Background(), lines)
	})
	if err != nil {
		t.Fatalf("insert invoice: %v", err)
	}
}

func TestValidateInvoice_MissingFieldsScenario(t *testing.T) {
	store := newMemStore()
	inv := validInvoice()
	inv.Currency = ""
	inv.NetAmount = nil
	insertInvoice(t, store, inv, []core.InvoiceLine{{MatchStatus: core.LineMatched}})
	svc := core.NewValidationService(store, nil)

	r, err := svc.ValidateInvoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("ValidateInvoice: %v", err)
	}
	if r.IsValid || r.Status != core.ValidationInvalid || r.ErrorCount < 2 {
		t.Errorf("got valid=%v status=%s errors=%d", r.IsValid, r.Status, r.ErrorCount)
	}
	if !r.HasCode(core.CodeCurrencyMissing) || !r.HasCode(core.CodeNetAmountMissing) {
		t.Errorf("codes = %v", r.Codes())
	}
	stored := store.invoice(inv.ID)
	if stored.Step != core.StepValidationFailed || stored.Status != core.StatusManualReview {
		t.Errorf("invoice at %s/%s, want VALIDATION_FAILED/MANUAL_REVIEW", stored.Step, stored.Status)
	}
}

func TestValidateInvoice_Idempotent(t *testing.T) {
	store := newMemStore()
	inv := validInvoice()
	inv.SupplierMatchScore = score(0.6)
	insertInvoice(t, store, inv, []core.InvoiceLine{{MatchStatus: core.LineMatched}, {MatchStatus: core.LineNoMatch}})
	svc := core.NewValidationService(store, nil)

	first, err := svc.ValidateInvoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.ValidateInvoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ErrorCount != second.ErrorCount || first.WarningCount != second.WarningCount || first.Status != second.Status {
		t.Errorf("not idempotent: %d/%d/%s vs %d/%d/%s", first.ErrorCount, first.WarningCount, first.Status, second.ErrorCount, second.WarningCount, second.Status)
	}
	if first.Status != core.ValidationWithWarnings {
		t.Errorf("status = %s, want VALID_WITH_WARNINGS", first.Status)
	}
	if n := len(store.logsFor(inv.ID)); n != 2 {
		t.Errorf("expected one log entry per run, got %d", n)
	}
}

func TestValidateInvoice_NotFound(t *testing.T) {
	svc := core.NewValidationService(newMemStore(), nil)
	if _, err := svc.ValidateInvoice(context.Background(), uuid.New()); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
