package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"invoice-agent/internal/adapters/web"
	"invoice-agent/internal/app"
	"invoice-agent/internal/core"
)

// fakeApp records the last request and returns the configured error.
type fakeApp struct {
	err       error
	healthErr error
	lastRaw   []byte
	selection app.SupplierSelectionRequest
	match     app.MatchPOLinesRequest
	post      app.PostInvoiceRequest
	sync      app.SyncSuppliersRequest
	panicOn   string
}

func (f *fakeApp) CreateInvoiceFromExtraction(_ context.Context, raw []byte) (*app.CreateInvoiceResult, error) {
	f.lastRaw = raw
	if f.err != nil {
		return nil, f.err
	}
	return &app.CreateInvoiceResult{InvoiceID: uuid.New(), Step: core.StepDoxExtracted}, nil
}

func (f *fakeApp) ResolveSupplier(_ context.Context, req app.ResolveSupplierRequest) (*core.SupplierMatchResult, error) {
	if f.panicOn == "resolve" {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &core.SupplierMatchResult{InvoiceID: req.InvoiceID, Status: core.SupplierMatched}, nil
}

func (f *fakeApp) ProcessSupplierSelection(_ context.Context, req app.SupplierSelectionRequest) (*core.SupplierSelectionResult, error) {
	f.selection = req
	return &core.SupplierSelectionResult{InvoiceID: req.InvoiceID, Success: true}, f.err
}

func (f *fakeApp) MatchPOLines(_ context.Context, req app.MatchPOLinesRequest) (*core.POMatchResult, error) {
	f.match = req
	return &core.POMatchResult{InvoiceID: req.InvoiceID, Status: core.POMatched}, f.err
}

func (f *fakeApp) ValidateInvoice(_ context.Context, req app.ValidateInvoiceRequest) (*core.ValidationResult, error) {
	return &core.ValidationResult{IsValid: true}, f.err
}

func (f *fakeApp) RecordApproval(_ context.Context, req app.ApprovalRequest) (*app.ApprovalResult, error) {
	return &app.ApprovalResult{InvoiceID: req.InvoiceID, Approved: req.Approved}, f.err
}

func (f *fakeApp) PostToERP(_ context.Context, req app.PostInvoiceRequest) (*core.PostingOutcome, error) {
	f.post = req
	if f.err != nil {
		return nil, f.err
	}
	return &core.PostingOutcome{InvoiceID: req.InvoiceID, Status: core.PostingPosted}, nil
}

func (f *fakeApp) RecordPostingResult(_ context.Context, req app.PostingResultRequest) (*app.PostingResultAck, error) {
	return &app.PostingResultAck{InvoiceID: req.InvoiceID, DocumentNumber: req.DocumentNumber}, f.err
}

func (f *fakeApp) GetInvoiceStatus(_ context.Context, req app.InvoiceRef) (*core.InvoiceStatusSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &core.InvoiceStatusSnapshot{InvoiceID: req.InvoiceID, Step: core.StepValidated}, nil
}

func (f *fakeApp) GetProcessLog(_ context.Context, req app.InvoiceRef) (*app.ProcessLogResult, error) {
	return &app.ProcessLogResult{InvoiceID: req.InvoiceID}, f.err
}

func (f *fakeApp) SyncSupplierMaster(_ context.Context, req app.SyncSuppliersRequest) (*core.SupplierSyncResult, error) {
	f.sync = req
	return &core.SupplierSyncResult{Mode: req.Mode}, f.err
}

func (f *fakeApp) ValidateSupplierNumber(_ context.Context, number string) (*core.SupplierValidation, error) {
	return &core.SupplierValidation{SupplierNumber: number, Valid: true}, nil
}

func (f *fakeApp) ExtractionSchema() []byte {
	return []byte(`{"type":"object"}`)
}

func (f *fakeApp) Health(context.Context) error {
	return f.healthErr
}

func serve(t *testing.T, f *fakeApp, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := web.NewHandler(f, 1<<10, nil)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestErrorMapping(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"invalid input", core.NewInputError("approver", "required"), http.StatusBadRequest, "INVALID_INPUT", "approver"},
		{"not found", fmt.Errorf("invoice %s: %w", id, core.ErrNotFound), http.StatusNotFound, "NOT_FOUND", id},
		{"invalid state", fmt.Errorf("cannot post: %w", core.ErrInvalidState), http.StatusConflict, "INVALID_STATE", "cannot post"},
		{"external", core.External("erp", errors.New("supplier is blocked")), http.StatusInternalServerError, "EXTERNAL_ERROR", "supplier is blocked"},
		{"unexpected", errors.New("pool closed"), http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeApp{err: tt.err}, http.MethodGet, "/api/invoices/"+id, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decodeError(t, rec)
			if body["code"] != tt.wantCode || !strings.Contains(body["error"], tt.wantMsg) {
				t.Errorf("unexpected body %v", body)
			}
			if body["request_id"] == "" || body["request_id"] != rec.Header().Get("X-Request-ID") {
				t.Errorf("request id %q does not match header %q", body["request_id"], rec.Header().Get("X-Request-ID"))
			}
		})
	}
}

func TestRoutes(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		method, path, body string
		wantStatus         int
	}{
		{http.MethodPost, "/api/invoices", `{"id":"x"}`, http.StatusCreated},
		{http.MethodGet, "/api/invoices/" + id, "", http.StatusOK},
		{http.MethodGet, "/api/invoices/" + id + "/log", "", http.StatusOK},
		{http.MethodPost, "/api/invoices/" + id + "/supplier/resolve", "", http.StatusOK},
		{http.MethodPost, "/api/invoices/" + id + "/supplier/selection", `{"selection_type":"ACCEPT"}`, http.StatusOK},
		{http.MethodPost, "/api/invoices/" + id + "/po-lines/match", "", http.StatusOK},
		{http.MethodPost, "/api/invoices/" + id + "/validate", "", http.StatusOK},
		{http.MethodPost, "/api/invoices/" + id + "/approval", `{"approved":true,"approver":"jane"}`, http.StatusOK},
		{http.MethodPost, "/api/invoices/" + id + "/post", "", http.StatusOK},
		{http.MethodPost, "/api/posting-results", `{"invoice_id":"` + id + `","success":true,"document_number":"1"}`, http.StatusOK},
		{http.MethodPost, "/api/suppliers/sync", "", http.StatusOK},
		{http.MethodGet, "/api/suppliers/4711/validation", "", http.StatusOK},
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodGet, "/api/extraction/schema", "", http.StatusOK},
		{http.MethodGet, "/api/invoices/not-a-uuid", "", http.StatusBadRequest},
		{http.MethodPost, "/api/invoices/" + id + "/approval", `{"approved":`, http.StatusBadRequest},
		{http.MethodPost, "/api/invoices/" + id + "/approval", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(t, &fakeApp{}, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestPathIDOverridesBody(t *testing.T) {
	f := &fakeApp{}
	id := uuid.New()
	rec := serve(t, f, http.MethodPost, "/api/invoices/"+id.String()+"/supplier/selection",
		`{"invoice_id":"`+uuid.NewString()+`","selection_type":"MANUAL","supplier_number":"4711"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.selection.InvoiceID != id || f.selection.SupplierNumber != "4711" {
		t.Errorf("unexpected request %+v", f.selection)
	}

	serve(t, f, http.MethodPost, "/api/invoices/"+id.String()+"/post", `{"posting_type":"CREDIT_MEMO"}`)
	if f.post.InvoiceID != id || f.post.PostingType != core.PostingCreditMemo {
		t.Errorf("unexpected post request %+v", f.post)
	}

	serve(t, f, http.MethodPost, "/api/invoices/"+id.String()+"/po-lines/match", `{"po_number":"4500000001","fetch_from_source":true}`)
	if f.match.PONumber != "4500000001" || !f.match.FetchFromSource {
		t.Errorf("unexpected match request %+v", f.match)
	}
}

func TestSyncSuppliers_QueryParams(t *testing.T) {
	f := &fakeApp{}
	rec := serve(t, f, http.MethodPost, "/api/suppliers/sync?mode=full&since=2026-03-01T00:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if f.sync.Mode != core.SyncFull || f.sync.Since == nil || !f.sync.Since.Equal(want) {
		t.Errorf("unexpected sync request %+v", f.sync)
	}

	rec = serve(t, f, http.MethodPost, "/api/suppliers/sync?since=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a bad since", rec.Code)
	}
}

func TestBodyLimitAndPanics(t *testing.T) {
	rec := serve(t, &fakeApp{}, http.MethodPost, "/api/invoices", `{"id":"`+strings.Repeat("x", 2<<10)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}

	rec = serve(t, &fakeApp{panicOn: "resolve"}, http.MethodPost, "/api/invoices/"+uuid.NewString()+"/supplier/resolve", "")
	if rec.Code != http.StatusInternalServerError || decodeError(t, rec)["code"] != "INTERNAL_ERROR" {
		t.Errorf("panic not recovered: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthUnavailable(t *testing.T) {
	rec := serve(t, &fakeApp{healthErr: errors.New("db down")}, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	h := web.NewHandler(&fakeApp{}, 1<<10, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "orchestrator-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "orchestrator-42" {
		t.Errorf("X-Request-ID = %q", got)
	}
}
