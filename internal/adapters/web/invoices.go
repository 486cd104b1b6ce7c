package web

import (
	"io"
	"net/http"

	"invoice-agent/internal/app"
)

// createInvoice handles POST /api/invoices. The body is the raw extraction record.
func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.CreateInvoiceFromExtraction(r.Context(), raw)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// getInvoiceStatus handles GET /api/invoices/{id}.
func (h *Handler) getInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.GetInvoiceStatus(r.Context(), app.InvoiceRef{InvoiceID: id})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

// getProcessLog handles GET /api/invoices/{id}/log.
func (h *Handler) getProcessLog(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetProcessLog(r.Context(), app.InvoiceRef{InvoiceID: id})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) resolveSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ResolveSupplier(r.Context(), app.ResolveSupplierRequest{InvoiceID: id})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) supplierSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	var req app.SupplierSelectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.InvoiceID = id
	res, err := h.svc.ProcessSupplierSelection(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) matchPOLines(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	var req app.MatchPOLinesRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	req.InvoiceID = id
	res, err := h.svc.MatchPOLines(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) validateInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ValidateInvoice(r.Context(), app.ValidateInvoiceRequest{InvoiceID: id})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) recordApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	var req app.ApprovalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.InvoiceID = id
	res, err := h.svc.RecordApproval(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// postToERP handles POST /api/invoices/{id}/post. A BLOCKED outcome is a normal
// 200 response; ERP failures use the error envelope.
func (h *Handler) postToERP(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	var req app.PostInvoiceRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	req.InvoiceID = id
	res, err := h.svc.PostToERP(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// recordPostingResult handles POST /api/posting-results.
func (h *Handler) recordPostingResult(w http.ResponseWriter, r *http.Request) {
	var req app.PostingResultRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.RecordPostingResult(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
