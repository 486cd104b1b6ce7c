package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"invoice-agent/internal/app"
	"invoice-agent/internal/core"
)

// syncSuppliers handles POST /api/suppliers/sync. mode and since may come from
// the JSON body or the query string; the body wins.
func (h *Handler) syncSuppliers(w http.ResponseWriter, r *http.Request) {
	var req app.SyncSuppliersRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	q := r.URL.Query()
	if req.Mode == "" {
		req.Mode = core.SyncMode(q.Get("mode"))
	}
	if req.Since == nil && q.Get("since") != "" {
		since, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			writeError(w, r, "since must be an RFC 3339 timestamp", "INVALID_INPUT", http.StatusBadRequest)
			return
		}
		req.Since = &since
	}

	res, err := h.svc.SyncSupplierMaster(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// validateSupplierNumber handles GET /api/suppliers/{number}/validation.
func (h *Handler) validateSupplierNumber(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ValidateSupplierNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
