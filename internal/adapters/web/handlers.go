package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-agent/internal/app"
	"invoice-agent/internal/logging"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
	log    *logrus.Entry
}

// NewHandler creates and wires the chi router with all routes. maxBodyBytes
// caps every request body.
func NewHandler(svc app.ApplicationService, maxBodyBytes int64, log *logrus.Entry) http.Handler {
	if log == nil {
		log = logging.Discard()
	}
	h := &Handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(RequestBodyLimit(maxBodyBytes))

	r.Get("/api/health", h.health)
	r.Get("/api/extraction/schema", h.extractionSchema)

	// ── Invoices ──────────────────────────────────────────────────────────────
	r.Post("/api/invoices", h.createInvoice)
	r.Route("/api/invoices/{id}", func(r chi.Router) {
		r.Get("/", h.getInvoiceStatus)
		r.Get("/log", h.getProcessLog)
		r.Post("/supplier/resolve", h.resolveSupplier)
		r.Post("/supplier/selection", h.supplierSelection)
		r.Post("/po-lines/match", h.matchPOLines)
		r.Post("/validate", h.validateInvoice)
		r.Post("/approval", h.recordApproval)
		r.Post("/post", h.postToERP)
	})
	r.Post("/api/posting-results", h.recordPostingResult)

	// ── Supplier master ───────────────────────────────────────────────────────
	r.Post("/api/suppliers/sync", h.syncSuppliers)
	r.Get("/api/suppliers/{number}/validation", h.validateSupplierNumber)

	h.router = r
	return r
}

// health reports ok when the database answers, 503 otherwise.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	if err := h.svc.Health(r.Context()); err != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, response{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, response{Status: "ok"})
}

func (h *Handler) extractionSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(h.svc.ExtractionSchema())
}

// invoiceID parses the {id} URL parameter, writing a 400 when it is not a UUID.
func invoiceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "invalid invoice id", "INVALID_INPUT", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
		return false
	}
	if errors.Is(err, io.EOF) {
		writeError(w, r, "request body is required", "INVALID_INPUT", http.StatusBadRequest)
		return false
	}
	writeError(w, r, "invalid JSON body: "+err.Error(), "INVALID_INPUT", http.StatusBadRequest)
	return false
}
