package app

import (
	"time"

	"github.com/google/uuid"

	"invoice-agent/internal/core"
)

// InvoiceRef addresses a single invoice.
type InvoiceRef struct {
	InvoiceID uuid.UUID `json:"invoice_id" validate:"required"`
}

// ResolveSupplierRequest is the input for ResolveSupplier.
type ResolveSupplierRequest struct {
	InvoiceID uuid.UUID `json:"invoice_id" validate:"required"`
}

// SupplierSelectionRequest is the input for ProcessSupplierSelection.
type SupplierSelectionRequest struct {
	InvoiceID      uuid.UUID          `json:"invoice_id" validate:"required"`
	SelectionType  core.SelectionType `json:"selection_type" validate:"required,oneof=ACCEPT MANUAL UPDATE_NAME"`
	SupplierNumber string             `json:"supplier_number" validate:"required_if=SelectionType MANUAL,max=10"`
	VendorName     string             `json:"vendor_name" validate:"required_if=SelectionType UPDATE_NAME,max=255"`
}

// MatchPOLinesRequest is the input for MatchPOLines. An empty PONumber falls
// back to the number extracted from the invoice.
type MatchPOLinesRequest struct {
	InvoiceID       uuid.UUID `json:"invoice_id" validate:"required"`
	PONumber        string    `json:"po_number" validate:"max=20"`
	FetchFromSource bool      `json:"fetch_from_source"`
}

// ValidateInvoiceRequest is the input for ValidateInvoice.
type ValidateInvoiceRequest struct {
	InvoiceID uuid.UUID `json:"invoice_id" validate:"required"`
}

// ApprovalRequest is the input for RecordApproval.
type ApprovalRequest struct {
	InvoiceID uuid.UUID `json:"invoice_id" validate:"required"`
	Approved  bool      `json:"approved"`
	Approver  string    `json:"approver" validate:"required,max=255"`
	Comments  string    `json:"comments" validate:"max=2000"`
}

// PostInvoiceRequest is the input for PostToERP. PostingType defaults to INVOICE.
type PostInvoiceRequest struct {
	InvoiceID   uuid.UUID        `json:"invoice_id" validate:"required"`
	PostingType core.PostingType `json:"posting_type" validate:"omitempty,oneof=INVOICE CREDIT_MEMO"`
}

// PostingResultRequest is a posting outcome reported by the orchestrator.
type PostingResultRequest struct {
	InvoiceID      uuid.UUID `json:"invoice_id" validate:"required"`
	Success        bool      `json:"success"`
	DocumentNumber string    `json:"document_number" validate:"required_if=Success true,max=20"`
	FiscalYear     string    `json:"fiscal_year" validate:"omitempty,len=4,numeric"`
	Message        string    `json:"message" validate:"max=2000"`
}

// SyncSuppliersRequest is the input for SyncSupplierMaster. Mode defaults to
// delta; Since is ignored for a full sync.
type SyncSuppliersRequest struct {
	Mode  core.SyncMode `json:"mode" validate:"omitempty,oneof=full delta"`
	Since *time.Time    `json:"since,omitempty"`
}
