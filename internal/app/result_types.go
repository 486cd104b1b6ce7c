package app

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"invoice-agent/internal/core"
)

// CreateInvoiceResult is returned by CreateInvoiceFromExtraction.
type CreateInvoiceResult struct {
	InvoiceID     uuid.UUID          `json:"invoice_id"`
	DocumentID    string             `json:"document_id"`
	InvoiceNumber string             `json:"invoice_number"`
	VendorName    string             `json:"vendor_name"`
	PONumber      string             `json:"po_number,omitempty"`
	Step          core.InvoiceStep   `json:"step"`
	Status        core.InvoiceStatus `json:"status"`
	LineCount     int                `json:"line_count"`
}

// ApprovalResult is returned by RecordApproval.
type ApprovalResult struct {
	InvoiceID  uuid.UUID          `json:"invoice_id"`
	Approved   bool               `json:"approved"`
	ApprovedBy string             `json:"approved_by"`
	ApprovedAt *time.Time         `json:"approved_at,omitempty"`
	Step       core.InvoiceStep   `json:"step"`
	Status     core.InvoiceStatus `json:"status"`
	Message    string             `json:"message"`
}

// PostingResultAck is returned by RecordPostingResult.
type PostingResultAck struct {
	InvoiceID      uuid.UUID          `json:"invoice_id"`
	Step           core.InvoiceStep   `json:"step"`
	Status         core.InvoiceStatus `json:"status"`
	DocumentNumber string             `json:"document_number,omitempty"`
	FiscalYear     string             `json:"fiscal_year,omitempty"`
	RetryCount     int                `json:"retry_count"`
	Message        string             `json:"message"`
}

// ProcessLogResult is returned by GetProcessLog.
type ProcessLogResult struct {
	InvoiceID uuid.UUID         `json:"invoice_id"`
	Entries   []ProcessLogEntry `json:"entries"`
}

// ProcessLogEntry is the wire form of one audit record.
type ProcessLogEntry struct {
	Step      core.InvoiceStep   `json:"step"`
	Status    core.InvoiceStatus `json:"status"`
	Result    core.StepResult    `json:"result"`
	Message   string             `json:"message"`
	Details   json.RawMessage    `json:"details,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}
