package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStep is the fine-grained lifecycle position of an invoice.
type InvoiceStep string

const (
	StepReceived            InvoiceStep = "RECEIVED"
	StepDoxExtracted        InvoiceStep = "DOX_EXTRACTED"
	StepSupplierMatched     InvoiceStep = "SUPPLIER_MATCHED"
	StepSupplierMatchFailed InvoiceStep = "SUPPLIER_MATCH_FAILED"
	StepPOMatched           InvoiceStep = "PO_MATCHED"
	StepPOMatchSkipped      InvoiceStep = "PO_MATCH_SKIPPED"
	StepValidated           InvoiceStep = "VALIDATED"
	StepValidationFailed    InvoiceStep = "VALIDATION_FAILED"
	StepApproved            InvoiceStep = "APPROVED"
	StepRejected            InvoiceStep = "REJECTED"
	StepPosted              InvoiceStep = "POSTED"
	StepPostFailed          InvoiceStep = "POST_FAILED"
)

// InvoiceStatus is the coarse projection of the step used by the orchestrator UI.
type InvoiceStatus string

const (
	StatusNew          InvoiceStatus = "NEW"
	StatusInProgress   InvoiceStatus = "IN_PROGRESS"
	StatusCompleted    InvoiceStatus = "COMPLETED"
	StatusError        InvoiceStatus = "ERROR"
	StatusManualReview InvoiceStatus = "MANUAL_REVIEW"
	// StatusPosting marks an ERP posting whose outcome is not recorded yet.
	StatusPosting InvoiceStatus = "POSTING"
)

// StepResult is the outcome of the most recent step.
type StepResult string

const (
	ResultPending StepResult = "PENDING"
	ResultSuccess StepResult = "SUCCESS"
	ResultWarning StepResult = "WARNING"
	ResultFailure StepResult = "FAILURE"
)

// LineMatchStatus is the PO match state of one invoice line.
type LineMatchStatus string

const (
	LinePending LineMatchStatus = "PENDING"
	LineMatched LineMatchStatus = "MATCHED"
	LineNoMatch LineMatchStatus = "NO_MATCH"
)

// PostingType selects the ERP document kind.
type PostingType string

const (
	PostingInvoice    PostingType = "INVOICE"
	PostingCreditMemo PostingType = "CREDIT_MEMO"
)

// Invoice is one extracted supplier invoice moving through the pipeline.
type Invoice struct {
	ID         uuid.UUID
	DocumentID string
	FileName   string
	Step       InvoiceStep
	Status     InvoiceStatus
	Result     StepResult
	Message    string

	// Extracted header
	InvoiceNumber    string
	VendorName       string
	VendorStreet     string
	VendorCity       string
	VendorState      string
	VendorPostalCode string
	VendorCountry    string
	BuyerName        string
	CompanyCode      string
	Currency         string
	NetAmount        *decimal.Decimal
	GrossAmount      *decimal.Decimal
	TaxAmount        *decimal.Decimal
	DocumentDate     *time.Time
	PONumber         string

	// Supplier resolution
	MatchedSupplierNumber   string
	MatchedSupplierName     string
	SupplierMatchScore      *float64
	SupplierMatchStatus     SupplierMatchStatus
	SupplierMatchConfidence Confidence

	// PO matching and three-way match
	POMatchStatus         POMatchStatus
	POMatchConfidence     Confidence
	POMatchRate           *float64
	ThreeWayMatchRequired bool
	ThreeWayMatchPassed   bool
	ThreeWayMatchStatus   ThreeWayMatchStatus

	// Approval
	ApprovedBy       string
	ApprovalComments string
	ApprovedAt       *time.Time

	// ERP posting
	PostingType       PostingType
	ERPDocumentNumber string
	ERPFiscalYear     string
	PostedAt          *time.Time
	RetryCount        int
	LastError         string
	LastErrorAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvoiceLine is one extracted line item of an invoice.
type InvoiceLine struct {
	ID              uuid.UUID
	InvoiceID       uuid.UUID
	LineNumber      int
	MaterialNumber  string
	Description     string
	Quantity        decimal.Decimal
	Unit            string
	UnitPrice       decimal.Decimal
	NetAmount       decimal.Decimal
	TaxAmount       decimal.Decimal
	TaxCode         string
	MatchStatus     LineMatchStatus
	MatchedPOLineID *uuid.UUID // reference only; the PO line may have been refreshed away
	MatchScore      *float64
}

// ProcessLogEntry is one append-only audit record for an invoice.
type ProcessLogEntry struct {
	ID        uuid.UUID
	InvoiceID uuid.UUID
	Step      InvoiceStep
	Status    InvoiceStatus
	Result    StepResult
	Message   string
	Details   json.RawMessage
	CreatedAt time.Time
}

// InvoiceStatusSnapshot is the read model returned by GetInvoiceStatus.
type InvoiceStatusSnapshot struct {
	InvoiceID             uuid.UUID           `json:"invoice_id"`
	Step                  InvoiceStep         `json:"step"`
	Status                InvoiceStatus       `json:"status"`
	Result                StepResult          `json:"result"`
	Message               string              `json:"message"`
	SupplierNumber        string              `json:"supplier_number,omitempty"`
	SupplierName          string              `json:"supplier_name,omitempty"`
	SupplierMatchStatus   SupplierMatchStatus `json:"supplier_match_status,omitempty"`
	POMatchStatus         POMatchStatus       `json:"po_match_status,omitempty"`
	ThreeWayMatchRequired bool                `json:"three_way_match_required"`
	ThreeWayMatchStatus   ThreeWayMatchStatus `json:"three_way_match_status,omitempty"`
	TotalLines            int                 `json:"total_lines"`
	MatchedLines          int                 `json:"matched_lines"`
	ERPDocumentNumber     string              `json:"erp_document_number,omitempty"`
	RetryCount            int                 `json:"retry_count"`
	LastError             string              `json:"last_error,omitempty"`
	LastErrorAt           *time.Time          `json:"last_error_at,omitempty"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// InvoiceService covers invoice creation, status, approval and error bookkeeping.
type InvoiceService interface {
	// CreateInvoice stores a freshly extracted invoice with its lines at DOX_EXTRACTED.
	CreateInvoice(ctx context.Context, inv *Invoice, lines []InvoiceLine) (*Invoice, error)

	// GetInvoiceStatus returns a status snapshot. Returns ErrNotFound for unknown ids.
	GetInvoiceStatus(ctx context.Context, invoiceID uuid.UUID) (*InvoiceStatusSnapshot, error)

	// RecordApproval moves a validated invoice to APPROVED or REJECTED.
	RecordApproval(ctx context.Context, invoiceID uuid.UUID, approved bool, approver, comments string) (*Invoice, error)

	// MarkError sets status=ERROR with lastError/lastErrorAt without moving the step backward.
	MarkError(ctx context.Context, invoiceID uuid.UUID, step InvoiceStep, cause error, incrementRetry bool) error
}
