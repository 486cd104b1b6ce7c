package app

import (
	"context"

	"invoice-agent/internal/core"
)

// ApplicationService is the single interface all adapters (HTTP, CLI) call.
// It decouples transport from business logic. Implementations must contain
// no display logic of any kind.
type ApplicationService interface {
	// CreateInvoiceFromExtraction validates a raw extraction record and stores the
	// invoice at DOX_EXTRACTED.
	CreateInvoiceFromExtraction(ctx context.Context, raw []byte) (*CreateInvoiceResult, error)

	// ResolveSupplier matches the invoice vendor against the supplier master.
	ResolveSupplier(ctx context.Context, req ResolveSupplierRequest) (*core.SupplierMatchResult, error)

	// ProcessSupplierSelection applies a human decision on the proposed supplier.
	ProcessSupplierSelection(ctx context.Context, req SupplierSelectionRequest) (*core.SupplierSelectionResult, error)

	// MatchPOLines matches invoice lines to purchase order lines and runs the
	// goods-receipt check.
	MatchPOLines(ctx context.Context, req MatchPOLinesRequest) (*core.POMatchResult, error)

	// ValidateInvoice runs the business checks and records the outcome.
	ValidateInvoice(ctx context.Context, req ValidateInvoiceRequest) (*core.ValidationResult, error)

	// RecordApproval stores the approval decision of a validated invoice.
	RecordApproval(ctx context.Context, req ApprovalRequest) (*ApprovalResult, error)

	// PostToERP posts an approved invoice. Posts of the same invoice are
	// serialised when a lock is configured.
	PostToERP(ctx context.Context, req PostInvoiceRequest) (*core.PostingOutcome, error)

	// RecordPostingResult stores a posting outcome reported by the orchestrator.
	RecordPostingResult(ctx context.Context, req PostingResultRequest) (*PostingResultAck, error)

	// GetInvoiceStatus returns the status snapshot of an invoice.
	GetInvoiceStatus(ctx context.Context, req InvoiceRef) (*core.InvoiceStatusSnapshot, error)

	// GetProcessLog returns the audit trail of an invoice, oldest first.
	GetProcessLog(ctx context.Context, req InvoiceRef) (*ProcessLogResult, error)

	// SyncSupplierMaster pulls supplier master data and refreshes embeddings.
	SyncSupplierMaster(ctx context.Context, req SyncSuppliersRequest) (*core.SupplierSyncResult, error)

	// ValidateSupplierNumber checks that a supplier exists and is active.
	ValidateSupplierNumber(ctx context.Context, supplierNumber string) (*core.SupplierValidation, error)

	// ExtractionSchema returns the JSON schema extraction records must satisfy.
	ExtractionSchema() []byte

	// Health reports whether the backing store is reachable.
	Health(ctx context.Context) error
}
