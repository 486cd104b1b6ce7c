package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-agent/internal/core"
	"invoice-agent/internal/extraction"
	"invoice-agent/internal/logging"
)

// ProcessLogReader reads the audit trail of an invoice.
type ProcessLogReader interface {
	ListProcessLog(ctx context.Context, invoiceID uuid.UUID) ([]core.ProcessLogEntry, error)
}

// Pinger checks connectivity of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the core services behind the facade. Locker is optional;
// without it posts are not serialised across instances.
type Dependencies struct {
	Invoices   core.InvoiceService
	Suppliers  core.SupplierService
	POMatch    core.POMatchService
	Validation core.ValidationService
	Posting    core.PostingService
	Mapper     *extraction.Mapper
	Logs       ProcessLogReader
	Store      Pinger
	Locker     PostingLocker
	Log        *logrus.Entry
}

type appService struct {
	invoices   core.InvoiceService
	suppliers  core.SupplierService
	poMatch    core.POMatchService
	validation core.ValidationService
	posting    core.PostingService
	mapper     *extraction.Mapper
	logs       ProcessLogReader
	store      Pinger
	locker     PostingLocker
	validate   *validator.Validate
	log        *logrus.Entry
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(deps Dependencies) ApplicationService {
	log := deps.Log
	if log == nil {
		log = logging.Discard()
	}
	return &appService{
		invoices:   deps.Invoices,
		suppliers:  deps.Suppliers,
		poMatch:    deps.POMatch,
		validation: deps.Validation,
		posting:    deps.Posting,
		mapper:     deps.Mapper,
		logs:       deps.Logs,
		store:      deps.Store,
		locker:     deps.Locker,
		validate:   newValidator(),
		log:        log,
	}
}

// CreateInvoiceFromExtraction validates raw against the extraction schema and
// stores the mapped invoice with its lines.
func (s *appService) CreateInvoiceFromExtraction(ctx context.Context, raw []byte) (*CreateInvoiceResult, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, core.NewInputError("extraction", "request body is empty")
	}
	inv, lines, err := s.mapper.Parse(raw)
	if err != nil {
		return nil, err
	}
	created, err := s.invoices.CreateInvoice(ctx, inv, lines)
	if err != nil {
		return nil, err
	}
	return &CreateInvoiceResult{
		InvoiceID:     created.ID,
		DocumentID:    created.DocumentID,
		InvoiceNumber: created.InvoiceNumber,
		VendorName:    created.VendorName,
		PONumber:      created.PONumber,
		Step:          created.Step,
		Status:        created.Status,
		LineCount:     len(lines),
	}, nil
}

func (s *appService) ResolveSupplier(ctx context.Context, req ResolveSupplierRequest) (*core.SupplierMatchResult, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	return s.suppliers.ResolveSupplier(ctx, req.InvoiceID)
}

func (s *appService) ProcessSupplierSelection(ctx context.Context, req SupplierSelectionRequest) (*core.SupplierSelectionResult, error) {
	req.SelectionType = core.SelectionType(strings.ToUpper(strings.TrimSpace(string(req.SelectionType))))
	req.SupplierNumber = strings.TrimSpace(req.SupplierNumber)
	req.VendorName = strings.TrimSpace(req.VendorName)
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	return s.suppliers.ProcessSupplierSelection(ctx, req.InvoiceID, req.SelectionType, req.SupplierNumber, req.VendorName)
}

func (s *appService) MatchPOLines(ctx context.Context, req MatchPOLinesRequest) (*core.POMatchResult, error) {
	req.PONumber = strings.TrimSpace(req.PONumber)
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	return s.poMatch.MatchPOLines(ctx, req.InvoiceID, req.PONumber, req.FetchFromSource)
}

func (s *appService) ValidateInvoice(ctx context.Context, req ValidateInvoiceRequest) (*core.ValidationResult, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	return s.validation.ValidateInvoice(ctx, req.InvoiceID)
}

func (s *appService) RecordApproval(ctx context.Context, req ApprovalRequest) (*ApprovalResult, error) {
	req.Approver = strings.TrimSpace(req.Approver)
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	inv, err := s.invoices.RecordApproval(ctx, req.InvoiceID, req.Approved, req.Approver, req.Comments)
	if err != nil {
		return nil, err
	}
	return &ApprovalResult{
		InvoiceID:  inv.ID,
		Approved:   req.Approved,
		ApprovedBy: inv.ApprovedBy,
		ApprovedAt: inv.ApprovedAt,
		Step:       inv.Step,
		Status:     inv.Status,
		Message:    inv.Message,
	}, nil
}

// PostToERP holds the per-invoice posting lock, when configured, for the whole
// post so two orchestrator retries cannot create two ERP documents.
func (s *appService) PostToERP(ctx context.Context, req PostInvoiceRequest) (*core.PostingOutcome, error) {
	req.PostingType = core.PostingType(strings.ToUpper(strings.TrimSpace(string(req.PostingType))))
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, req.InvoiceID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	outcome, err := s.posting.PostToERP(ctx, req.InvoiceID, req.PostingType)
	if err != nil {
		if errors.Is(err, core.ErrExternal) {
			logging.LogError(s.log, "PostToERP", "erp posting failed", req.InvoiceID.String(), err)
		}
		return outcome, err
	}
	return outcome, nil
}

func (s *appService) RecordPostingResult(ctx context.Context, req PostingResultRequest) (*PostingResultAck, error) {
	req.DocumentNumber = strings.TrimSpace(req.DocumentNumber)
	req.FiscalYear = strings.TrimSpace(req.FiscalYear)
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	inv, err := s.posting.RecordPostingResult(ctx, core.PostingResultRecord{
		InvoiceID:      req.InvoiceID,
		Success:        req.Success,
		DocumentNumber: req.DocumentNumber,
		FiscalYear:     req.FiscalYear,
		Message:        req.Message,
	})
	if err != nil {
		return nil, err
	}
	return &PostingResultAck{
		InvoiceID:      inv.ID,
		Step:           inv.Step,
		Status:         inv.Status,
		DocumentNumber: inv.ERPDocumentNumber,
		FiscalYear:     inv.ERPFiscalYear,
		RetryCount:     inv.RetryCount,
		Message:        inv.Message,
	}, nil
}

func (s *appService) GetInvoiceStatus(ctx context.Context, req InvoiceRef) (*core.InvoiceStatusSnapshot, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	return s.invoices.GetInvoiceStatus(ctx, req.InvoiceID)
}

// GetProcessLog returns ErrNotFound for unknown invoices rather than an empty trail.
func (s *appService) GetProcessLog(ctx context.Context, req InvoiceRef) (*ProcessLogResult, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	if s.logs == nil {
		return nil, fmt.Errorf("process log is not available: %w", core.ErrInvalidState)
	}
	entries, err := s.logs.ListProcessLog(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if _, err := s.invoices.GetInvoiceStatus(ctx, req.InvoiceID); err != nil {
			return nil, err
		}
	}
	out := &ProcessLogResult{InvoiceID: req.InvoiceID, Entries: make([]ProcessLogEntry, len(entries))}
	for i, e := range entries {
		out.Entries[i] = ProcessLogEntry{
			Step:      e.Step,
			Status:    e.Status,
			Result:    e.Result,
			Message:   e.Message,
			Details:   e.Details,
			CreatedAt: e.CreatedAt,
		}
	}
	return out, nil
}

func (s *appService) SyncSupplierMaster(ctx context.Context, req SyncSuppliersRequest) (*core.SupplierSyncResult, error) {
	req.Mode = core.SyncMode(strings.ToLower(strings.TrimSpace(string(req.Mode))))
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = core.SyncDelta
	}
	if req.Since != nil && req.Since.After(time.Now()) {
		return nil, core.NewInputError("since", "must not be in the future")
	}
	return s.suppliers.SyncSupplierMaster(ctx, req.Mode, req.Since)
}

// ValidateSupplierNumber never fails on business grounds; an empty number is
// reported as an invalid verdict.
func (s *appService) ValidateSupplierNumber(ctx context.Context, supplierNumber string) (*core.SupplierValidation, error) {
	v := s.suppliers.ValidateSupplierNumber(ctx, strings.TrimSpace(supplierNumber))
	return &v, nil
}

func (s *appService) ExtractionSchema() []byte {
	return s.mapper.SchemaJSON()
}

func (s *appService) Health(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Ping(ctx); err != nil {
		return core.External("database", err)
	}
	return nil
}
