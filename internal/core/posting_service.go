package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-agent/internal/logging"
)

// PostingStatus is the outcome of PostToERP.
type PostingStatus string

const (
	PostingPosted  PostingStatus = "POSTED"
	PostingFailed  PostingStatus = "FAILED"
	PostingBlocked PostingStatus = "BLOCKED"
)

// PostingOutcome is returned by PostToERP.
type PostingOutcome struct {
	InvoiceID      uuid.UUID        `json:"invoice_id"`
	Status         PostingStatus    `json:"status"`
	DocumentNumber string           `json:"document_number,omitempty"`
	FiscalYear     string           `json:"fiscal_year,omitempty"`
	Message        string           `json:"message"`
	RetryCount     int              `json:"retry_count"`
	Document       *PostingDocument `json:"document,omitempty"`
	Response       *PostingResponse `json:"response,omitempty"`
}

// PostingResultRecord is a posting outcome reported by the orchestrator.
type PostingResultRecord struct {
	InvoiceID      uuid.UUID
	Success        bool
	DocumentNumber string
	FiscalYear     string
	Message        string
}

// PostingService posts approved invoices to the ERP.
type PostingService interface {
	// PostToERP builds the posting document and sends it. ERP failures mark the invoice
	// POST_FAILED, increment its retry counter and are returned wrapping ErrExternal.
	PostToERP(ctx context.Context, invoiceID uuid.UUID, postingType PostingType) (*PostingOutcome, error)

	// RecordPostingResult stores the outcome of a posting made by the orchestrator.
	RecordPostingResult(ctx context.Context, rec PostingResultRecord) (*Invoice, error)
}

type postingService struct {
	store   Store
	gateway PostingGateway
	policy  PostingPolicy
	log     *logrus.Entry
}

// NewPostingService constructs a PostingService.
func NewPostingService(store Store, gateway PostingGateway, policy PostingPolicy, log *logrus.Entry) PostingService {
	if policy.ThreeWayMatch == "" {
		policy.ThreeWayMatch = ThreeWayFlag
	}
	return &postingService{store: store, gateway: gateway, policy: policy, log: entryOrDiscard(log)}
}

func (s *postingService) PostToERP(ctx context.Context, invoiceID uuid.UUID, postingType PostingType) (*PostingOutcome, error) {
	if postingType == "" {
		postingType = PostingInvoice
	}
	if postingType != PostingInvoice && postingType != PostingCreditMemo {
		return nil, NewInputError("posting_type", fmt.Sprintf("unknown posting type %q", postingType))
	}

	outcome := &PostingOutcome{InvoiceID: invoiceID}
	var doc *PostingDocument
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID, true)
		if err != nil {
			return err
		}
		if err := CanPost(inv.Step); err != nil {
			return err
		}
		if err := postingInFlight(inv); err != nil {
			return err
		}

		if s.policy.ThreeWayMatch == ThreeWayBlock && inv.ThreeWayMatchRequired && !inv.ThreeWayMatchPassed {
			outcome.Status = PostingBlocked
			outcome.Message = "posting blocked: three-way match failed and policy is BLOCK"
			outcome.RetryCount = inv.RetryCount
			inv.Status = StatusManualReview
			inv.Result = ResultFailure
			inv.Message = outcome.Message
			if err := tx.UpdateInvoice(ctx, inv); err != nil {
				return err
			}
			return tx.AppendLog(ctx, logEntry(inv, map[string]any{
				"policy":                 s.policy.ThreeWayMatch,
				"three_way_match_status": inv.ThreeWayMatchStatus,
			}))
		}

		lines, err := tx.ListInvoiceLines(ctx, invoiceID)
		if err != nil {
			return err
		}
		poLines, err := resolvePOLines(ctx, tx, lines)
		if err != nil {
			return err
		}
		doc = BuildPostingDocument(inv, lines, poLines, postingType, time.Now().UTC())
		doc.Normalize()
		if err := doc.Validate(); err != nil {
			return fmt.Errorf("invoice cannot be posted: %v: %w", err, ErrInvalidState)
		}

		// Persisted before the ERP call so a lost outcome cannot lead to a second posting.
		inv.PostingType = postingType
		inv.Status = StatusPosting
		inv.Message = fmt.Sprintf("posting %d line(s) to the ERP", len(doc.Lines))
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.AppendLog(ctx, logEntry(inv, map[string]any{
			"posting_type": postingType,
			"lines":        len(doc.Lines),
			"gross_amount": doc.GrossAmount,
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("post invoice %s: %w", invoiceID, err)
	}
	if outcome.Status == PostingBlocked {
		s.log.WithField("invoice_id", invoiceID).Warn("posting blocked by three-way match policy")
		return outcome, nil
	}
	outcome.Document = doc

	resp, postErr := s.gateway.PostInvoice(ctx, doc)
	if postErr == nil && (resp == nil || !resp.Success) {
		msg := ""
		if resp != nil {
			msg = resp.Message
		}
		if msg == "" {
			msg = "ERP rejected the posting"
		}
		postErr = errors.New(msg)
	}
	outcome.Response = resp

	// The outcome is recorded even when the caller has gone away.
	rctx := context.WithoutCancel(ctx)
	err = s.store.InTx(rctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(rctx, invoiceID, true)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		inv.PostingType = postingType
		if postErr != nil {
			inv.RetryCount++
			inv.LastError = postErr.Error()
			inv.LastErrorAt = &now
			applyStep(inv, StepPostFailed, StatusError, ResultFailure, fmt.Sprintf("ERP posting failed: %v", postErr))
			outcome.Status = PostingFailed
		} else {
			inv.ERPDocumentNumber = resp.DocumentNumber
			inv.ERPFiscalYear = resp.FiscalYear
			inv.PostedAt = &now
			applyStep(inv, StepPosted, StatusCompleted, ResultSuccess,
				fmt.Sprintf("posted as ERP document %s/%s", resp.DocumentNumber, resp.FiscalYear))
			outcome.Status = PostingPosted
			outcome.DocumentNumber = resp.DocumentNumber
			outcome.FiscalYear = resp.FiscalYear
		}
		outcome.Message = inv.Message
		outcome.RetryCount = inv.RetryCount
		if err := tx.UpdateInvoice(rctx, inv); err != nil {
			return err
		}
		return tx.AppendLog(rctx, logEntry(inv, outcome))
	})
	if err != nil {
		sent := "ERP posting failed"
		fields := map[string]any{"invoice_id": invoiceID}
		if postErr == nil {
			sent = fmt.Sprintf("ERP document %s/%s was created", resp.DocumentNumber, resp.FiscalYear)
			fields["document_number"] = resp.DocumentNumber
			fields["fiscal_year"] = resp.FiscalYear
		}
		logging.LogError(s.log, "PostToERP", "record posting outcome", fields, err)
		return nil, External("database", fmt.Errorf("%s but the outcome of invoice %s was not recorded; it stays %s until a posting result is reported: %w",
			sent, invoiceID, StatusPosting, err))
	}

	if postErr != nil {
		logging.LogError(s.log, "PostToERP", "ERP posting", map[string]any{"invoice_id": invoiceID, "retry_count": outcome.RetryCount}, postErr)
		return outcome, External("ERP posting", postErr)
	}
	s.log.WithFields(logrus.Fields{
		"invoice_id":      invoiceID,
		"document_number": outcome.DocumentNumber,
		"fiscal_year":     outcome.FiscalYear,
		"lines":           len(doc.Lines),
	}).Info("invoice posted")
	return outcome, nil
}

// resolvePOLines looks up the PO lines referenced by matched invoice lines.
// References that no longer resolve are skipped.
func resolvePOLines(ctx context.Context, tx Tx, lines []InvoiceLine) (map[uuid.UUID]POLine, error) {
	out := make(map[uuid.UUID]POLine)
	for _, l := range lines {
		if l.MatchStatus != LineMatched || l.MatchedPOLineID == nil {
			continue
		}
		if _, ok := out[*l.MatchedPOLineID]; ok {
			continue
		}
		po, err := tx.GetPOLine(ctx, *l.MatchedPOLineID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[po.ID] = *po
	}
	return out, nil
}

func (s *postingService) RecordPostingResult(ctx context.Context, rec PostingResultRecord) (*Invoice, error) {
	if rec.InvoiceID == uuid.Nil {
		return nil, NewInputError("invoice_id", "required")
	}
	if rec.Success && strings.TrimSpace(rec.DocumentNumber) == "" {
		return nil, NewInputError("document_number", "required for a successful posting")
	}

	var inv *Invoice
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		inv, err = tx.GetInvoice(ctx, rec.InvoiceID, true)
		if err != nil {
			return err
		}
		if err := CanPost(inv.Step); err != nil {
			return err
		}
		now := time.Now().UTC()
		if rec.Success {
			inv.ERPDocumentNumber = strings.TrimSpace(rec.DocumentNumber)
			inv.ERPFiscalYear = strings.TrimSpace(rec.FiscalYear)
			inv.PostedAt = &now
			msg := rec.Message
			if msg == "" {
				msg = fmt.Sprintf("posted as ERP document %s/%s", inv.ERPDocumentNumber, inv.ERPFiscalYear)
			}
			applyStep(inv, StepPosted, StatusCompleted, ResultSuccess, msg)
		} else {
			msg := rec.Message
			if msg == "" {
				msg = "posting failed"
			}
			inv.RetryCount++
			inv.LastError = msg
			inv.LastErrorAt = &now
			applyStep(inv, StepPostFailed, StatusError, ResultFailure, msg)
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.AppendLog(ctx, logEntry(inv, map[string]any{
			"reported":        true,
			"success":         rec.Success,
			"document_number": rec.DocumentNumber,
			"fiscal_year":     rec.FiscalYear,
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("record posting result for invoice %s: %w", rec.InvoiceID, err)
	}
	return inv, nil
}
