package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type invoiceService struct {
	store Store
	log   *logrus.Entry
}

// NewInvoiceService constructs an InvoiceService.
func NewInvoiceService(store Store, log *logrus.Entry) InvoiceService {
	return &invoiceService{store: store, log: entryOrDiscard(log)}
}

// CreateInvoice assigns ids, sets the invoice to DOX_EXTRACTED/NEW and stores it with its lines.
func (s *invoiceService) CreateInvoice(ctx context.Context, inv *Invoice, lines []InvoiceLine) (*Invoice, error) {
	if inv == nil {
		return nil, NewInputError("invoice", "required")
	}
	now := time.Now().UTC()
	inv.ID = uuid.New()
	inv.Currency = strings.ToUpper(strings.TrimSpace(inv.Currency))
	inv.CreatedAt = now
	inv.UpdatedAt = now
	inv.ThreeWayMatchPassed = true
	inv.ThreeWayMatchStatus = ThreeWayNotRequired
	applyStep(inv, StepDoxExtracted, StatusNew, ResultSuccess,
		fmt.Sprintf("invoice %q extracted with %d line(s)", inv.InvoiceNumber, len(lines)))

	for i := range lines {
		lines[i].ID = uuid.New()
		lines[i].InvoiceID = inv.ID
		if lines[i].LineNumber == 0 {
			lines[i].LineNumber = (i + 1) * 10
		}
		lines[i].MatchStatus = LinePending
		lines[i].MatchedPOLineID = nil
		lines[i].MatchScore = nil
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		if len(lines) > 0 {
			if err := tx.InsertInvoiceLines(ctx, lines); err != nil {
				return err
			}
		}
		return tx.AppendLog(ctx, logEntry(inv, map[string]any{
			"document_id": inv.DocumentID,
			"file_name":   inv.FileName,
			"line_count":  len(lines),
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"invoice_id":  inv.ID,
		"document_id": inv.DocumentID,
		"lines":       len(lines),
	}).Info("invoice created")
	return inv, nil
}

// GetInvoiceStatus returns the status snapshot of an invoice.
func (s *invoiceService) GetInvoiceStatus(ctx context.Context, invoiceID uuid.UUID) (*InvoiceStatusSnapshot, error) {
	var snap *InvoiceStatusSnapshot
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID, false)
		if err != nil {
			return err
		}
		lines, err := tx.ListInvoiceLines(ctx, invoiceID)
		if err != nil {
			return err
		}
		snap = &InvoiceStatusSnapshot{
			InvoiceID:             inv.ID,
			Step:                  inv.Step,
			Status:                inv.Status,
			Result:                inv.Result,
			Message:               inv.Message,
			SupplierNumber:        inv.MatchedSupplierNumber,
			SupplierName:          inv.MatchedSupplierName,
			SupplierMatchStatus:   inv.SupplierMatchStatus,
			POMatchStatus:         inv.POMatchStatus,
			ThreeWayMatchRequired: inv.ThreeWayMatchRequired,
			ThreeWayMatchStatus:   inv.ThreeWayMatchStatus,
			TotalLines:            len(lines),
			ERPDocumentNumber:     inv.ERPDocumentNumber,
			RetryCount:            inv.RetryCount,
			LastError:             inv.LastError,
			LastErrorAt:           inv.LastErrorAt,
			UpdatedAt:             inv.UpdatedAt,
		}
		for _, l := range lines {
			if l.MatchStatus == LineMatched {
				snap.MatchedLines++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get status of invoice %s: %w", invoiceID, err)
	}
	return snap, nil
}

// RecordApproval stores a reviewer's decision on a validated invoice.
func (s *invoiceService) RecordApproval(ctx context.Context, invoiceID uuid.UUID, approved bool, approver, comments string) (*Invoice, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return nil, NewInputError("approver", "required")
	}

	var inv *Invoice
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		inv, err = tx.GetInvoice(ctx, invoiceID, true)
		if err != nil {
			return err
		}
		if err := postingInFlight(inv); err != nil {
			return err
		}
		if err := CanApprove(inv.Step); err != nil {
			return err
		}
		now := time.Now().UTC()
		inv.ApprovedBy = approver
		inv.ApprovalComments = comments
		inv.ApprovedAt = &now
		if approved {
			applyStep(inv, StepApproved, StatusInProgress, ResultSuccess, fmt.Sprintf("approved by %s", approver))
		} else {
			applyStep(inv, StepRejected, StatusCompleted, ResultWarning, fmt.Sprintf("rejected by %s", approver))
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.AppendLog(ctx, logEntry(inv, map[string]any{
			"approved": approved,
			"approver": approver,
			"comments": comments,
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("record approval for invoice %s: %w", invoiceID, err)
	}
	return inv, nil
}

// MarkError records a downstream failure of step without moving the invoice backward.
func (s *invoiceService) MarkError(ctx context.Context, invoiceID uuid.UUID, step InvoiceStep, cause error, incrementRetry bool) error {
	if cause == nil {
		return NewInputError("error", "required")
	}
	if err := markError(ctx, s.store, s.log, invoiceID, step, cause, incrementRetry); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("mark error on invoice %s: %w", invoiceID, err)
		}
		return err
	}
	return nil
}
