package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-agent/internal/logging"
)

// logEntry snapshots the invoice's step outcome into an audit record.
func logEntry(inv *Invoice, details any) ProcessLogEntry {
	entry := ProcessLogEntry{
		ID:        uuid.New(),
		InvoiceID: inv.ID,
		Step:      inv.Step,
		Status:    inv.Status,
		Result:    inv.Result,
		Message:   inv.Message,
		CreatedAt: time.Now().UTC(),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = raw
		}
	}
	return entry
}

// markError records a downstream failure on the invoice in its own transaction.
// The step is left where it is; step names which operation failed.
func markError(ctx context.Context, store Store, log *logrus.Entry, invoiceID uuid.UUID, step InvoiceStep, cause error, incrementRetry bool) error {
	err := store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID, true)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if inv.Status != StatusPosting {
			inv.Status = StatusError
		}
		inv.Result = ResultFailure
		inv.Message = fmt.Sprintf("%s failed: %v", step, cause)
		inv.LastError = cause.Error()
		inv.LastErrorAt = &now
		if incrementRetry {
			inv.RetryCount++
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		entry := logEntry(inv, map[string]any{"failed_step": step, "retry_count": inv.RetryCount})
		return tx.AppendLog(ctx, entry)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		logging.LogError(log, "markError", "record invoice error", map[string]any{"invoice_id": invoiceID, "step": step}, err)
	}
	return err
}

func entryOrDiscard(log *logrus.Entry) *logrus.Entry {
	if log == nil {
		return logging.Discard()
	}
	return log
}
