package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const consolidatedMarker = " (Consolidated)"

// ConsolidateLines folds MATCHED lines that point at the same PO line into the
// first-seen member of each group. Quantity, net amount and tax amount are summed into
// the survivor. It returns the surviving lines in input order and the ids to delete.
func ConsolidateLines(lines []InvoiceLine) (kept []InvoiceLine, deleted []uuid.UUID, groups int) {
	survivor := make(map[uuid.UUID]int) // PO line id -> index into kept
	grouped := make(map[uuid.UUID]bool)

	for _, line := range lines {
		if line.MatchStatus != LineMatched || line.MatchedPOLineID == nil {
			kept = append(kept, line)
			continue
		}
		ref := *line.MatchedPOLineID
		idx, seen := survivor[ref]
		if !seen {
			survivor[ref] = len(kept)
			kept = append(kept, line)
			continue
		}

		s := &kept[idx]
		s.Quantity = s.Quantity.Add(line.Quantity)
		s.NetAmount = s.NetAmount.Add(line.NetAmount)
		s.TaxAmount = s.TaxAmount.Add(line.TaxAmount)
		if !grouped[ref] {
			grouped[ref] = true
			groups++
			if !strings.HasSuffix(s.Description, consolidatedMarker) {
				s.Description += consolidatedMarker
			}
		}
		deleted = append(deleted, line.ID)
	}
	return kept, deleted, groups
}

// Consolidate folds duplicate PO matches of one invoice and persists the result.
func (s *poMatchService) Consolidate(ctx context.Context, invoiceID uuid.UUID) (*ConsolidationResult, error) {
	var result ConsolidationResult
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID, true)
		if err != nil {
			return err
		}
		if inv.Step.IsTerminal() || inv.Step == StepPostFailed {
			return fmt.Errorf("invoice is %s: %w", inv.Step, ErrInvalidState)
		}
		lines, err := tx.ListInvoiceLines(ctx, invoiceID)
		if err != nil {
			return err
		}
		result, err = consolidateInTx(ctx, tx, lines)
		if err != nil {
			return err
		}
		if result.GroupsConsolidated == 0 {
			return nil
		}
		inv.Message = fmt.Sprintf("consolidated %d group(s), removed %d line(s)", result.GroupsConsolidated, result.LinesDeleted)
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.AppendLog(ctx, logEntry(inv, result))
	})
	if err != nil {
		return nil, fmt.Errorf("consolidate invoice %s: %w", invoiceID, err)
	}
	return &result, nil
}

// consolidateInTx applies ConsolidateLines and writes the survivors back.
func consolidateInTx(ctx context.Context, tx Tx, lines []InvoiceLine) (ConsolidationResult, error) {
	kept, deleted, groups := ConsolidateLines(lines)
	if groups == 0 {
		return ConsolidationResult{}, nil
	}
	drop := make(map[uuid.UUID]bool, len(deleted))
	for _, id := range deleted {
		drop[id] = true
	}
	before := make(map[uuid.UUID]InvoiceLine, len(lines))
	for _, l := range lines {
		before[l.ID] = l
	}
	for i := range kept {
		orig := before[kept[i].ID]
		if orig.Quantity.Equal(kept[i].Quantity) && orig.Description == kept[i].Description &&
			orig.NetAmount.Equal(kept[i].NetAmount) && orig.TaxAmount.Equal(kept[i].TaxAmount) {
			continue
		}
		if err := tx.UpdateInvoiceLine(ctx, &kept[i]); err != nil {
			return ConsolidationResult{}, err
		}
	}
	if err := tx.DeleteInvoiceLines(ctx, deleted); err != nil {
		return ConsolidationResult{}, err
	}
	return ConsolidationResult{GroupsConsolidated: groups, LinesDeleted: len(deleted)}, nil
}
