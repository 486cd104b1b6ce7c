package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ClassifyPOMatch turns matched/total counts into a rate, confidence band and status.
func ClassifyPOMatch(matched, total int) (float64, Confidence, POMatchStatus) {
	if total == 0 {
		return 0, ConfidenceNone, PONoItems
	}
	rate := float64(matched) / float64(total)

	confidence := ConfidenceLow
	switch {
	case rate >= 0.9:
		confidence = ConfidenceHigh
	case rate >= 0.7:
		confidence = ConfidenceMedium
	}

	status := PONoMatch
	switch {
	case matched == total:
		status = POMatched
	case matched > 0:
		status = POPartial
	}
	return rate, confidence, status
}

// BestPOLine returns the highest scoring PO line among the top k and whether its score
// reaches threshold. idx is -1 when there are no candidates.
func BestPOLine(query []float32, poLines []POLine, k int, threshold float64) (idx int, score float64, accepted bool) {
	embeddings := make([][]float32, len(poLines))
	for i := range poLines {
		embeddings[i] = poLines[i].Embedding
	}
	top := RankByEmbedding(query, embeddings, k)
	if len(top) == 0 {
		return -1, 0, false
	}
	return top[0].Index, top[0].Score, top[0].Score >= threshold
}

type poMatchService struct {
	store    Store
	embedder Embedder
	source   PurchaseOrderSource
	cfg      MatchingConfig
	log      *logrus.Entry
}

// NewPOMatchService constructs a POMatchService. source may be nil, in which case only
// cached PO lines are matched against.
func NewPOMatchService(store Store, embedder Embedder, source PurchaseOrderSource, cfg MatchingConfig, log *logrus.Entry) POMatchService {
	return &poMatchService{
		store:    store,
		embedder: embedder,
		source:   source,
		cfg:      cfg.withDefaults(),
		log:      entryOrDiscard(log),
	}
}

// MatchPOLines matches each invoice line to a PO line, consolidates duplicate matches
// and evaluates the goods-receipt check. Oracle and ERP calls happen before the
// write transaction opens.
func (s *poMatchService) MatchPOLines(ctx context.Context, invoiceID uuid.UUID, poNumber string, fetchFromSource bool) (*POMatchResult, error) {
	var (
		inv    *Invoice
		lines  []InvoiceLine
		cached []POLine
	)
	poNumber = strings.TrimSpace(poNumber)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		if inv, err = tx.GetInvoice(ctx, invoiceID, false); err != nil {
			return err
		}
		if err := checkInvoiceTransition(inv, StepPOMatched); err != nil {
			return err
		}
		if poNumber == "" {
			poNumber = strings.TrimSpace(inv.PONumber)
		}
		if lines, err = tx.ListInvoiceLines(ctx, invoiceID); err != nil {
			return err
		}
		if poNumber != "" {
			cached, err = tx.ListPOLines(ctx, invoiceID, poNumber)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("match PO lines for invoice %s: %w", invoiceID, err)
	}

	result := &POMatchResult{
		InvoiceID:           invoiceID,
		PONumber:            poNumber,
		TotalLines:          len(lines),
		Matches:             []LineMatch{},
		ThreeWayMatchPassed: true,
		ThreeWayMatchStatus: ThreeWayNotRequired,
		Confidence:          ConfidenceNone,
	}
	switch {
	case poNumber == "":
		result.Status = PONoPO
		result.Message = "invoice has no purchase order number"
		return result, s.recordSkipped(ctx, invoiceID, result, StatusInProgress)
	case len(lines) == 0:
		result.Status = PONoItems
		result.Message = fmt.Sprintf("invoice has no line items to match against PO %s", poNumber)
		return result, s.recordSkipped(ctx, invoiceID, result, StatusManualReview)
	}

	toStore, err := s.preparePOLines(ctx, invoiceID, poNumber, cached, fetchFromSource)
	if err != nil {
		_ = markError(ctx, s.store, s.log, invoiceID, StepPOMatched, err, false)
		return nil, fmt.Errorf("match PO lines for invoice %s: %w", invoiceID, err)
	}

	queries := make(map[uuid.UUID][]float32, len(lines))
	for _, line := range lines {
		text := lineQueryText(line.MaterialNumber, line.Description)
		if text == "" {
			continue
		}
		emb, err := s.embedder.Embed(ctx, text)
		if err != nil {
			err = External("similarity oracle", err)
			_ = markError(ctx, s.store, s.log, invoiceID, StepPOMatched, err, false)
			return nil, fmt.Errorf("match PO lines for invoice %s: %w", invoiceID, err)
		}
		queries[line.ID] = emb
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID, true)
		if err != nil {
			return err
		}
		if err := checkInvoiceTransition(inv, StepPOMatched); err != nil {
			return err
		}
		for i := range toStore {
			if err := tx.UpsertPOLine(ctx, &toStore[i]); err != nil {
				return fmt.Errorf("store PO line %s: %w", toStore[i].Key(), err)
			}
		}
		poLines, err := tx.ListPOLines(ctx, invoiceID, poNumber)
		if err != nil {
			return err
		}
		lines, err := tx.ListInvoiceLines(ctx, invoiceID)
		if err != nil {
			return err
		}
		return s.matchInTx(ctx, tx, inv, lines, poLines, queries, result)
	})
	if err != nil {
		return nil, fmt.Errorf("match PO lines for invoice %s: %w", invoiceID, err)
	}

	s.log.WithFields(logrus.Fields{
		"invoice_id":  invoiceID,
		"po_number":   poNumber,
		"total_lines": result.TotalLines,
		"matched":     result.MatchedCount,
		"status":      result.Status,
		"three_way":   result.ThreeWayMatchStatus,
	}).Info("PO lines matched")
	return result, nil
}

// preparePOLines returns the PO lines that must be written to the cache before matching:
// fresh lines from the ERP when requested or when nothing is cached, plus cached lines
// that are missing an embedding.
func (s *poMatchService) preparePOLines(ctx context.Context, invoiceID uuid.UUID, poNumber string, cached []POLine, fetch bool) ([]POLine, error) {
	var lines []POLine
	if (fetch || len(cached) == 0) && s.source != nil {
		fetched, err := s.source.FetchPOLines(ctx, poNumber)
		if err != nil {
			return nil, External("ERP purchase order", err)
		}
		now := time.Now().UTC()
		for _, l := range fetched {
			l.InvoiceID = invoiceID
			l.PONumber = poNumber
			l.FetchedAt = now
			lines = append(lines, l)
		}
	} else {
		for _, l := range cached {
			if len(l.Embedding) == 0 {
				lines = append(lines, l)
			}
		}
	}

	for i := range lines {
		text := lines[i].EmbeddingText()
		if text == "" {
			continue
		}
		emb, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, External("similarity oracle", err)
		}
		lines[i].Embedding = emb
	}
	return lines, nil
}

func (s *poMatchService) matchInTx(ctx context.Context, tx Tx, inv *Invoice, lines []InvoiceLine, poLines []POLine, queries map[uuid.UUID][]float32, result *POMatchResult) error {
	byID := make(map[uuid.UUID]POLine, len(poLines))
	for _, p := range poLines {
		byID[p.ID] = p
	}

	for i := range lines {
		line := &lines[i]
		line.MatchedPOLineID = nil
		line.MatchScore = nil

		query, ok := queries[line.ID]
		if !ok {
			line.MatchStatus = LinePending
			s.log.WithFields(logrus.Fields{
				"invoice_id":  inv.ID,
				"line_number": line.LineNumber,
			}).Warn("line has neither material number nor description; skipped")
			continue
		}

		idx, score, accepted := BestPOLine(query, poLines, s.cfg.POLineTopK, s.cfg.POAcceptThreshold)
		if idx >= 0 {
			sc := score
			line.MatchScore = &sc
		}
		if accepted {
			id := poLines[idx].ID
			line.MatchStatus = LineMatched
			line.MatchedPOLineID = &id
		} else {
			line.MatchStatus = LineNoMatch
		}
	}
	for i := range lines {
		if err := tx.UpdateInvoiceLine(ctx, &lines[i]); err != nil {
			return err
		}
	}

	consolidation, err := consolidateInTx(ctx, tx, lines)
	if err != nil {
		return err
	}
	kept, _, _ := ConsolidateLines(lines)
	result.Consolidation = consolidation

	matched := 0
	for _, line := range kept {
		lm := LineMatch{
			InvoiceLineID: line.ID,
			LineNumber:    line.LineNumber,
			Description:   line.Description,
			Status:        line.MatchStatus,
			Score:         line.MatchScore,
			POLineID:      line.MatchedPOLineID,
			Skipped:       line.MatchStatus == LinePending,
		}
		if line.MatchStatus == LineMatched {
			matched++
			if po, ok := byID[*line.MatchedPOLineID]; ok {
				lm.POItemKey = po.Key()
				lm.GoodsReceiptBase = po.IsGoodsReceiptBased
				lm.ReceivedQuantity = po.ReceivedQuantity.String()
			}
		}
		result.Matches = append(result.Matches, lm)
	}

	twm := EvaluateThreeWayMatch(kept, byID)
	result.TotalLines = len(kept)
	result.MatchedCount = matched
	result.UnmatchedCount = len(kept) - matched
	result.MatchRate, result.Confidence, result.Status = ClassifyPOMatch(matched, len(kept))
	result.ThreeWayMatchRequired = twm.Required
	result.ThreeWayMatchPassed = twm.Passed
	result.ThreeWayMatchStatus = twm.Status
	result.Message = fmt.Sprintf("%d of %d line(s) matched to PO %s", matched, len(kept), result.PONumber)
	if len(twm.NotReceived) > 0 {
		result.Message += fmt.Sprintf("; no goods receipt for %s", strings.Join(twm.NotReceived, ", "))
	}

	rate := result.MatchRate
	if inv.PONumber == "" {
		inv.PONumber = result.PONumber
	}
	inv.POMatchStatus = result.Status
	inv.POMatchConfidence = result.Confidence
	inv.POMatchRate = &rate
	inv.ThreeWayMatchRequired = twm.Required
	inv.ThreeWayMatchPassed = twm.Passed
	inv.ThreeWayMatchStatus = twm.Status

	switch {
	case result.Status == POMatched && twm.Passed:
		applyStep(inv, StepPOMatched, StatusInProgress, ResultSuccess, result.Message)
	case result.Status == PONoMatch:
		applyStep(inv, StepPOMatched, StatusManualReview, ResultFailure, result.Message)
	default:
		applyStep(inv, StepPOMatched, StatusManualReview, ResultWarning, result.Message)
	}
	if err := tx.UpdateInvoice(ctx, inv); err != nil {
		return err
	}
	return tx.AppendLog(ctx, logEntry(inv, result))
}

// recordSkipped stores a PO_MATCH_SKIPPED outcome for invoices without a PO or lines.
func (s *poMatchService) recordSkipped(ctx context.Context, invoiceID uuid.UUID, result *POMatchResult, status InvoiceStatus) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID, true)
		if err != nil {
			return err
		}
		if err := checkInvoiceTransition(inv, StepPOMatchSkipped); err != nil {
			return err
		}
		inv.POMatchStatus = result.Status
		inv.POMatchConfidence = ConfidenceNone
		inv.POMatchRate = nil
		inv.ThreeWayMatchRequired = false
		inv.ThreeWayMatchPassed = true
		inv.ThreeWayMatchStatus = ThreeWayNotRequired
		applyStep(inv, StepPOMatchSkipped, status, ResultWarning, result.Message)
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.AppendLog(ctx, logEntry(inv, result))
	})
	if err != nil {
		return fmt.Errorf("record skipped PO match for invoice %s: %w", invoiceID, err)
	}
	return nil
}
