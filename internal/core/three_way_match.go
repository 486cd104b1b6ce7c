package core

import (
	"github.com/google/uuid"
)

// ThreeWayMatch is the goods-receipt verdict for one invoice.
type ThreeWayMatch struct {
	Required bool
	Passed   bool
	Status   ThreeWayMatchStatus
	// GRLines counts matched PO lines that are goods-receipt based.
	GRLines int
	// NotReceived lists the PO item keys of GR-based lines with nothing received yet.
	NotReceived []string
}

// EvaluateThreeWayMatch checks the goods receipt of every GR-based PO line that a
// MATCHED invoice line points at. A line whose PO reference no longer resolves is ignored.
// Without GR-based lines the check is not required and counts as passed.
func EvaluateThreeWayMatch(lines []InvoiceLine, poLines map[uuid.UUID]POLine) ThreeWayMatch {
	seen := make(map[uuid.UUID]bool)
	var m ThreeWayMatch
	for _, line := range lines {
		if line.MatchStatus != LineMatched || line.MatchedPOLineID == nil {
			continue
		}
		po, ok := poLines[*line.MatchedPOLineID]
		if !ok || !po.IsGoodsReceiptBased || seen[po.ID] {
			continue
		}
		seen[po.ID] = true
		m.GRLines++
		if !po.ReceivedQuantity.IsPositive() {
			m.NotReceived = append(m.NotReceived, po.Key())
		}
	}

	m.Required = m.GRLines > 0
	switch {
	case !m.Required:
		m.Passed = true
		m.Status = ThreeWayNotRequired
	case len(m.NotReceived) == 0:
		m.Passed = true
		m.Status = ThreeWayPassed
	default:
		m.Status = ThreeWayFailed
	}
	return m
}
