package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// POLine is an invoice-scoped cached copy of one ERP purchase-order item.
type POLine struct {
	ID                   uuid.UUID
	InvoiceID            uuid.UUID
	PONumber             string
	POItem               string
	MaterialNumber       string
	Description          string
	OrderedQuantity      decimal.Decimal
	OpenQuantity         decimal.Decimal
	ReceivedQuantity     decimal.Decimal // goods received to date
	Unit                 string
	UnitPrice            decimal.Decimal
	Currency             string
	TaxCode              string
	GoodsReceiptExpected bool
	InvoiceExpected      bool
	IsGoodsReceiptBased  bool
	Embedding            []float32
	FetchedAt            time.Time
}

// EmbeddingText is the text the PO line embedding is derived from.
func (l POLine) EmbeddingText() string {
	return lineQueryText(l.MaterialNumber, l.Description)
}

// Key returns the PO number/item key, e.g. "4500000123-00010".
func (l POLine) Key() string {
	return l.PONumber + "-" + l.POItem
}

// POMatchStatus summarises how many invoice lines matched a PO line.
type POMatchStatus string

const (
	POMatched POMatchStatus = "MATCHED"
	POPartial POMatchStatus = "PARTIAL"
	PONoMatch POMatchStatus = "NO_MATCH"
	PONoPO    POMatchStatus = "NO_PO"
	PONoItems POMatchStatus = "NO_ITEMS"
)

// ThreeWayMatchStatus is the persisted outcome of the goods-receipt check.
type ThreeWayMatchStatus string

const (
	ThreeWayNotRequired ThreeWayMatchStatus = "NOT_REQUIRED"
	ThreeWayPassed      ThreeWayMatchStatus = "PASSED"
	ThreeWayFailed      ThreeWayMatchStatus = "FAILED"
)

// LineMatch is the per-line outcome reported by MatchPOLines.
type LineMatch struct {
	InvoiceLineID    uuid.UUID       `json:"invoice_line_id"`
	LineNumber       int             `json:"line_number"`
	Description      string          `json:"description"`
	Status           LineMatchStatus `json:"status"`
	Score            *float64        `json:"score,omitempty"`
	POLineID         *uuid.UUID      `json:"po_line_id,omitempty"`
	POItemKey        string          `json:"po_item_key,omitempty"`
	GoodsReceiptBase bool            `json:"goods_receipt_based"`
	ReceivedQuantity string          `json:"received_quantity,omitempty"`
	Skipped          bool            `json:"skipped,omitempty"`
}

// POMatchResult is returned by MatchPOLines.
type POMatchResult struct {
	InvoiceID             uuid.UUID           `json:"invoice_id"`
	PONumber              string              `json:"po_number,omitempty"`
	TotalLines            int                 `json:"total_lines"`
	MatchedCount          int                 `json:"matched_count"`
	UnmatchedCount        int                 `json:"unmatched_count"`
	MatchRate             float64             `json:"match_rate"`
	ThreeWayMatchRequired bool                `json:"three_way_match_required"`
	ThreeWayMatchPassed   bool                `json:"three_way_match_passed"`
	ThreeWayMatchStatus   ThreeWayMatchStatus `json:"three_way_match_status"`
	Confidence            Confidence          `json:"confidence"`
	Status                POMatchStatus       `json:"status"`
	Consolidation         ConsolidationResult `json:"consolidation"`
	Matches               []LineMatch         `json:"matches"`
	Message               string              `json:"message"`
}

// ConsolidationResult reports how many duplicate line matches were folded.
type ConsolidationResult struct {
	GroupsConsolidated int `json:"groups_consolidated"`
	LinesDeleted       int `json:"lines_deleted"`
}

// PurchaseOrderSource fetches purchase order items, with goods-receipt totals, from the ERP.
type PurchaseOrderSource interface {
	FetchPOLines(ctx context.Context, poNumber string) ([]POLine, error)
}

// POMatchService provides PO line matching and consolidation.
type POMatchService interface {
	// MatchPOLines matches every invoice line to a PO line of the same purchase order.
	// A missing PO number or empty line set is a status, not an error.
	MatchPOLines(ctx context.Context, invoiceID uuid.UUID, poNumber string, fetchFromSource bool) (*POMatchResult, error)

	// Consolidate folds invoice lines that matched the same PO line into one.
	Consolidate(ctx context.Context, invoiceID uuid.UUID) (*ConsolidationResult, error)
}
