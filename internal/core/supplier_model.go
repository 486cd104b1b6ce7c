package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SupplierRecord is one entry of the global supplier master list.
type SupplierRecord struct {
	SupplierNumber     string
	Name               string
	AlternateNames     []string
	Street             string
	City               string
	State              string
	PostalCode         string
	Country            string
	IsActive           bool
	Embedding          []float32
	EmbeddingUpdatedAt *time.Time
	LastRefreshedAt    *time.Time
	LastUsedAt         *time.Time
	SourceChangedAt    *time.Time
}

// EmbeddingText is the text the supplier's embedding is computed from.
func (s SupplierRecord) EmbeddingText() string {
	text := s.Name
	for _, alt := range s.AlternateNames {
		if alt != "" && alt != s.Name {
			text += " | " + alt
		}
	}
	return text
}

// Confidence is a discretised match score.
type Confidence string

const (
	ConfidenceHigh    Confidence = "HIGH"
	ConfidenceMedium  Confidence = "MEDIUM"
	ConfidenceLow     Confidence = "LOW"
	ConfidenceVeryLow Confidence = "VERY_LOW"
	ConfidenceNone    Confidence = "NONE"
	ConfidenceManual  Confidence = "MANUAL"
)

// SupplierMatchStatus is the outcome of supplier resolution.
type SupplierMatchStatus string

const (
	SupplierMatched      SupplierMatchStatus = "MATCHED"
	SupplierManualReview SupplierMatchStatus = "MANUAL_REVIEW"
	SupplierNoMatch      SupplierMatchStatus = "NO_MATCH"
)

// BoostFactors records which geographic boosts were applied to a candidate.
type BoostFactors struct {
	City       bool    `json:"city"`
	State      bool    `json:"state"`
	PostalCode bool    `json:"postal_code"`
	Total      float64 `json:"total"`
}

// SupplierCandidate is one scored supplier for a vendor name.
type SupplierCandidate struct {
	SupplierNumber string       `json:"supplier_number"`
	SupplierName   string       `json:"supplier_name"`
	City           string       `json:"city,omitempty"`
	PostalCode     string       `json:"postal_code,omitempty"`
	RawScore       float64      `json:"raw_score"`
	Score          float64      `json:"score"`
	Boosts         BoostFactors `json:"boosts"`
}

// SupplierMatchResult is returned by ResolveSupplier.
type SupplierMatchResult struct {
	InvoiceID      uuid.UUID           `json:"invoice_id"`
	QueryName      string              `json:"query_name,omitempty"`
	SupplierNumber string              `json:"supplier_number,omitempty"`
	SupplierName   string              `json:"supplier_name,omitempty"`
	Score          float64             `json:"score"`
	Confidence     Confidence          `json:"confidence"`
	Status         SupplierMatchStatus `json:"status"`
	BoostFactors   BoostFactors        `json:"boost_factors"`
	Alternatives   []SupplierCandidate `json:"alternatives"`
	Message        string              `json:"message"`
}

// SelectionType is the kind of human decision on a proposed supplier.
type SelectionType string

const (
	SelectionAccept     SelectionType = "ACCEPT"
	SelectionManual     SelectionType = "MANUAL"
	SelectionUpdateName SelectionType = "UPDATE_NAME"
)

// SupplierSelectionResult is returned by ProcessSupplierSelection.
type SupplierSelectionResult struct {
	InvoiceID      uuid.UUID            `json:"invoice_id"`
	SelectionType  SelectionType        `json:"selection_type"`
	Success        bool                 `json:"success"`
	SupplierNumber string               `json:"supplier_number,omitempty"`
	SupplierName   string               `json:"supplier_name,omitempty"`
	Status         SupplierMatchStatus  `json:"status"`
	Message        string               `json:"message"`
	Rematch        *SupplierMatchResult `json:"rematch,omitempty"`
}

// SupplierValidation is the verdict of ValidateSupplierNumber.
type SupplierValidation struct {
	SupplierNumber string `json:"supplier_number"`
	Valid          bool   `json:"valid"`
	Exists         bool   `json:"exists"`
	Active         bool   `json:"active"`
	SupplierName   string `json:"supplier_name,omitempty"`
	Message        string `json:"message"`
}

// SyncMode selects a full or incremental supplier master sync.
type SyncMode string

const (
	SyncFull  SyncMode = "full"
	SyncDelta SyncMode = "delta"
)

// SupplierSyncResult summarises one supplier master sync.
type SupplierSyncResult struct {
	Mode                SyncMode      `json:"mode"`
	Since               *time.Time    `json:"since,omitempty"`
	Fetched             int           `json:"fetched"`
	Synced              int           `json:"synced"`
	Failed              int           `json:"failed"`
	EmbeddingsRefreshed int           `json:"embeddings_refreshed"`
	EmbeddingsFailed    int           `json:"embeddings_failed"`
	Duration            time.Duration `json:"duration"`
}

// SupplierPage is one page of supplier master records from the source system.
type SupplierPage struct {
	Records  []SupplierRecord
	NextSkip int
	HasMore  bool
}

// SupplierSource pulls supplier master records, paged and filterable by change date.
type SupplierSource interface {
	ListSuppliers(ctx context.Context, changedSince *time.Time, skip int) (*SupplierPage, error)
}

// SupplierService provides supplier resolution and supplier master operations.
type SupplierService interface {
	// ResolveSupplier matches the invoice's vendor name against the supplier master.
	// A missing name or no candidate is a NO_MATCH result, not an error.
	ResolveSupplier(ctx context.Context, invoiceID uuid.UUID) (*SupplierMatchResult, error)

	// ProcessSupplierSelection applies a human decision (ACCEPT, MANUAL, UPDATE_NAME).
	ProcessSupplierSelection(ctx context.Context, invoiceID uuid.UUID, selection SelectionType, supplierNumber, vendorName string) (*SupplierSelectionResult, error)

	// ValidateSupplierNumber reports existence and active flag. It never returns an error.
	ValidateSupplierNumber(ctx context.Context, supplierNumber string) SupplierValidation

	// SyncSupplierMaster pulls supplier records and refreshes stale embeddings.
	SyncSupplierMaster(ctx context.Context, mode SyncMode, since *time.Time) (*SupplierSyncResult, error)
}
