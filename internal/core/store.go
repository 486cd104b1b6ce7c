package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract the pipeline depends on.
// InTx runs fn inside one atomic unit of work: if fn returns an error nothing it
// wrote is kept.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the row operations available inside a unit of work.
type Tx interface {
	// GetInvoice returns ErrNotFound for unknown ids. forUpdate locks the row.
	GetInvoice(ctx context.Context, id uuid.UUID, forUpdate bool) (*Invoice, error)
	InsertInvoice(ctx context.Context, inv *Invoice) error
	UpdateInvoice(ctx context.Context, inv *Invoice) error

	// ListInvoiceLines returns lines ordered by line number.
	ListInvoiceLines(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceLine, error)
	InsertInvoiceLines(ctx context.Context, lines []InvoiceLine) error
	UpdateInvoiceLine(ctx context.Context, line *InvoiceLine) error
	DeleteInvoiceLines(ctx context.Context, ids []uuid.UUID) error

	// ListPOLines returns cached PO lines for the invoice and PO number, ordered by item.
	ListPOLines(ctx context.Context, invoiceID uuid.UUID, poNumber string) ([]POLine, error)
	// GetPOLine returns ErrNotFound when the weak reference no longer resolves.
	GetPOLine(ctx context.Context, id uuid.UUID) (*POLine, error)
	// UpsertPOLine inserts or refreshes the line keyed by (invoice, PO number, PO item)
	// and sets line.ID to the stored id.
	UpsertPOLine(ctx context.Context, line *POLine) error

	ListActiveSuppliers(ctx context.Context) ([]SupplierRecord, error)
	// GetSupplier returns ErrNotFound for unknown supplier numbers.
	GetSupplier(ctx context.Context, supplierNumber string) (*SupplierRecord, error)
	// UpsertSupplier inserts or updates master data by supplier number. A changed name
	// or alternate-name list clears the stored embedding.
	UpsertSupplier(ctx context.Context, s *SupplierRecord) error
	// ListSuppliersNeedingEmbedding returns active suppliers whose embedding is missing
	// or older than staleBefore, skipping those last attempted after retryBefore.
	ListSuppliersNeedingEmbedding(ctx context.Context, staleBefore, retryBefore time.Time, limit int) ([]SupplierRecord, error)
	// UpdateSupplierEmbedding stores a new embedding; a nil embedding only stamps
	// the refresh attempt.
	UpdateSupplierEmbedding(ctx context.Context, supplierNumber string, embedding []float32, refreshedAt time.Time) error
	TouchSupplier(ctx context.Context, supplierNumber string, usedAt time.Time) error

	AppendLog(ctx context.Context, entry ProcessLogEntry) error
}
