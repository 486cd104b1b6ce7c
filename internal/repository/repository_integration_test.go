package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"invoice-agent/internal/core"
	"invoice-agent/internal/repository"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Integration tests truncate tables, so they only run against TEST_DATABASE_URL.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	schema, err := os.ReadFile("../../migrations/001_invoice_schema.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE TABLE invoice_process_log, invoice_lines, po_lines, invoices, suppliers CASCADE"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func TestInvoiceRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	store := repository.NewPgStore(pool)

	gross := decimal.RequireFromString("119.00")
	docDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	inv, err := core.NewInvoiceService(store, nil).CreateInvoice(ctx, &core.Invoice{
		InvoiceNumber: "INV-1001",
		VendorName:    "Acme Corp",
		Currency:      "eur",
		GrossAmount:   &gross,
		DocumentDate:  &docDate,
		PONumber:      "4500000123",
	}, []core.InvoiceLine{
		{Description: "Widget", Quantity: decimal.NewFromInt(5), NetAmount: decimal.NewFromInt(100)},
		{Description: "Gadget", Quantity: decimal.NewFromInt(1), NetAmount: decimal.NewFromInt(20)},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	err = store.InTx(ctx, func(tx core.Tx) error {
		got, err := tx.GetInvoice(ctx, inv.ID, true)
		if err != nil {
			return err
		}
		if got.Currency != "EUR" || got.Step != core.StepDoxExtracted || got.GrossAmount == nil || !got.GrossAmount.Equal(gross) {
			t.Errorf("unexpected invoice %+v", got)
		}
		lines, err := tx.ListInvoiceLines(ctx, inv.ID)
		if err != nil {
			return err
		}
		if len(lines) != 2 || lines[0].LineNumber != 10 || lines[1].LineNumber != 20 {
			t.Errorf("unexpected lines %+v", lines)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	logs, err := store.ListProcessLog(ctx, inv.ID)
	if err != nil {
		t.Fatalf("ListProcessLog: %v", err)
	}
	if len(logs) != 1 || logs[0].Step != core.StepDoxExtracted {
		t.Errorf("expected one DOX_EXTRACTED entry, got %+v", logs)
	}

	err = store.InTx(ctx, func(tx core.Tx) error {
		_, err := tx.GetInvoice(ctx, uuid.New(), false)
		return err
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	store := repository.NewPgStore(pool)

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx core.Tx) error {
		if err := tx.UpsertSupplier(ctx, &core.SupplierRecord{SupplierNumber: "0000100001", Name: "Acme", IsActive: true}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = store.InTx(ctx, func(tx core.Tx) error {
		_, err := tx.GetSupplier(ctx, "0000100001")
		return err
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("supplier should have been rolled back, got %v", err)
	}
}

func TestSupplierEmbeddingLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	store := repository.NewPgStore(pool)
	now := time.Now().UTC().Truncate(time.Second)

	err := store.InTx(ctx, func(tx core.Tx) error {
		s := &core.SupplierRecord{SupplierNumber: "0000100001", Name: "Acme Corp", AlternateNames: []string{"ACME"}, City: "Springfield", IsActive: true}
		if err := tx.UpsertSupplier(ctx, s); err != nil {
			return err
		}
		if err := tx.UpdateSupplierEmbedding(ctx, s.SupplierNumber, []float32{0.6, 0.8}, now); err != nil {
			return err
		}

		// Address-only change keeps the embedding.
		s.City = "Shelbyville"
		if err := tx.UpsertSupplier(ctx, s); err != nil {
			return err
		}
		got, err := tx.GetSupplier(ctx, s.SupplierNumber)
		if err != nil {
			return err
		}
		if len(got.Embedding) != 2 || got.City != "Shelbyville" {
			t.Errorf("embedding should survive address change: %+v", got)
		}

		// Rename clears it and makes the supplier eligible for refresh.
		s.Name = "Acme Corporation"
		if err := tx.UpsertSupplier(ctx, s); err != nil {
			return err
		}
		pending, err := tx.ListSuppliersNeedingEmbedding(ctx, now.Add(-time.Hour), now.Add(time.Minute), 10)
		if err != nil {
			return err
		}
		if len(pending) != 1 || pending[0].Embedding != nil {
			t.Errorf("expected renamed supplier to need an embedding, got %+v", pending)
		}

		// A failed refresh attempt only stamps last_refreshed_at, which the backoff respects.
		if err := tx.UpdateSupplierEmbedding(ctx, s.SupplierNumber, nil, now); err != nil {
			return err
		}
		pending, err = tx.ListSuppliersNeedingEmbedding(ctx, now.Add(-time.Hour), now.Add(-time.Minute), 10)
		if err != nil {
			return err
		}
		if len(pending) != 0 {
			t.Errorf("supplier inside retry backoff should be skipped, got %d", len(pending))
		}

		if err := tx.TouchSupplier(ctx, "9999999999", now); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("touch unknown supplier: expected ErrNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

func TestUpsertPOLine_KeepsIdentity(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	store := repository.NewPgStore(pool)

	inv, err := core.NewInvoiceService(store, nil).CreateInvoice(ctx, &core.Invoice{InvoiceNumber: "INV-2"}, nil)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	err = store.InTx(ctx, func(tx core.Tx) error {
		line := &core.POLine{
			InvoiceID: inv.ID, PONumber: "4500000123", POItem: "00010",
			Description: "Widget", OrderedQuantity: decimal.NewFromInt(10),
			Embedding: []float32{1, 0}, FetchedAt: time.Now().UTC(),
		}
		if err := tx.UpsertPOLine(ctx, line); err != nil {
			return err
		}
		firstID := line.ID

		refresh := &core.POLine{
			InvoiceID: inv.ID, PONumber: "4500000123", POItem: "00010",
			Description: "Widget", ReceivedQuantity: decimal.NewFromInt(4),
			IsGoodsReceiptBased: true, FetchedAt: time.Now().UTC(),
		}
		if err := tx.UpsertPOLine(ctx, refresh); err != nil {
			return err
		}
		if refresh.ID != firstID {
			t.Errorf("upsert changed id: %s != %s", refresh.ID, firstID)
		}

		got, err := tx.GetPOLine(ctx, firstID)
		if err != nil {
			return err
		}
		if !got.ReceivedQuantity.Equal(decimal.NewFromInt(4)) || !got.IsGoodsReceiptBased || len(got.Embedding) != 2 {
			t.Errorf("unexpected refreshed line %+v", got)
		}

		if _, err := tx.GetPOLine(ctx, uuid.New()); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected ErrNotFound for dangling reference, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}
