package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"invoice-agent/internal/core"
)

const supplierColumns = `
	supplier_number, name, alternate_names, street, city, state, postal_code, country, is_active,
	embedding, embedding_updated_at, last_refreshed_at, last_used_at, source_changed_at`

func scanSupplier(row pgx.Row) (*core.SupplierRecord, error) {
	var s core.SupplierRecord
	if err := row.Scan(&s.SupplierNumber, &s.Name, &s.AlternateNames, &s.Street, &s.City, &s.State,
		&s.PostalCode, &s.Country, &s.IsActive, &s.Embedding, &s.EmbeddingUpdatedAt,
		&s.LastRefreshedAt, &s.LastUsedAt, &s.SourceChangedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSuppliers(rows pgx.Rows) ([]core.SupplierRecord, error) {
	defer rows.Close()
	var out []core.SupplierRecord
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (t *pgTx) ListActiveSuppliers(ctx context.Context) ([]core.SupplierRecord, error) {
	rows, err := t.tx.Query(ctx, "SELECT "+supplierColumns+" FROM suppliers WHERE is_active ORDER BY supplier_number")
	if err != nil {
		return nil, fmt.Errorf("query suppliers: %w", err)
	}
	return collectSuppliers(rows)
}

func (t *pgTx) GetSupplier(ctx context.Context, supplierNumber string) (*core.SupplierRecord, error) {
	s, err := scanSupplier(t.tx.QueryRow(ctx, "SELECT "+supplierColumns+" FROM suppliers WHERE supplier_number = $1", supplierNumber))
	if err != nil {
		return nil, notFound(err, "supplier", supplierNumber)
	}
	return s, nil
}

// UpsertSupplier keeps the stored embedding only while name and alternate names are unchanged.
func (t *pgTx) UpsertSupplier(ctx context.Context, s *core.SupplierRecord) error {
	alternates := s.AlternateNames
	if alternates == nil {
		alternates = []string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO suppliers (supplier_number, name, alternate_names, street, city, state, postal_code, country,
		                       is_active, source_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (supplier_number) DO UPDATE SET
			name = EXCLUDED.name,
			alternate_names = EXCLUDED.alternate_names,
			street = EXCLUDED.street,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			postal_code = EXCLUDED.postal_code,
			country = EXCLUDED.country,
			is_active = EXCLUDED.is_active,
			source_changed_at = EXCLUDED.source_changed_at,
			embedding = CASE
				WHEN suppliers.name = EXCLUDED.name AND suppliers.alternate_names = EXCLUDED.alternate_names
				THEN suppliers.embedding ELSE NULL END,
			embedding_updated_at = CASE
				WHEN suppliers.name = EXCLUDED.name AND suppliers.alternate_names = EXCLUDED.alternate_names
				THEN suppliers.embedding_updated_at ELSE NULL END,
			updated_at = now()`,
		s.SupplierNumber, s.Name, alternates, s.Street, s.City, s.State, s.PostalCode, s.Country,
		s.IsActive, s.SourceChangedAt)
	if err != nil {
		return fmt.Errorf("upsert supplier %s: %w", s.SupplierNumber, err)
	}
	return nil
}

func (t *pgTx) ListSuppliersNeedingEmbedding(ctx context.Context, staleBefore, retryBefore time.Time, limit int) ([]core.SupplierRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+supplierColumns+`
		FROM suppliers
		WHERE is_active
		  AND (embedding IS NULL OR embedding_updated_at IS NULL OR embedding_updated_at < $1)
		  AND (last_refreshed_at IS NULL OR last_refreshed_at < $2)
		ORDER BY supplier_number
		LIMIT $3`, staleBefore, retryBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query suppliers needing embedding: %w", err)
	}
	return collectSuppliers(rows)
}

func (t *pgTx) UpdateSupplierEmbedding(ctx context.Context, supplierNumber string, embedding []float32, refreshedAt time.Time) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if embedding == nil {
		tag, err = t.tx.Exec(ctx, "UPDATE suppliers SET last_refreshed_at = $2 WHERE supplier_number = $1",
			supplierNumber, refreshedAt)
	} else {
		tag, err = t.tx.Exec(ctx, `
			UPDATE suppliers SET embedding = $2, embedding_updated_at = $3, last_refreshed_at = $3
			WHERE supplier_number = $1`, supplierNumber, embedding, refreshedAt)
	}
	if err != nil {
		return fmt.Errorf("update supplier embedding %s: %w", supplierNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("supplier %s: %w", supplierNumber, core.ErrNotFound)
	}
	return nil
}

func (t *pgTx) TouchSupplier(ctx context.Context, supplierNumber string, usedAt time.Time) error {
	tag, err := t.tx.Exec(ctx, "UPDATE suppliers SET last_used_at = $2 WHERE supplier_number = $1", supplierNumber, usedAt)
	if err != nil {
		return fmt.Errorf("touch supplier %s: %w", supplierNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("supplier %s: %w", supplierNumber, core.ErrNotFound)
	}
	return nil
}
