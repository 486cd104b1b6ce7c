package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"invoice-agent/internal/core"
)

const poLineColumns = `
	id, invoice_id, po_number, po_item, material_number, description,
	ordered_quantity, open_quantity, received_quantity, unit, unit_price, currency, tax_code,
	goods_receipt_expected, invoice_expected, is_goods_receipt_based, embedding, fetched_at`

func scanPOLine(row pgx.Row) (*core.POLine, error) {
	var l core.POLine
	if err := row.Scan(&l.ID, &l.InvoiceID, &l.PONumber, &l.POItem, &l.MaterialNumber, &l.Description,
		&l.OrderedQuantity, &l.OpenQuantity, &l.ReceivedQuantity, &l.Unit, &l.UnitPrice, &l.Currency, &l.TaxCode,
		&l.GoodsReceiptExpected, &l.InvoiceExpected, &l.IsGoodsReceiptBased, &l.Embedding, &l.FetchedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *pgTx) ListPOLines(ctx context.Context, invoiceID uuid.UUID, poNumber string) ([]core.POLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+poLineColumns+`
		FROM po_lines
		WHERE invoice_id = $1 AND po_number = $2
		ORDER BY po_item`, invoiceID, poNumber)
	if err != nil {
		return nil, fmt.Errorf("query po lines: %w", err)
	}
	defer rows.Close()

	var out []core.POLine
	for rows.Next() {
		l, err := scanPOLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan po line: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (t *pgTx) GetPOLine(ctx context.Context, id uuid.UUID) (*core.POLine, error) {
	l, err := scanPOLine(t.tx.QueryRow(ctx, "SELECT "+poLineColumns+" FROM po_lines WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "po line", id)
	}
	return l, nil
}

// UpsertPOLine refreshes the cached item in place so existing invoice-line references stay valid.
func (t *pgTx) UpsertPOLine(ctx context.Context, l *core.POLine) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO po_lines (`+poLineColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (invoice_id, po_number, po_item) DO UPDATE SET
			material_number = EXCLUDED.material_number,
			description = EXCLUDED.description,
			ordered_quantity = EXCLUDED.ordered_quantity,
			open_quantity = EXCLUDED.open_quantity,
			received_quantity = EXCLUDED.received_quantity,
			unit = EXCLUDED.unit,
			unit_price = EXCLUDED.unit_price,
			currency = EXCLUDED.currency,
			tax_code = EXCLUDED.tax_code,
			goods_receipt_expected = EXCLUDED.goods_receipt_expected,
			invoice_expected = EXCLUDED.invoice_expected,
			is_goods_receipt_based = EXCLUDED.is_goods_receipt_based,
			embedding = COALESCE(EXCLUDED.embedding, po_lines.embedding),
			fetched_at = EXCLUDED.fetched_at
		RETURNING id`,
		l.ID, l.InvoiceID, l.PONumber, l.POItem, l.MaterialNumber, l.Description,
		l.OrderedQuantity, l.OpenQuantity, l.ReceivedQuantity, l.Unit, l.UnitPrice, l.Currency, l.TaxCode,
		l.GoodsReceiptExpected, l.InvoiceExpected, l.IsGoodsReceiptBased, l.Embedding, l.FetchedAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("upsert po line %s: %w", l.Key(), err)
	}
	return nil
}
