package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"invoice-agent/internal/core"
)

const invoiceColumns = `
	id, document_id, file_name, step, status, result, message,
	invoice_number, vendor_name, vendor_street, vendor_city, vendor_state, vendor_postal_code, vendor_country,
	buyer_name, company_code, currency, net_amount, gross_amount, tax_amount, document_date, po_number,
	matched_supplier_number, matched_supplier_name, supplier_match_score, supplier_match_status, supplier_match_confidence,
	po_match_status, po_match_confidence, po_match_rate, three_way_match_required, three_way_match_passed, three_way_match_status,
	approved_by, approval_comments, approved_at,
	posting_type, erp_document_number, erp_fiscal_year, posted_at, retry_count, last_error, last_error_at,
	created_at, updated_at`

func scanInvoice(row pgx.Row) (*core.Invoice, error) {
	var inv core.Invoice
	err := row.Scan(
		&inv.ID, &inv.DocumentID, &inv.FileName, &inv.Step, &inv.Status, &inv.Result, &inv.Message,
		&inv.InvoiceNumber, &inv.VendorName, &inv.VendorStreet, &inv.VendorCity, &inv.VendorState, &inv.VendorPostalCode, &inv.VendorCountry,
		&inv.BuyerName, &inv.CompanyCode, &inv.Currency, &inv.NetAmount, &inv.GrossAmount, &inv.TaxAmount, &inv.DocumentDate, &inv.PONumber,
		&inv.MatchedSupplierNumber, &inv.MatchedSupplierName, &inv.SupplierMatchScore, &inv.SupplierMatchStatus, &inv.SupplierMatchConfidence,
		&inv.POMatchStatus, &inv.POMatchConfidence, &inv.POMatchRate, &inv.ThreeWayMatchRequired, &inv.ThreeWayMatchPassed, &inv.ThreeWayMatchStatus,
		&inv.ApprovedBy, &inv.ApprovalComments, &inv.ApprovedAt,
		&inv.PostingType, &inv.ERPDocumentNumber, &inv.ERPFiscalYear, &inv.PostedAt, &inv.RetryCount, &inv.LastError, &inv.LastErrorAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func invoiceArgs(inv *core.Invoice) []any {
	return []any{
		inv.ID, inv.DocumentID, inv.FileName, inv.Step, inv.Status, inv.Result, inv.Message,
		inv.InvoiceNumber, inv.VendorName, inv.VendorStreet, inv.VendorCity, inv.VendorState, inv.VendorPostalCode, inv.VendorCountry,
		inv.BuyerName, inv.CompanyCode, inv.Currency, inv.NetAmount, inv.GrossAmount, inv.TaxAmount, inv.DocumentDate, inv.PONumber,
		inv.MatchedSupplierNumber, inv.MatchedSupplierName, inv.SupplierMatchScore, inv.SupplierMatchStatus, inv.SupplierMatchConfidence,
		inv.POMatchStatus, inv.POMatchConfidence, inv.POMatchRate, inv.ThreeWayMatchRequired, inv.ThreeWayMatchPassed, inv.ThreeWayMatchStatus,
		inv.ApprovedBy, inv.ApprovalComments, inv.ApprovedAt,
		inv.PostingType, inv.ERPDocumentNumber, inv.ERPFiscalYear, inv.PostedAt, inv.RetryCount, inv.LastError, inv.LastErrorAt,
		inv.CreatedAt, inv.UpdatedAt,
	}
}

func (t *pgTx) GetInvoice(ctx context.Context, id uuid.UUID, forUpdate bool) (*core.Invoice, error) {
	q := "SELECT " + invoiceColumns + " FROM invoices WHERE id = $1"
	if forUpdate {
		q += " FOR UPDATE"
	}
	inv, err := scanInvoice(t.tx.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "invoice", id)
	}
	return inv, nil
}

func (t *pgTx) InsertInvoice(ctx context.Context, inv *core.Invoice) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
		        $31, $32, $33, $34, $35, $36, $37, $38, $39, $40, $41, $42, $43, $44, $45)`,
		invoiceArgs(inv)...,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// UpdateInvoice rewrites every mutable column and bumps updated_at.
func (t *pgTx) UpdateInvoice(ctx context.Context, inv *core.Invoice) error {
	inv.UpdatedAt = time.Now().UTC()
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices SET
			document_id = $2, file_name = $3, step = $4, status = $5, result = $6, message = $7,
			invoice_number = $8, vendor_name = $9, vendor_street = $10, vendor_city = $11, vendor_state = $12,
			vendor_postal_code = $13, vendor_country = $14, buyer_name = $15, company_code = $16, currency = $17,
			net_amount = $18, gross_amount = $19, tax_amount = $20, document_date = $21, po_number = $22,
			matched_supplier_number = $23, matched_supplier_name = $24, supplier_match_score = $25,
			supplier_match_status = $26, supplier_match_confidence = $27,
			po_match_status = $28, po_match_confidence = $29, po_match_rate = $30,
			three_way_match_required = $31, three_way_match_passed = $32, three_way_match_status = $33,
			approved_by = $34, approval_comments = $35, approved_at = $36,
			posting_type = $37, erp_document_number = $38, erp_fiscal_year = $39, posted_at = $40,
			retry_count = $41, last_error = $42, last_error_at = $43,
			created_at = $44, updated_at = $45
		WHERE id = $1`,
		invoiceArgs(inv)...,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %s: %w", inv.ID, core.ErrNotFound)
	}
	return nil
}

func (t *pgTx) ListInvoiceLines(ctx context.Context, invoiceID uuid.UUID) ([]core.InvoiceLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, invoice_id, line_number, material_number, description, quantity, unit, unit_price,
		       net_amount, tax_amount, tax_code, match_status, matched_po_line_id, match_score
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_number, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query invoice lines: %w", err)
	}
	defer rows.Close()

	var lines []core.InvoiceLine
	for rows.Next() {
		var l core.InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.LineNumber, &l.MaterialNumber, &l.Description,
			&l.Quantity, &l.Unit, &l.UnitPrice, &l.NetAmount, &l.TaxAmount, &l.TaxCode,
			&l.MatchStatus, &l.MatchedPOLineID, &l.MatchScore); err != nil {
			return nil, fmt.Errorf("scan invoice line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *pgTx) InsertInvoiceLines(ctx context.Context, lines []core.InvoiceLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`
			INSERT INTO invoice_lines (id, invoice_id, line_number, material_number, description, quantity, unit,
			                           unit_price, net_amount, tax_amount, tax_code, match_status, matched_po_line_id, match_score)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			l.ID, l.InvoiceID, l.LineNumber, l.MaterialNumber, l.Description, l.Quantity, l.Unit,
			l.UnitPrice, l.NetAmount, l.TaxAmount, l.TaxCode, l.MatchStatus, l.MatchedPOLineID, l.MatchScore)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert invoice lines: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateInvoiceLine(ctx context.Context, l *core.InvoiceLine) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoice_lines SET
			line_number = $2, material_number = $3, description = $4, quantity = $5, unit = $6,
			unit_price = $7, net_amount = $8, tax_amount = $9, tax_code = $10,
			match_status = $11, matched_po_line_id = $12, match_score = $13
		WHERE id = $1`,
		l.ID, l.LineNumber, l.MaterialNumber, l.Description, l.Quantity, l.Unit,
		l.UnitPrice, l.NetAmount, l.TaxAmount, l.TaxCode, l.MatchStatus, l.MatchedPOLineID, l.MatchScore)
	if err != nil {
		return fmt.Errorf("update invoice line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice line %s: %w", l.ID, core.ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteInvoiceLines(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, "DELETE FROM invoice_lines WHERE id = ANY($1)", ids); err != nil {
		return fmt.Errorf("delete invoice lines: %w", err)
	}
	return nil
}

func (t *pgTx) AppendLog(ctx context.Context, e core.ProcessLogEntry) error {
	var details []byte
	if len(e.Details) > 0 {
		details = e.Details
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO invoice_process_log (id, invoice_id, step, status, result, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.InvoiceID, e.Step, e.Status, e.Result, e.Message, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append process log: %w", err)
	}
	return nil
}

// ListProcessLog returns the audit trail of an invoice, oldest first.
func (s *PgStore) ListProcessLog(ctx context.Context, invoiceID uuid.UUID) ([]core.ProcessLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_id, step, status, result, message, details, created_at
		FROM invoice_process_log
		WHERE invoice_id = $1
		ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query process log: %w", err)
	}
	defer rows.Close()

	var out []core.ProcessLogEntry
	for rows.Next() {
		var e core.ProcessLogEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.InvoiceID, &e.Step, &e.Status, &e.Result, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan process log: %w", err)
		}
		e.Details = details
		out = append(out, e)
	}
	return out, rows.Err()
}
