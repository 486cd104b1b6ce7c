package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PostingDocument is the ERP-bound supplier invoice.
type PostingDocument struct {
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	SupplierNumber string          `json:"supplier_number"`
	CompanyCode    string          `json:"company_code"`
	Currency       string          `json:"currency"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DocumentDate   string          `json:"document_date"`
	PostingDate    string          `json:"posting_date"`
	Reference      string          `json:"reference"`
	IsCreditMemo   bool            `json:"is_credit_memo"`
	Lines          []PostingLine   `json:"lines"`
}

// PostingLine is one PO-referenced item of a PostingDocument.
type PostingLine struct {
	ItemNumber int             `json:"item_number"`
	PONumber   string          `json:"po_number"`
	POItem     string          `json:"po_item"`
	TaxCode    string          `json:"tax_code"`
	Amount     decimal.Decimal `json:"amount"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
}

// PostingGateway pushes a posting document to the ERP and reports the outcome.
type PostingGateway interface {
	PostInvoice(ctx context.Context, doc *PostingDocument) (*PostingResponse, error)
}

// PostingResponse is the ERP's answer to a posting request.
type PostingResponse struct {
	Success        bool            `json:"success"`
	DocumentNumber string          `json:"document_number,omitempty"`
	FiscalYear     string          `json:"fiscal_year,omitempty"`
	Message        string          `json:"message,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// BuildPostingDocument assembles the posting from the invoice header and its MATCHED lines.
// Lines whose PO reference no longer resolves in poLines are left out, as are unmatched lines.
func BuildPostingDocument(inv *Invoice, lines []InvoiceLine, poLines map[uuid.UUID]POLine, postingType PostingType, postingDate time.Time) *PostingDocument {
	doc := &PostingDocument{
		InvoiceID:      inv.ID,
		SupplierNumber: inv.MatchedSupplierNumber,
		CompanyCode:    inv.CompanyCode,
		Currency:       inv.Currency,
		PostingDate:    postingDate.Format("2006-01-02"),
		Reference:      inv.InvoiceNumber,
		IsCreditMemo:   postingType == PostingCreditMemo,
	}
	if inv.GrossAmount != nil {
		doc.GrossAmount = *inv.GrossAmount
	}
	if inv.TaxAmount != nil {
		doc.TaxAmount = *inv.TaxAmount
	}
	if inv.DocumentDate != nil {
		doc.DocumentDate = inv.DocumentDate.Format("2006-01-02")
	}

	for _, line := range lines {
		if line.MatchStatus != LineMatched || line.MatchedPOLineID == nil {
			continue
		}
		po, ok := poLines[*line.MatchedPOLineID]
		if !ok {
			continue
		}
		taxCode := line.TaxCode
		if taxCode == "" {
			taxCode = po.TaxCode
		}
		unit := line.Unit
		if unit == "" {
			unit = po.Unit
		}
		doc.Lines = append(doc.Lines, PostingLine{
			ItemNumber: len(doc.Lines) + 1,
			PONumber:   po.PONumber,
			POItem:     po.POItem,
			TaxCode:    taxCode,
			Amount:     line.NetAmount,
			Quantity:   line.Quantity,
			Unit:       unit,
		})
	}
	return doc
}

// Normalize cleans up header codes before validation.
func (d *PostingDocument) Normalize() {
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	d.CompanyCode = strings.TrimSpace(d.CompanyCode)
	d.SupplierNumber = strings.TrimSpace(d.SupplierNumber)
	d.Reference = strings.TrimSpace(d.Reference)
	if d.DocumentDate == "" {
		d.DocumentDate = d.PostingDate
	}
	for i := range d.Lines {
		d.Lines[i].TaxCode = strings.ToUpper(strings.TrimSpace(d.Lines[i].TaxCode))
		d.Lines[i].Unit = strings.ToUpper(strings.TrimSpace(d.Lines[i].Unit))
	}
}

// Validate enforces what the ERP requires of a supplier invoice posting.
func (d *PostingDocument) Validate() error {
	if d.SupplierNumber == "" {
		return errors.New("posting must specify a supplier")
	}
	if d.CompanyCode == "" {
		return errors.New("posting must specify a company code")
	}
	if d.Currency == "" {
		return errors.New("posting must specify a currency")
	}
	if _, err := time.Parse("2006-01-02", d.PostingDate); err != nil {
		return fmt.Errorf("invalid posting date format: %w", err)
	}
	if _, err := time.Parse("2006-01-02", d.DocumentDate); err != nil {
		return fmt.Errorf("invalid document date format: %w", err)
	}
	if !d.GrossAmount.IsPositive() {
		return fmt.Errorf("gross amount must be > 0, got %s", d.GrossAmount)
	}
	if d.TaxAmount.IsNegative() {
		return fmt.Errorf("tax amount cannot be negative, got %s", d.TaxAmount)
	}
	if len(d.Lines) == 0 {
		return errors.New("posting must have at least one PO-matched line")
	}
	for _, line := range d.Lines {
		if line.PONumber == "" || line.POItem == "" {
			return fmt.Errorf("line %d has no purchase order reference", line.ItemNumber)
		}
		if !line.Amount.IsPositive() {
			return fmt.Errorf("amount must be > 0 for PO item %s-%s", line.PONumber, line.POItem)
		}
		if !line.Quantity.IsPositive() {
			return fmt.Errorf("quantity must be > 0 for PO item %s-%s", line.PONumber, line.POItem)
		}
	}
	return nil
}
