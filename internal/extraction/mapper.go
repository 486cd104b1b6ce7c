package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	schemavalidator "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"invoice-agent/internal/core"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "02.01.2006", "01/02/2006"}

// Mapper validates extraction records against the reflected Record schema and
// maps them to invoices.
type Mapper struct {
	schemaJSON         []byte
	schema             *schemavalidator.Schema
	defaultCompanyCode string
}

// NewMapper compiles the record schema. defaultCompanyCode fills invoices whose
// extraction has no company code; empty leaves them without one.
func NewMapper(defaultCompanyCode string) (*Mapper, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	schemaJSON, err := json.Marshal(reflector.Reflect(&Record{}))
	if err != nil {
		return nil, fmt.Errorf("marshal extraction schema: %w", err)
	}

	compiler := schemavalidator.NewCompiler()
	if err := compiler.AddResource("extraction-record.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add extraction schema: %w", err)
	}
	schema, err := compiler.Compile("extraction-record.json")
	if err != nil {
		return nil, fmt.Errorf("compile extraction schema: %w", err)
	}
	return &Mapper{schemaJSON: schemaJSON, schema: schema, defaultCompanyCode: strings.TrimSpace(defaultCompanyCode)}, nil
}

// SchemaJSON returns the JSON schema incoming records are validated against.
func (m *Mapper) SchemaJSON() []byte {
	return m.schemaJSON
}

func decode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// Parse validates raw and maps it to an invoice header and its lines. Schema
// violations and unusable values are input errors.
func (m *Mapper) Parse(raw []byte) (*core.Invoice, []core.InvoiceLine, error) {
	var doc any
	if err := decode(raw, &doc); err != nil {
		return nil, nil, core.NewInputError("extraction", "invalid JSON: "+err.Error())
	}
	if err := m.schema.Validate(doc); err != nil {
		return nil, nil, core.NewInputError("extraction", "does not match schema: "+err.Error())
	}

	var rec Record
	if err := decode(raw, &rec); err != nil {
		return nil, nil, core.NewInputError("extraction", err.Error())
	}
	if rec.Status != "" && !strings.EqualFold(rec.Status, "DONE") {
		return nil, nil, core.NewInputError("extraction.status", fmt.Sprintf("extraction job is %s, not DONE", rec.Status))
	}
	return m.Map(&rec)
}

// Map converts an already decoded record.
func (m *Mapper) Map(rec *Record) (*core.Invoice, []core.InvoiceLine, error) {
	h := index(rec.Extraction.HeaderFields)
	inv := &core.Invoice{
		DocumentID:       strings.TrimSpace(rec.ID),
		FileName:         strings.TrimSpace(rec.FileName),
		InvoiceNumber:    h.text(FieldDocumentNumber),
		PONumber:         h.text(FieldPurchaseOrder),
		VendorName:       h.text(FieldSenderName),
		VendorStreet:     h.text(FieldSenderAddress),
		VendorCity:       h.text(FieldSenderCity),
		VendorPostalCode: h.text(FieldSenderPostalCode),
		VendorState:      h.text(FieldSenderState),
		VendorCountry:    strings.ToUpper(h.text(FieldSenderCountryCode)),
		BuyerName:        h.text(FieldReceiverName),
		Currency:         strings.ToUpper(h.text(FieldCurrencyCode)),
		CompanyCode:      h.text(FieldCompanyCode),
	}
	if inv.CompanyCode == "" {
		inv.CompanyCode = m.defaultCompanyCode
	}

	var err error
	if inv.NetAmount, err = h.amount(FieldNetAmount); err != nil {
		return nil, nil, err
	}
	if inv.GrossAmount, err = h.amount(FieldGrossAmount); err != nil {
		return nil, nil, err
	}
	if inv.TaxAmount, err = h.amount(FieldTaxAmount); err != nil {
		return nil, nil, err
	}
	if inv.DocumentDate, err = h.date(FieldDocumentDate); err != nil {
		return nil, nil, err
	}

	lines := make([]core.InvoiceLine, 0, len(rec.Extraction.LineItems))
	for i, item := range rec.Extraction.LineItems {
		line, err := mapLine(index(item), i)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, line)
	}
	return inv, lines, nil
}

func mapLine(f fields, i int) (core.InvoiceLine, error) {
	line := core.InvoiceLine{
		MaterialNumber: f.text(FieldMaterialNumber),
		Description:    f.text(FieldDescription),
		Unit:           strings.ToUpper(f.text(FieldUnitOfMeasure)),
		TaxCode:        strings.ToUpper(f.text(FieldTaxCode)),
	}
	numeric := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{FieldQuantity, &line.Quantity},
		{FieldUnitPrice, &line.UnitPrice},
		{FieldNetAmount, &line.NetAmount},
		{FieldTaxAmount, &line.TaxAmount},
	}
	for _, n := range numeric {
		v, err := f.amount(n.name)
		if err != nil {
			return core.InvoiceLine{}, fmt.Errorf("line item %d: %w", i+1, err)
		}
		if v != nil {
			*n.dst = *v
		}
	}
	if line.NetAmount.IsZero() && !line.Quantity.IsZero() && !line.UnitPrice.IsZero() {
		line.NetAmount = line.Quantity.Mul(line.UnitPrice).Round(2)
	}
	return line, nil
}

// fields indexes extracted fields by name; the first occurrence wins.
type fields map[string]any

func index(list []Field) fields {
	out := make(fields, len(list))
	for _, f := range list {
		if _, seen := out[f.Name]; !seen {
			out[f.Name] = f.Value
		}
	}
	return out
}

func (f fields) text(name string) string {
	switch v := f[name].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (f fields) amount(name string) (*decimal.Decimal, error) {
	s := f.text(name)
	if s == "" {
		return nil, nil
	}
	d, err := parseAmount(s)
	if err != nil {
		return nil, core.NewInputError(name, fmt.Sprintf("not a number: %q", s))
	}
	return &d, nil
}

func (f fields) date(name string) (*time.Time, error) {
	s := f.text(name)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &t, nil
		}
	}
	return nil, core.NewInputError(name, fmt.Sprintf("unrecognised date %q", s))
}

// parseAmount accepts plain decimals plus "1,234.56", "1.234,56" and
// "1,234,567" / "1.234.567" grouping.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if d, err := decimal.NewFromString(s); err == nil {
		return d, nil
	}
	if d, ok := parseGrouped(s); ok {
		return d, nil
	}
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	// A lone comma followed by exactly three digits groups thousands.
	if lastDot < 0 && strings.Count(s, ",") == 1 && len(s)-lastComma-1 == 3 {
		return decimal.NewFromString(strings.Replace(s, ",", "", 1))
	}
	if lastComma > lastDot {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	return decimal.NewFromString(s)
}

// parseGrouped handles whole numbers grouped by a single repeated separator.
func parseGrouped(s string) (decimal.Decimal, bool) {
	for _, sep := range []string{",", "."} {
		other := "."
		if sep == "." {
			other = ","
		}
		if strings.Count(s, sep) < 2 || strings.Contains(s, other) {
			continue
		}
		groups := strings.Split(strings.TrimPrefix(s, "-"), sep)
		if len(groups[0]) == 0 || len(groups[0]) > 3 {
			return decimal.Decimal{}, false
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return decimal.Decimal{}, false
			}
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(s, sep, ""))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}
