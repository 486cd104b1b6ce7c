package erp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invoice-agent/internal/core"
)

// scheme captures what differs between the on-premise (OData v2) and cloud
// (OData v4) ERP APIs: paths, envelopes, date literals and the posting body.
type scheme interface {
	name() string
	poItemsPath() string
	poHistoryPath() string
	suppliersPath() string
	invoicePath() string
	// csrfPath is the service root used to fetch a CSRF token; empty when not needed.
	csrfPath() string
	changedSinceFilter(since time.Time) string
	decodeList(body []byte) (items []json.RawMessage, next string, err error)
	encodePosting(doc *core.PostingDocument) (any, error)
	decodePosting(body []byte) (postingResult, error)
	decodeError(body []byte) string
}

func newScheme(variant string) (scheme, error) {
	switch strings.ToLower(variant) {
	case "", "onprem":
		return onPremScheme{}, nil
	case "cloud":
		return cloudScheme{}, nil
	}
	return nil, fmt.Errorf("unknown ERP variant %q", variant)
}

// quote renders an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func parseISODate(field, s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q is not YYYY-MM-DD", field, s)
	}
	return t, nil
}

func creditMemoIndicator(b bool) string {
	if b {
		return "X"
	}
	return ""
}

// ---- on-premise: OData v2 ----

type onPremScheme struct{}

const onPremService = "/sap/opu/odata/sap"

func (onPremScheme) name() string { return "onprem" }
func (onPremScheme) poItemsPath() string {
	return onPremService + "/API_PURCHASEORDER_PROCESS_SRV/A_PurchaseOrderItem"
}
func (onPremScheme) poHistoryPath() string {
	return onPremService + "/API_PURCHASEORDER_PROCESS_SRV/A_PurchaseOrderHistory"
}
func (onPremScheme) suppliersPath() string {
	return onPremService + "/API_BUSINESS_PARTNER/A_Supplier"
}
func (onPremScheme) invoicePath() string {
	return onPremService + "/API_SUPPLIERINVOICE_PROCESS_SRV/A_SupplierInvoice"
}
func (onPremScheme) csrfPath() string {
	return onPremService + "/API_SUPPLIERINVOICE_PROCESS_SRV/"
}

func (onPremScheme) changedSinceFilter(since time.Time) string {
	return "LastChangeDate ge datetime'" + since.UTC().Format("2006-01-02T15:04:05") + "'"
}

func (onPremScheme) decodeList(body []byte) ([]json.RawMessage, string, error) {
	var env struct {
		D struct {
			Results []json.RawMessage `json:"results"`
			Next    string            `json:"__next"`
		} `json:"d"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", fmt.Errorf("decode OData v2 list: %w", err)
	}
	return env.D.Results, env.D.Next, nil
}

type onPremPOItemRef struct {
	SupplierInvoiceItem         string `json:"SupplierInvoiceItem"`
	PurchaseOrder               string `json:"PurchaseOrder"`
	PurchaseOrderItem           string `json:"PurchaseOrderItem"`
	TaxCode                     string `json:"TaxCode"`
	DocumentCurrency            string `json:"DocumentCurrency"`
	SupplierInvoiceItemAmount   string `json:"SupplierInvoiceItemAmount"`
	PurchaseOrderQuantityUnit   string `json:"PurchaseOrderQuantityUnit"`
	QuantityInPurchaseOrderUnit string `json:"QuantityInPurchaseOrderUnit"`
}

type onPremTax struct {
	TaxCode          string `json:"TaxCode"`
	DocumentCurrency string `json:"DocumentCurrency"`
	TaxAmount        string `json:"TaxAmount"`
}

type onPremInvoice struct {
	CompanyCode                   string `json:"CompanyCode"`
	DocumentDate                  string `json:"DocumentDate"`
	PostingDate                   string `json:"PostingDate"`
	SupplierInvoiceIDByInvcgParty string `json:"SupplierInvoiceIDByInvcgParty"`
	InvoicingParty                string `json:"InvoicingParty"`
	DocumentCurrency              string `json:"DocumentCurrency"`
	InvoiceGrossAmount            string `json:"InvoiceGrossAmount"`
	SupplierInvoiceIsCreditMemo   string `json:"SupplierInvoiceIsCreditMemo"`
	TaxIsCalculatedAutomatically  bool   `json:"TaxIsCalculatedAutomatically"`
	ItemRefs                      struct {
		Results []onPremPOItemRef `json:"results"`
	} `json:"to_SuplrInvcItemPurOrdRef"`
	Taxes *struct {
		Results []onPremTax `json:"results"`
	} `json:"to_SupplierInvoiceTax,omitempty"`
}

func (onPremScheme) encodePosting(doc *core.PostingDocument) (any, error) {
	docDate, err := parseISODate("document date", doc.DocumentDate)
	if err != nil {
		return nil, err
	}
	postDate, err := parseISODate("posting date", doc.PostingDate)
	if err != nil {
		return nil, err
	}
	body := onPremInvoice{
		CompanyCode:                   doc.CompanyCode,
		DocumentDate:                  odataDate(docDate),
		PostingDate:                   odataDate(postDate),
		SupplierInvoiceIDByInvcgParty: doc.Reference,
		InvoicingParty:                doc.SupplierNumber,
		DocumentCurrency:              doc.Currency,
		InvoiceGrossAmount:            doc.GrossAmount.StringFixed(2),
		SupplierInvoiceIsCreditMemo:   creditMemoIndicator(doc.IsCreditMemo),
		TaxIsCalculatedAutomatically:  doc.TaxAmount.IsZero(),
	}
	for _, l := range doc.Lines {
		body.ItemRefs.Results = append(body.ItemRefs.Results, onPremPOItemRef{
			SupplierInvoiceItem:         fmt.Sprintf("%06d", l.ItemNumber),
			PurchaseOrder:               l.PONumber,
			PurchaseOrderItem:           l.POItem,
			TaxCode:                     l.TaxCode,
			DocumentCurrency:            doc.Currency,
			SupplierInvoiceItemAmount:   l.Amount.StringFixed(2),
			PurchaseOrderQuantityUnit:   l.Unit,
			QuantityInPurchaseOrderUnit: l.Quantity.String(),
		})
	}
	if !doc.TaxAmount.IsZero() {
		body.Taxes = &struct {
			Results []onPremTax `json:"results"`
		}{Results: []onPremTax{{TaxCode: headerTaxCode(doc), DocumentCurrency: doc.Currency, TaxAmount: doc.TaxAmount.StringFixed(2)}}}
	}
	return body, nil
}

func (onPremScheme) decodePosting(body []byte) (postingResult, error) {
	var env struct {
		D postingResult `json:"d"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return postingResult{}, fmt.Errorf("decode posting response: %w", err)
	}
	return env.D, nil
}

func (onPremScheme) decodeError(body []byte) string {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message struct {
				Value string `json:"value"`
			} `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Message.Value == "" {
		return strings.TrimSpace(string(body))
	}
	return strings.TrimSpace(env.Error.Code + " " + env.Error.Message.Value)
}

// ---- cloud: OData v4 ----

type cloudScheme struct{}

func (cloudScheme) name() string          { return "cloud" }
func (cloudScheme) poItemsPath() string   { return "/api/purchaseorder/v1/PurchaseOrderItem" }
func (cloudScheme) poHistoryPath() string { return "/api/purchaseorder/v1/PurchaseOrderHistory" }
func (cloudScheme) suppliersPath() string { return "/api/supplier/v1/Supplier" }
func (cloudScheme) invoicePath() string   { return "/api/supplierinvoice/v1/SupplierInvoice" }
func (cloudScheme) csrfPath() string      { return "" }

func (cloudScheme) changedSinceFilter(since time.Time) string {
	return "LastChangeDateTime ge " + since.UTC().Format(time.RFC3339)
}

func (cloudScheme) decodeList(body []byte) ([]json.RawMessage, string, error) {
	var env struct {
		Value    []json.RawMessage `json:"value"`
		NextLink string            `json:"@odata.nextLink"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", fmt.Errorf("decode OData v4 list: %w", err)
	}
	return env.Value, env.NextLink, nil
}

type cloudPOItemRef struct {
	SupplierInvoiceItem         string          `json:"SupplierInvoiceItem"`
	PurchaseOrder               string          `json:"PurchaseOrder"`
	PurchaseOrderItem           string          `json:"PurchaseOrderItem"`
	TaxCode                     string          `json:"TaxCode"`
	DocumentCurrency            string          `json:"DocumentCurrency"`
	SupplierInvoiceItemAmount   decimal.Decimal `json:"SupplierInvoiceItemAmount"`
	PurchaseOrderQuantityUnit   string          `json:"PurchaseOrderQuantityUnit"`
	QuantityInPurchaseOrderUnit decimal.Decimal `json:"QuantityInPurchaseOrderUnit"`
}

type cloudTax struct {
	TaxCode          string          `json:"TaxCode"`
	DocumentCurrency string          `json:"DocumentCurrency"`
	TaxAmount        decimal.Decimal `json:"TaxAmount"`
}

type cloudInvoice struct {
	CompanyCode                   string           `json:"CompanyCode"`
	DocumentDate                  string           `json:"DocumentDate"`
	PostingDate                   string           `json:"PostingDate"`
	SupplierInvoiceIDByInvcgParty string           `json:"SupplierInvoiceIDByInvcgParty"`
	InvoicingParty                string           `json:"InvoicingParty"`
	DocumentCurrency              string           `json:"DocumentCurrency"`
	InvoiceGrossAmount            decimal.Decimal  `json:"InvoiceGrossAmount"`
	SupplierInvoiceIsCreditMemo   bool             `json:"SupplierInvoiceIsCreditMemo"`
	TaxIsCalculatedAutomatically  bool             `json:"TaxIsCalculatedAutomatically"`
	ItemRefs                      []cloudPOItemRef `json:"_SupplierInvoiceItemPurOrdRef"`
	Taxes                         []cloudTax       `json:"_SupplierInvoiceTax,omitempty"`
}

func (cloudScheme) encodePosting(doc *core.PostingDocument) (any, error) {
	if _, err := parseISODate("document date", doc.DocumentDate); err != nil {
		return nil, err
	}
	if _, err := parseISODate("posting date", doc.PostingDate); err != nil {
		return nil, err
	}
	body := cloudInvoice{
		CompanyCode:                   doc.CompanyCode,
		DocumentDate:                  doc.DocumentDate,
		PostingDate:                   doc.PostingDate,
		SupplierInvoiceIDByInvcgParty: doc.Reference,
		InvoicingParty:                doc.SupplierNumber,
		DocumentCurrency:              doc.Currency,
		InvoiceGrossAmount:            doc.GrossAmount,
		SupplierInvoiceIsCreditMemo:   doc.IsCreditMemo,
		TaxIsCalculatedAutomatically:  doc.TaxAmount.IsZero(),
	}
	for _, l := range doc.Lines {
		body.ItemRefs = append(body.ItemRefs, cloudPOItemRef{
			SupplierInvoiceItem:         fmt.Sprintf("%06d", l.ItemNumber),
			PurchaseOrder:               l.PONumber,
			PurchaseOrderItem:           l.POItem,
			TaxCode:                     l.TaxCode,
			DocumentCurrency:            doc.Currency,
			SupplierInvoiceItemAmount:   l.Amount,
			PurchaseOrderQuantityUnit:   l.Unit,
			QuantityInPurchaseOrderUnit: l.Quantity,
		})
	}
	if !doc.TaxAmount.IsZero() {
		body.Taxes = []cloudTax{{TaxCode: headerTaxCode(doc), DocumentCurrency: doc.Currency, TaxAmount: doc.TaxAmount}}
	}
	return body, nil
}

func (cloudScheme) decodePosting(body []byte) (postingResult, error) {
	var res postingResult
	if err := json.Unmarshal(body, &res); err != nil {
		return postingResult{}, fmt.Errorf("decode posting response: %w", err)
	}
	return res, nil
}

func (cloudScheme) decodeError(body []byte) string {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Message == "" {
		return strings.TrimSpace(string(body))
	}
	return strings.TrimSpace(env.Error.Code + " " + env.Error.Message)
}

// headerTaxCode is the tax code of the first line that carries one.
func headerTaxCode(doc *core.PostingDocument) string {
	for _, l := range doc.Lines {
		if l.TaxCode != "" {
			return l.TaxCode
		}
	}
	return ""
}
