package erp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// rawPOItem is one purchase-order item as both ERP variants return it.
type rawPOItem struct {
	PurchaseOrder              string          `json:"PurchaseOrder"`
	PurchaseOrderItem          string          `json:"PurchaseOrderItem"`
	Material                   string          `json:"Material"`
	PurchaseOrderItemText      string          `json:"PurchaseOrderItemText"`
	OrderQuantity              decimal.Decimal `json:"OrderQuantity"`
	PurchaseOrderQuantityUnit  string          `json:"PurchaseOrderQuantityUnit"`
	NetPriceAmount             decimal.Decimal `json:"NetPriceAmount"`
	NetPriceQuantity           decimal.Decimal `json:"NetPriceQuantity"`
	DocumentCurrency           string          `json:"DocumentCurrency"`
	TaxCode                    string          `json:"TaxCode"`
	GoodsReceiptIsExpected     bool            `json:"GoodsReceiptIsExpected"`
	InvoiceIsExpected          bool            `json:"InvoiceIsExpected"`
	InvoiceIsGoodsReceiptBased bool            `json:"InvoiceIsGoodsReceiptBased"`
}

// rawPOHistory is one purchase-order history record. Category "E" is a goods
// receipt; debit/credit "H" marks a reversal.
type rawPOHistory struct {
	PurchaseOrder             string          `json:"PurchaseOrder"`
	PurchaseOrderItem         string          `json:"PurchaseOrderItem"`
	PurchasingHistoryCategory string          `json:"PurchasingHistoryCategory"`
	DebitCreditCode           string          `json:"DebitCreditCode"`
	Quantity                  decimal.Decimal `json:"Quantity"`
}

func (h rawPOHistory) signedQuantity() decimal.Decimal {
	if strings.EqualFold(h.DebitCreditCode, "H") {
		return h.Quantity.Neg()
	}
	return h.Quantity
}

// rawSupplier is one supplier master record. The on-premise scheme sends
// LastChangeDate, the cloud scheme LastChangeDateTime.
type rawSupplier struct {
	Supplier           string     `json:"Supplier"`
	SupplierName       string     `json:"SupplierName"`
	SupplierFullName   string     `json:"SupplierFullName"`
	SearchTerm         string     `json:"SearchTerm1"`
	StreetName         string     `json:"StreetName"`
	CityName           string     `json:"CityName"`
	Region             string     `json:"Region"`
	PostalCode         string     `json:"PostalCode"`
	Country            string     `json:"Country"`
	DeletionIndicator  bool       `json:"DeletionIndicator"`
	PostingIsBlocked   bool       `json:"PostingIsBlocked"`
	LastChangeDate     odataTime  `json:"LastChangeDate"`
	LastChangeDateTime *time.Time `json:"LastChangeDateTime"`
}

func (s rawSupplier) changedAt() *time.Time {
	if s.LastChangeDateTime != nil {
		t := s.LastChangeDateTime.UTC()
		return &t
	}
	if !s.LastChangeDate.IsZero() {
		t := s.LastChangeDate.UTC()
		return &t
	}
	return nil
}

// odataTime decodes the OData v2 "/Date(ms)/" form and falls back to RFC 3339.
type odataTime struct {
	time.Time
}

func (t *odataTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil || s == "" {
		return nil
	}
	if strings.HasPrefix(s, "/Date(") && strings.HasSuffix(s, ")/") {
		body := strings.TrimSuffix(strings.TrimPrefix(s, "/Date("), ")/")
		// Offsets like "+0000" are informational; the millis are UTC.
		if len(body) > 1 {
			if i := strings.IndexAny(body[1:], "+-"); i >= 0 {
				body = body[:i+1]
			}
		}
		ms, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid OData date %q: %w", s, err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// odataDate renders t in the OData v2 "/Date(ms)/" form.
func odataDate(t time.Time) string {
	return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
}

// postingResult is the identifying part of a created supplier invoice.
type postingResult struct {
	SupplierInvoice string `json:"SupplierInvoice"`
	FiscalYear      string `json:"FiscalYear"`
}
