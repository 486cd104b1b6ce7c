// Package extraction turns document-extraction results into invoices.
package extraction

// Record is one finished extraction job as delivered by the document
// extraction service.
type Record struct {
	ID         string `json:"id" jsonschema:"minLength=1,description=Extraction job id"`
	FileName   string `json:"fileName,omitempty"`
	Status     string `json:"status,omitempty" jsonschema:"description=Job status; only DONE records are accepted"`
	Extraction Result `json:"extraction"`
}

// Result holds the header fields and the line items of a document.
type Result struct {
	HeaderFields []Field   `json:"headerFields"`
	LineItems    [][]Field `json:"lineItems,omitempty"`
}

// Field is one extracted name/value pair.
type Field struct {
	Name       string   `json:"name" jsonschema:"minLength=1"`
	Value      any      `json:"value" jsonschema:"oneof_type=string;number;null"`
	Confidence *float64 `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
}

// Header field names.
const (
	FieldDocumentNumber    = "documentNumber"
	FieldDocumentDate      = "documentDate"
	FieldPurchaseOrder     = "purchaseOrderNumber"
	FieldSenderName        = "senderName"
	FieldSenderAddress     = "senderAddress"
	FieldSenderCity        = "senderCity"
	FieldSenderPostalCode  = "senderPostalCode"
	FieldSenderState       = "senderState"
	FieldSenderCountryCode = "senderCountryCode"
	FieldReceiverName      = "receiverName"
	FieldCurrencyCode      = "currencyCode"
	FieldNetAmount         = "netAmount"
	FieldGrossAmount       = "grossAmount"
	FieldTaxAmount         = "taxAmount"
	FieldCompanyCode       = "companyCode"
)

// Line item field names.
const (
	FieldMaterialNumber = "materialNumber"
	FieldDescription    = "description"
	FieldQuantity       = "quantity"
	FieldUnitOfMeasure  = "unitOfMeasure"
	FieldUnitPrice      = "unitPrice"
	FieldTaxCode        = "taxCode"
)
