// Package erp is the ERP adapter: purchase orders with goods receipts, supplier
// master data and supplier-invoice posting over the ERP's OData APIs.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"invoice-agent/internal/config"
	"invoice-agent/internal/core"
	"invoice-agent/internal/logging"
)

// maxPOPages bounds paging through one purchase order's items or history.
const maxPOPages = 50

// Client talks to one ERP instance. It implements core.PurchaseOrderSource,
// core.SupplierSource and core.PostingGateway.
type Client struct {
	scheme    scheme
	baseURL   string
	user      string
	password  string
	apiKey    string
	apiKeyHdr string
	pageSize  int
	fetchGR   bool
	http      *http.Client
	ticker    *time.Ticker
	log       *logrus.Entry
}

var (
	_ core.PurchaseOrderSource = (*Client)(nil)
	_ core.SupplierSource      = (*Client)(nil)
	_ core.PostingGateway      = (*Client)(nil)
)

// New builds a client for the configured variant.
func New(cfg config.ERPConfig, log *logrus.Entry) (*Client, error) {
	sch, err := newScheme(cfg.Variant)
	if err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ERP base URL is empty")
	}
	if log == nil {
		log = logging.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	// The on-premise CSRF token is bound to the session cookie.
	jar, _ := cookiejar.New(nil)

	return &Client{
		scheme:    sch,
		baseURL:   baseURL,
		user:      cfg.User,
		password:  cfg.Password,
		apiKey:    cfg.APIKey,
		apiKeyHdr: cfg.APIKeyHeader,
		pageSize:  pageSize,
		fetchGR:   cfg.FetchGoodsReceipts,
		http:      &http.Client{Timeout: timeout, Jar: jar},
		ticker:    time.NewTicker(time.Second / time.Duration(rps)),
		log:       log.WithField("erp_variant", sch.name()),
	}, nil
}

// Close stops the rate limiter.
func (c *Client) Close() {
	c.ticker.Stop()
}

func (c *Client) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ticker.C:
		return nil
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	if c.apiKey != "" {
		hdr := c.apiKeyHdr
		if hdr == "" {
			hdr = "APIKey"
		}
		req.Header.Set(hdr, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

// statusError is a non-2xx ERP answer.
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("erp api error %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, nil, err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read erp response: %w", err)
	}
	return resp, body, nil
}

// getPage fetches one $top/$skip page of path.
func (c *Client) getPage(ctx context.Context, path string, params url.Values, skip int) ([]json.RawMessage, bool, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("$top", strconv.Itoa(c.pageSize))
	q.Set("$skip", strconv.Itoa(skip))
	q.Set("$format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	resp, body, err := c.do(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, &statusError{Status: resp.StatusCode, Message: c.scheme.decodeError(body)}
	}
	items, next, err := c.scheme.decodeList(body)
	if err != nil {
		return nil, false, err
	}
	return items, next != "" || len(items) == c.pageSize, nil
}

// getAll pages through path until the ERP reports no more rows.
func (c *Client) getAll(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	skip := 0
	for page := 0; page < maxPOPages; page++ {
		items, more, err := c.getPage(ctx, path, params, skip)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if !more || len(items) == 0 {
			return all, nil
		}
		skip += len(items)
	}
	c.log.WithField("path", path).Warn("page limit reached, result truncated")
	return all, nil
}

// FetchPOLines returns the items of poNumber with received quantities merged
// from the goods-receipt history.
func (c *Client) FetchPOLines(ctx context.Context, poNumber string) ([]core.POLine, error) {
	poNumber = strings.TrimSpace(poNumber)
	if poNumber == "" {
		return nil, core.NewInputError("po_number", "required")
	}

	filter := url.Values{"$filter": {"PurchaseOrder eq " + quote(poNumber)}}
	rawItems, err := c.getAll(ctx, c.scheme.poItemsPath(), filter)
	if err != nil {
		return nil, fmt.Errorf("fetch PO %s items: %w", poNumber, err)
	}

	received := map[string]decimal.Decimal{}
	if c.fetchGR && len(rawItems) > 0 {
		histFilter := url.Values{"$filter": {"PurchaseOrder eq " + quote(poNumber) + " and PurchasingHistoryCategory eq 'E'"}}
		rawHist, err := c.getAll(ctx, c.scheme.poHistoryPath(), histFilter)
		if err != nil {
			return nil, fmt.Errorf("fetch PO %s goods receipts: %w", poNumber, err)
		}
		for _, raw := range rawHist {
			var h rawPOHistory
			if err := json.Unmarshal(raw, &h); err != nil {
				return nil, fmt.Errorf("decode PO history: %w", err)
			}
			if h.PurchasingHistoryCategory != "" && h.PurchasingHistoryCategory != "E" {
				continue
			}
			received[h.PurchaseOrderItem] = received[h.PurchaseOrderItem].Add(h.signedQuantity())
		}
	}

	now := time.Now().UTC()
	lines := make([]core.POLine, 0, len(rawItems))
	for _, raw := range rawItems {
		var it rawPOItem
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, fmt.Errorf("decode PO item: %w", err)
		}
		lines = append(lines, mapPOItem(it, received[it.PurchaseOrderItem], now))
	}

	c.log.WithFields(logrus.Fields{"po_number": poNumber, "items": len(lines), "gr_items": len(received)}).Info("fetched purchase order")
	return lines, nil
}

func mapPOItem(it rawPOItem, received decimal.Decimal, fetchedAt time.Time) core.POLine {
	if received.IsNegative() {
		received = decimal.Zero
	}
	open := it.OrderQuantity.Sub(received)
	if open.IsNegative() {
		open = decimal.Zero
	}
	price := it.NetPriceAmount
	if it.NetPriceQuantity.IsPositive() {
		price = it.NetPriceAmount.Div(it.NetPriceQuantity)
	}
	return core.POLine{
		PONumber:             it.PurchaseOrder,
		POItem:               it.PurchaseOrderItem,
		MaterialNumber:       strings.TrimSpace(it.Material),
		Description:          strings.TrimSpace(it.PurchaseOrderItemText),
		OrderedQuantity:      it.OrderQuantity,
		OpenQuantity:         open,
		ReceivedQuantity:     received,
		Unit:                 it.PurchaseOrderQuantityUnit,
		UnitPrice:            price,
		Currency:             it.DocumentCurrency,
		TaxCode:              it.TaxCode,
		GoodsReceiptExpected: it.GoodsReceiptIsExpected,
		InvoiceExpected:      it.InvoiceIsExpected,
		IsGoodsReceiptBased:  it.InvoiceIsGoodsReceiptBased,
		FetchedAt:            fetchedAt,
	}
}

// ListSuppliers returns one page of supplier master records, optionally only
// those changed since changedSince.
func (c *Client) ListSuppliers(ctx context.Context, changedSince *time.Time, skip int) (*core.SupplierPage, error) {
	params := url.Values{"$orderby": {"Supplier"}}
	if changedSince != nil {
		params.Set("$filter", c.scheme.changedSinceFilter(*changedSince))
	}
	items, more, err := c.getPage(ctx, c.scheme.suppliersPath(), params, skip)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}

	page := &core.SupplierPage{NextSkip: skip + len(items), HasMore: more && len(items) > 0}
	for _, raw := range items {
		var s rawSupplier
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode supplier: %w", err)
		}
		page.Records = append(page.Records, mapSupplier(s))
	}
	return page, nil
}

func mapSupplier(s rawSupplier) core.SupplierRecord {
	name := strings.TrimSpace(s.SupplierName)
	var alternates []string
	for _, alt := range []string{s.SupplierFullName, s.SearchTerm} {
		alt = strings.TrimSpace(alt)
		if alt != "" && !strings.EqualFold(alt, name) {
			alternates = append(alternates, alt)
		}
	}
	return core.SupplierRecord{
		SupplierNumber:  core.NormalizeSupplierNumber(s.Supplier),
		Name:            name,
		AlternateNames:  alternates,
		Street:          strings.TrimSpace(s.StreetName),
		City:            strings.TrimSpace(s.CityName),
		State:           strings.TrimSpace(s.Region),
		PostalCode:      strings.TrimSpace(s.PostalCode),
		Country:         strings.TrimSpace(s.Country),
		IsActive:        !s.DeletionIndicator && !s.PostingIsBlocked,
		SourceChangedAt: s.changedAt(),
	}
}

func (c *Client) fetchCSRFToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.scheme.csrfPath(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-CSRF-Token", "Fetch")
	resp, body, err := c.do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	token := resp.Header.Get("X-CSRF-Token")
	if resp.StatusCode >= 300 || token == "" {
		return "", &statusError{Status: resp.StatusCode, Message: "csrf token not issued: " + c.scheme.decodeError(body)}
	}
	return token, nil
}

// PostInvoice creates a supplier invoice. A business rejection (4xx) is an
// unsuccessful response; transport failures and 5xx answers are errors.
func (c *Client) PostInvoice(ctx context.Context, doc *core.PostingDocument) (*core.PostingResponse, error) {
	encoded, err := c.scheme.encodePosting(doc)
	if err != nil {
		return nil, fmt.Errorf("encode posting: %w", err)
	}
	payload, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("encode posting: %w", err)
	}

	var token string
	if c.scheme.csrfPath() != "" {
		if token, err = c.fetchCSRFToken(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.scheme.invoicePath(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-CSRF-Token", token)
	}

	resp, body, err := c.do(ctx, req)
	if err != nil {
		logging.LogError(c.log, "PostInvoice", "post supplier invoice", map[string]any{"invoice_id": doc.InvoiceID}, err)
		return nil, fmt.Errorf("post supplier invoice: %w", err)
	}
	out := &core.PostingResponse{}
	if json.Valid(body) {
		out.Raw = body
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &statusError{Status: resp.StatusCode, Message: c.scheme.decodeError(body)}
	case resp.StatusCode >= 300:
		out.Message = c.scheme.decodeError(body)
		c.log.WithFields(logrus.Fields{"invoice_id": doc.InvoiceID, "status": resp.StatusCode, "message": out.Message}).Warn("ERP rejected supplier invoice")
		return out, nil
	}

	res, err := c.scheme.decodePosting(body)
	if err != nil {
		return nil, err
	}
	if res.SupplierInvoice == "" {
		out.Message = "ERP response has no document number"
		return out, nil
	}
	out.Success = true
	out.DocumentNumber = res.SupplierInvoice
	out.FiscalYear = res.FiscalYear
	out.Message = fmt.Sprintf("supplier invoice %s/%s created", res.SupplierInvoice, res.FiscalYear)
	c.log.WithFields(logrus.Fields{"invoice_id": doc.InvoiceID, "document_number": res.SupplierInvoice}).Info("supplier invoice posted")
	return out, nil
}
