package core_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"invoice-agent/internal/core"
)

// memStore is an in-memory core.Store. InTx restores the previous state when fn fails.
type memStore struct {
	mu        sync.Mutex
	invoices  map[uuid.UUID]core.Invoice
	lines     map[uuid.UUID]core.InvoiceLine
	poLines   map[uuid.UUID]core.POLine
	suppliers map[string]core.SupplierRecord
	logs      []core.ProcessLogEntry
}

func newMemStore() *memStore {
	return &memStore{
		invoices:  map[uuid.UUID]core.Invoice{},
		lines:     map[uuid.UUID]core.InvoiceLine{},
		poLines:   map[uuid.UUID]core.POLine{},
		suppliers: map[string]core.SupplierRecord{},
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx core.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapInv := cloneMap(m.invoices)
	snapLines := cloneMap(m.lines)
	snapPO := cloneMap(m.poLines)
	snapSup := cloneMap(m.suppliers)
	snapLogs := len(m.logs)

	if err := fn(memTx{m}); err != nil {
		m.invoices, m.lines, m.poLines, m.suppliers = snapInv, snapLines, snapPO, snapSup
		m.logs = m.logs[:snapLogs]
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// logsFor returns the audit entries of one invoice in write order.
func (m *memStore) logsFor(id uuid.UUID) []core.ProcessLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.ProcessLogEntry
	for _, e := range m.logs {
		if e.InvoiceID == id {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) invoice(id uuid.UUID) core.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[id]
}

func (m *memStore) linesOf(id uuid.UUID) []core.InvoiceLine {
	var out []core.InvoiceLine
	_ = m.InTx(context.Background(), func(tx core.Tx) error {
		var err error
		out, err = tx.ListInvoiceLines(context.Background(), id)
		return err
	})
	return out
}

func (m *memStore) putSupplier(s core.SupplierRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppliers[s.SupplierNumber] = s
}

func (m *memStore) putPOLine(l core.POLine) core.POLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	m.poLines[l.ID] = l
	return l
}

type memTx struct{ m *memStore }

func (t memTx) GetInvoice(ctx context.Context, id uuid.UUID, forUpdate bool) (*core.Invoice, error) {
	inv, ok := t.m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, core.ErrNotFound)
	}
	return &inv, nil
}

func (t memTx) InsertInvoice(ctx context.Context, inv *core.Invoice) error {
	if _, ok := t.m.invoices[inv.ID]; ok {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}
	t.m.invoices[inv.ID] = *inv
	return nil
}

func (t memTx) UpdateInvoice(ctx context.Context, inv *core.Invoice) error {
	if _, ok := t.m.invoices[inv.ID]; !ok {
		return fmt.Errorf("invoice %s: %w", inv.ID, core.ErrNotFound)
	}
	inv.UpdatedAt = time.Now().UTC()
	t.m.invoices[inv.ID] = *inv
	return nil
}

func (t memTx) ListInvoiceLines(ctx context.Context, invoiceID uuid.UUID) ([]core.InvoiceLine, error) {
	var out []core.InvoiceLine
	for _, l := range t.m.lines {
		if l.InvoiceID == invoiceID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	return out, nil
}

func (t memTx) InsertInvoiceLines(ctx context.Context, lines []core.InvoiceLine) error {
	for _, l := range lines {
		t.m.lines[l.ID] = l
	}
	return nil
}

func (t memTx) UpdateInvoiceLine(ctx context.Context, line *core.InvoiceLine) error {
	if _, ok := t.m.lines[line.ID]; !ok {
		return fmt.Errorf("invoice line %s: %w", line.ID, core.ErrNotFound)
	}
	t.m.lines[line.ID] = *line
	return nil
}

func (t memTx) DeleteInvoiceLines(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		delete(t.m.lines, id)
	}
	return nil
}

func (t memTx) ListPOLines(ctx context.Context, invoiceID uuid.UUID, poNumber string) ([]core.POLine, error) {
	var out []core.POLine
	for _, l := range t.m.poLines {
		if l.InvoiceID == invoiceID && l.PONumber == poNumber {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].POItem < out[j].POItem })
	return out, nil
}

func (t memTx) GetPOLine(ctx context.Context, id uuid.UUID) (*core.POLine, error) {
	l, ok := t.m.poLines[id]
	if !ok {
		return nil, fmt.Errorf("PO line %s: %w", id, core.ErrNotFound)
	}
	return &l, nil
}

func (t memTx) UpsertPOLine(ctx context.Context, line *core.POLine) error {
	for id, l := range t.m.poLines {
		if l.InvoiceID == line.InvoiceID && l.PONumber == line.PONumber && l.POItem == line.POItem {
			line.ID = id
			t.m.poLines[id] = *line
			return nil
		}
	}
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	t.m.poLines[line.ID] = *line
	return nil
}

func (t memTx) ListActiveSuppliers(ctx context.Context) ([]core.SupplierRecord, error) {
	var out []core.SupplierRecord
	for _, s := range t.m.suppliers {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SupplierNumber < out[j].SupplierNumber })
	return out, nil
}

func (t memTx) GetSupplier(ctx context.Context, number string) (*core.SupplierRecord, error) {
	s, ok := t.m.suppliers[number]
	if !ok {
		return nil, fmt.Errorf("supplier %s: %w", number, core.ErrNotFound)
	}
	return &s, nil
}

func (t memTx) UpsertSupplier(ctx context.Context, s *core.SupplierRecord) error {
	if s.SupplierNumber == "fail" {
		return errors.New("forced upsert failure")
	}
	next := *s
	if prev, ok := t.m.suppliers[s.SupplierNumber]; ok {
		next.LastUsedAt = prev.LastUsedAt
		next.LastRefreshedAt = prev.LastRefreshedAt
		if prev.Name == s.Name && slices.Equal(prev.AlternateNames, s.AlternateNames) {
			next.Embedding = prev.Embedding
			next.EmbeddingUpdatedAt = prev.EmbeddingUpdatedAt
		} else {
			next.Embedding = nil
			next.EmbeddingUpdatedAt = nil
		}
	}
	t.m.suppliers[s.SupplierNumber] = next
	return nil
}

func (t memTx) ListSuppliersNeedingEmbedding(ctx context.Context, staleBefore, retryBefore time.Time, limit int) ([]core.SupplierRecord, error) {
	var out []core.SupplierRecord
	for _, s := range t.m.suppliers {
		if !s.IsActive {
			continue
		}
		stale := len(s.Embedding) == 0 || s.EmbeddingUpdatedAt == nil || s.EmbeddingUpdatedAt.Before(staleBefore)
		eligible := s.LastRefreshedAt == nil || s.LastRefreshedAt.Before(retryBefore)
		if stale && eligible {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SupplierNumber < out[j].SupplierNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t memTx) UpdateSupplierEmbedding(ctx context.Context, number string, embedding []float32, refreshedAt time.Time) error {
	s, ok := t.m.suppliers[number]
	if !ok {
		return fmt.Errorf("supplier %s: %w", number, core.ErrNotFound)
	}
	if embedding != nil {
		s.Embedding = embedding
		s.EmbeddingUpdatedAt = &refreshedAt
	}
	s.LastRefreshedAt = &refreshedAt
	t.m.suppliers[number] = s
	return nil
}

func (t memTx) TouchSupplier(ctx context.Context, number string, usedAt time.Time) error {
	s, ok := t.m.suppliers[number]
	if !ok {
		return fmt.Errorf("supplier %s: %w", number, core.ErrNotFound)
	}
	s.LastUsedAt = &usedAt
	t.m.suppliers[number] = s
	return nil
}

func (t memTx) AppendLog(ctx context.Context, entry core.ProcessLogEntry) error {
	t.m.logs = append(t.m.logs, entry)
	return nil
}

// fakeEmbedder returns registered vectors and fails for unknown text.
type fakeEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	err   error
	calls int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vecs: map[string][]float32{}}
}

func (f *fakeEmbedder) set(text string, v []float32) { f.vecs[text] = v }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no vector registered for %q", text)
	}
	return v, nil
}

// query is the unit query vector; withScore(s) has cosine similarity s against it.
var query = []float32{1, 0}

func withScore(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s))}
}

type fakePOSource struct {
	lines []core.POLine
	err   error
	calls int
}

func (f *fakePOSource) FetchPOLines(ctx context.Context, poNumber string) ([]core.POLine, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.lines), nil
}

type fakeSupplierSource struct {
	pages [][]core.SupplierRecord
	err   error
	since []*time.Time
}

func (f *fakeSupplierSource) ListSuppliers(ctx context.Context, since *time.Time, skip int) (*core.SupplierPage, error) {
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, f.err
	}
	page := skip
	if page >= len(f.pages) {
		return &core.SupplierPage{}, nil
	}
	return &core.SupplierPage{
		Records:  slices.Clone(f.pages[page]),
		NextSkip: page + 1,
		HasMore:  page+1 < len(f.pages),
	}, nil
}

type fakeGateway struct {
	resp *core.PostingResponse
	err  error
	docs []*core.PostingDocument
}

func (f *fakeGateway) PostInvoice(ctx context.Context, doc *core.PostingDocument) (*core.PostingResponse, error) {
	f.docs = append(f.docs, doc)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
