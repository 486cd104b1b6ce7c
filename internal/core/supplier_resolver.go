package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-agent/internal/logging"
)

const (
	cityBoost   = 0.05
	stateBoost  = 0.03
	postalBoost = 0.02
)

// VendorAddress is the address extracted from the invoice, used for geographic boosting.
type VendorAddress struct {
	City       string
	State      string
	PostalCode string
}

// ApplyGeoBoosts adds the city, state and postal code boosts to a raw name score.
// The result is capped at 1.0.
func ApplyGeoBoosts(raw float64, addr VendorAddress, s SupplierRecord) (float64, BoostFactors) {
	var b BoostFactors
	if sameText(addr.City, s.City) {
		b.City = true
		b.Total += cityBoost
	}
	if sameText(addr.State, s.State) {
		b.State = true
		b.Total += stateBoost
	}
	if p := postalPrefix(addr.PostalCode); p != "" && p == postalPrefix(s.PostalCode) {
		b.PostalCode = true
		b.Total += postalBoost
	}
	score := raw + b.Total
	if score > 1.0 {
		score = 1.0
	}
	return score, b
}

func sameText(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// postalPrefix keeps the first five digits of a postal code.
func postalPrefix(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
			if b.Len() == 5 {
				break
			}
		}
	}
	return b.String()
}

// ClassifySupplierScore maps a boosted score to its confidence band.
// Lower bounds are inclusive.
func ClassifySupplierScore(score float64) (Confidence, SupplierMatchStatus) {
	switch {
	case score >= 0.95:
		return ConfidenceHigh, SupplierMatched
	case score >= 0.85:
		return ConfidenceMedium, SupplierMatched
	case score >= 0.70:
		return ConfidenceLow, SupplierManualReview
	default:
		return ConfidenceVeryLow, SupplierNoMatch
	}
}

// RankSuppliers takes the top k suppliers by raw name similarity, applies geographic
// boosts and re-ranks by boosted score. Ties keep the similarity order.
func RankSuppliers(query []float32, suppliers []SupplierRecord, addr VendorAddress, k int) []SupplierCandidate {
	embeddings := make([][]float32, len(suppliers))
	for i := range suppliers {
		embeddings[i] = suppliers[i].Embedding
	}
	top := RankByEmbedding(query, embeddings, k)

	candidates := make([]SupplierCandidate, 0, len(top))
	for _, sc := range top {
		s := suppliers[sc.Index]
		score, boosts := ApplyGeoBoosts(sc.Score, addr, s)
		candidates = append(candidates, SupplierCandidate{
			SupplierNumber: s.SupplierNumber,
			SupplierName:   s.Name,
			City:           s.City,
			PostalCode:     s.PostalCode,
			RawScore:       sc.Score,
			Score:          score,
			Boosts:         boosts,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// NormalizeSupplierNumber trims the number and left-pads all-digit numbers to 10 digits.
func NormalizeSupplierNumber(number string) string {
	number = strings.TrimSpace(number)
	if number == "" || len(number) >= 10 {
		return number
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return number
		}
	}
	return strings.Repeat("0", 10-len(number)) + number
}

type supplierService struct {
	store    Store
	embedder Embedder
	source   SupplierSource
	cfg      MatchingConfig
	log      *logrus.Entry
}

// NewSupplierService constructs a SupplierService. source may be nil when supplier
// master sync is not configured.
func NewSupplierService(store Store, embedder Embedder, source SupplierSource, cfg MatchingConfig, log *logrus.Entry) SupplierService {
	return &supplierService{
		store:    store,
		embedder: embedder,
		source:   source,
		cfg:      cfg.withDefaults(),
		log:      entryOrDiscard(log),
	}
}

// ResolveSupplier scores the invoice's vendor name against active suppliers and
// records the best candidate on the invoice.
func (s *supplierService) ResolveSupplier(ctx context.Context, invoiceID uuid.UUID) (*SupplierMatchResult, error) {
	var inv *Invoice
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		inv, err = tx.GetInvoice(ctx, invoiceID, false)
		if err != nil {
			return err
		}
		return checkInvoiceTransition(inv, StepSupplierMatched)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve supplier for invoice %s: %w", invoiceID, err)
	}

	result := &SupplierMatchResult{
		InvoiceID:    invoiceID,
		Confidence:   ConfidenceNone,
		Status:       SupplierNoMatch,
		Alternatives: []SupplierCandidate{},
	}
	queryName := strings.TrimSpace(inv.VendorName)
	if queryName == "" {
		queryName = strings.TrimSpace(inv.BuyerName)
	}
	result.QueryName = queryName

	var query []float32
	if queryName != "" {
		query, err = s.embedder.Embed(ctx, queryName)
		if err != nil {
			err = External("similarity oracle", err)
			_ = markError(ctx, s.store, s.log, invoiceID, StepSupplierMatched, err, false)
			return nil, fmt.Errorf("resolve supplier for invoice %s: %w", invoiceID, err)
		}
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID, true)
		if err != nil {
			return err
		}
		if err := checkInvoiceTransition(inv, StepSupplierMatched); err != nil {
			return err
		}

		var candidates []SupplierCandidate
		if queryName != "" {
			suppliers, err := tx.ListActiveSuppliers(ctx)
			if err != nil {
				return fmt.Errorf("list suppliers: %w", err)
			}
			addr := VendorAddress{City: inv.VendorCity, State: inv.VendorState, PostalCode: inv.VendorPostalCode}
			candidates = RankSuppliers(query, suppliers, addr, s.cfg.SupplierTopK)
		}

		switch {
		case queryName == "":
			result.Message = "invoice has no vendor or buyer name to match"
		case len(candidates) == 0:
			result.Message = fmt.Sprintf("no supplier candidates found for %q", queryName)
		default:
			top := candidates[0]
			result.Score = top.Score
			result.Confidence, result.Status = ClassifySupplierScore(top.Score)
			rest := candidates[1:]
			if result.Status == SupplierNoMatch {
				// Too weak to propose; the best candidate is only listed.
				rest = candidates
			} else {
				result.SupplierNumber = top.SupplierNumber
				result.SupplierName = top.SupplierName
				result.BoostFactors = top.Boosts
			}
			if len(rest) > s.cfg.MaxAlternatives {
				rest = rest[:s.cfg.MaxAlternatives]
			}
			result.Alternatives = append(result.Alternatives, rest...)
			result.Message = fmt.Sprintf("best candidate %s (%s) scored %.3f: %s", top.SupplierNumber, top.SupplierName, top.Score, result.Status)
		}

		recordSupplierMatch(inv, result)
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		if result.Status == SupplierMatched || result.Status == SupplierManualReview {
			if err := tx.TouchSupplier(ctx, result.SupplierNumber, time.Now().UTC()); err != nil {
				return err
			}
		}
		return tx.AppendLog(ctx, logEntry(inv, result))
	})
	if err != nil {
		return nil, fmt.Errorf("resolve supplier for invoice %s: %w", invoiceID, err)
	}

	s.log.WithFields(logrus.Fields{
		"invoice_id":      invoiceID,
		"supplier_number": result.SupplierNumber,
		"score":           result.Score,
		"confidence":      result.Confidence,
		"status":          result.Status,
	}).Info("supplier resolved")
	return result, nil
}

// recordSupplierMatch writes the resolver outcome onto the invoice.
func recordSupplierMatch(inv *Invoice, r *SupplierMatchResult) {
	inv.MatchedSupplierNumber = r.SupplierNumber
	inv.MatchedSupplierName = r.SupplierName
	inv.SupplierMatchStatus = r.Status
	inv.SupplierMatchConfidence = r.Confidence
	if r.SupplierNumber != "" {
		score := r.Score
		inv.SupplierMatchScore = &score
	} else {
		inv.SupplierMatchScore = nil
	}

	switch r.Status {
	case SupplierMatched:
		applyStep(inv, StepSupplierMatched, StatusInProgress, ResultSuccess, r.Message)
	case SupplierManualReview:
		applyStep(inv, StepSupplierMatched, StatusManualReview, ResultWarning, r.Message)
	default:
		applyStep(inv, StepSupplierMatchFailed, StatusManualReview, ResultFailure, r.Message)
	}
}

// ProcessSupplierSelection applies a reviewer's decision on the supplier.
func (s *supplierService) ProcessSupplierSelection(ctx context.Context, invoiceID uuid.UUID, selection SelectionType, supplierNumber, vendorName string) (*SupplierSelectionResult, error) {
	switch selection {
	case SelectionAccept:
	case SelectionManual:
		if strings.TrimSpace(supplierNumber) == "" {
			return nil, NewInputError("supplier_number", "required for MANUAL selection")
		}
	case SelectionUpdateName:
		if strings.TrimSpace(vendorName) == "" {
			return nil, NewInputError("vendor_name", "required for UPDATE_NAME selection")
		}
		return s.updateNameAndResolve(ctx, invoiceID, strings.TrimSpace(vendorName))
	default:
		return nil, NewInputError("selection_type", fmt.Sprintf("unknown selection type %q", selection))
	}

	result := &SupplierSelectionResult{InvoiceID: invoiceID, SelectionType: selection}
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID, true)
		if err != nil {
			return err
		}
		if err := checkInvoiceTransition(inv, StepSupplierMatched); err != nil {
			return err
		}

		number := NormalizeSupplierNumber(supplierNumber)
		confidence := ConfidenceManual
		if selection == SelectionAccept {
			if number == "" {
				number = inv.MatchedSupplierNumber
				confidence = inv.SupplierMatchConfidence
			}
			if number == "" {
				return NewInputError("supplier_number", "no proposed supplier to accept")
			}
		}
		result.SupplierNumber = number

		supplier, err := tx.GetSupplier(ctx, number)
		switch {
		case errors.Is(err, ErrNotFound):
			result.Message = fmt.Sprintf("supplier %s does not exist", number)
		case err != nil:
			return err
		case !supplier.IsActive:
			result.SupplierName = supplier.Name
			result.Message = fmt.Sprintf("supplier %s is inactive", number)
		default:
			result.Success = true
			result.SupplierName = supplier.Name
		}

		if !result.Success {
			result.Status = SupplierManualReview
			inv.Status = StatusManualReview
			inv.Result = ResultFailure
			inv.Message = result.Message
		} else {
			result.Status = SupplierMatched
			result.Message = fmt.Sprintf("supplier %s (%s) confirmed by %s selection", number, supplier.Name, selection)
			score := 1.0
			if selection == SelectionAccept && inv.SupplierMatchScore != nil && number == inv.MatchedSupplierNumber {
				score = *inv.SupplierMatchScore
			}
			if confidence == "" || confidence == ConfidenceNone || confidence == ConfidenceVeryLow || confidence == ConfidenceLow {
				confidence = ConfidenceManual
			}
			inv.MatchedSupplierNumber = number
			inv.MatchedSupplierName = supplier.Name
			inv.SupplierMatchScore = &score
			inv.SupplierMatchStatus = SupplierMatched
			inv.SupplierMatchConfidence = confidence
			applyStep(inv, StepSupplierMatched, StatusInProgress, ResultSuccess, result.Message)
			if err := tx.TouchSupplier(ctx, number, time.Now().UTC()); err != nil {
				return err
			}
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.AppendLog(ctx, logEntry(inv, result))
	})
	if err != nil {
		return nil, fmt.Errorf("process supplier selection for invoice %s: %w", invoiceID, err)
	}
	return result, nil
}

func (s *supplierService) updateNameAndResolve(ctx context.Context, invoiceID uuid.UUID, name string) (*SupplierSelectionResult, error) {
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID, true)
		if err != nil {
			return err
		}
		if err := checkInvoiceTransition(inv, StepSupplierMatched); err != nil {
			return err
		}
		inv.VendorName = name
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("update vendor name for invoice %s: %w", invoiceID, err)
	}

	match, err := s.ResolveSupplier(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &SupplierSelectionResult{
		InvoiceID:      invoiceID,
		SelectionType:  SelectionUpdateName,
		Success:        match.Status == SupplierMatched,
		SupplierNumber: match.SupplierNumber,
		SupplierName:   match.SupplierName,
		Status:         match.Status,
		Message:        match.Message,
		Rematch:        match,
	}, nil
}

// ValidateSupplierNumber checks existence and the active flag. Lookup failures are
// reported in the verdict.
func (s *supplierService) ValidateSupplierNumber(ctx context.Context, supplierNumber string) SupplierValidation {
	number := NormalizeSupplierNumber(supplierNumber)
	v := SupplierValidation{SupplierNumber: number}
	if number == "" {
		v.Message = "supplier number is required"
		return v
	}

	var supplier *SupplierRecord
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		supplier, err = tx.GetSupplier(ctx, number)
		return err
	})
	switch {
	case errors.Is(err, ErrNotFound):
		v.Message = fmt.Sprintf("supplier %s does not exist", number)
	case err != nil:
		logging.LogError(s.log, "ValidateSupplierNumber", "lookup supplier", number, err)
		v.Message = fmt.Sprintf("supplier %s could not be checked: %v", number, err)
	case !supplier.IsActive:
		v.Exists = true
		v.SupplierName = supplier.Name
		v.Message = fmt.Sprintf("supplier %s is inactive", number)
	default:
		v.Exists = true
		v.Active = true
		v.Valid = true
		v.SupplierName = supplier.Name
		v.Message = fmt.Sprintf("supplier %s is valid", number)
	}
	return v
}
