package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// ValidationStatus is the aggregate verdict of ValidateInvoice.
type ValidationStatus string

const (
	ValidationValid        ValidationStatus = "VALID"
	ValidationWithWarnings ValidationStatus = "VALID_WITH_WARNINGS"
	ValidationInvalid      ValidationStatus = "INVALID"
)

// Validation issue codes.
const (
	CodeSupplierNotMatched    = "SUPPLIER_NOT_MATCHED"
	CodeSupplierLowConfidence = "SUPPLIER_LOW_CONFIDENCE"
	CodeNetAmountMissing      = "NET_AMOUNT_MISSING"
	CodeNetAmountNotPositive  = "NET_AMOUNT_NOT_POSITIVE"
	CodeGrossAmountMissing    = "GROSS_AMOUNT_MISSING"
	CodeGrossNotPositive      = "GROSS_AMOUNT_NOT_POSITIVE"
	CodeCurrencyMissing       = "CURRENCY_MISSING"
	CodeDocumentDateMissing   = "DOCUMENT_DATE_MISSING"
	CodeCompanyCodeMissing    = "COMPANY_CODE_MISSING"
	CodePONoLinesMatched      = "PO_NO_LINES_MATCHED"
	CodePOPartialMatch        = "PO_PARTIAL_MATCH"
	CodeGRCheckFailed         = "GR_CHECK_FAILED"
	CodeThreeWayMatchFailed   = "THREE_WAY_MATCH_FAILED"
)

// lowSupplierScore is the score below which a matched supplier draws a warning.
const lowSupplierScore = 0.7

// ValidationIssue is one finding of a validation check.
type ValidationIssue struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
}

// ValidationResult aggregates the supplier, amount, PO and three-way-match checks.
type ValidationResult struct {
	InvoiceID     uuid.UUID         `json:"invoice_id"`
	IsValid       bool              `json:"is_valid"`
	Status        ValidationStatus  `json:"status"`
	Supplier      []ValidationIssue `json:"supplier"`
	Amount        []ValidationIssue `json:"amount"`
	PO            []ValidationIssue `json:"po"`
	ThreeWayMatch []ValidationIssue `json:"three_way_match"`
	ErrorCount    int               `json:"error_count"`
	WarningCount  int               `json:"warning_count"`
}

// Codes lists every issue code in check order.
func (r *ValidationResult) Codes() []string {
	var codes []string
	for _, group := range [][]ValidationIssue{r.Supplier, r.Amount, r.PO, r.ThreeWayMatch} {
		for _, issue := range group {
			codes = append(codes, issue.Code)
		}
	}
	return codes
}

// HasCode reports whether any check produced code.
func (r *ValidationResult) HasCode(code string) bool {
	for _, c := range r.Codes() {
		if c == code {
			return true
		}
	}
	return false
}

func issue(severity Severity, field, code, message string) ValidationIssue {
	return ValidationIssue{Field: field, Message: message, Severity: severity, Code: code}
}

// EvaluateInvoice runs the four checks against an invoice and its lines.
// It has no side effects.
func EvaluateInvoice(inv *Invoice, lines []InvoiceLine) ValidationResult {
	r := ValidationResult{
		InvoiceID:     inv.ID,
		Supplier:      checkSupplier(inv),
		Amount:        checkAmounts(inv),
		PO:            checkPO(inv, lines),
		ThreeWayMatch: checkThreeWayMatch(inv),
	}
	for _, group := range [][]ValidationIssue{r.Supplier, r.Amount, r.PO, r.ThreeWayMatch} {
		for _, is := range group {
			if is.Severity == SeverityError {
				r.ErrorCount++
			} else {
				r.WarningCount++
			}
		}
	}

	r.IsValid = r.ErrorCount == 0
	switch {
	case r.ErrorCount > 0:
		r.Status = ValidationInvalid
	case r.WarningCount > 0:
		r.Status = ValidationWithWarnings
	default:
		r.Status = ValidationValid
	}
	return r
}

func checkSupplier(inv *Invoice) []ValidationIssue {
	issues := []ValidationIssue{}
	if inv.MatchedSupplierNumber == "" || inv.SupplierMatchStatus == SupplierNoMatch {
		return append(issues, issue(SeverityError, "supplier", CodeSupplierNotMatched, "no supplier is matched to the invoice"))
	}
	switch {
	case inv.SupplierMatchScore != nil && *inv.SupplierMatchScore < lowSupplierScore:
		issues = append(issues, issue(SeverityWarning, "supplier_match_score", CodeSupplierLowConfidence,
			fmt.Sprintf("supplier match score %.3f is below %.2f", *inv.SupplierMatchScore, lowSupplierScore)))
	case inv.SupplierMatchStatus == SupplierManualReview:
		issues = append(issues, issue(SeverityWarning, "supplier", CodeSupplierLowConfidence,
			fmt.Sprintf("supplier %s was proposed with %s confidence and is not confirmed", inv.MatchedSupplierNumber, inv.SupplierMatchConfidence)))
	}
	return issues
}

func checkAmounts(inv *Invoice) []ValidationIssue {
	issues := []ValidationIssue{}
	switch {
	case inv.NetAmount == nil:
		issues = append(issues, issue(SeverityError, "net_amount", CodeNetAmountMissing, "net amount is missing"))
	case !inv.NetAmount.IsPositive():
		issues = append(issues, issue(SeverityError, "net_amount", CodeNetAmountNotPositive,
			fmt.Sprintf("net amount must be positive, got %s", inv.NetAmount)))
	}
	switch {
	case inv.GrossAmount == nil:
		issues = append(issues, issue(SeverityError, "gross_amount", CodeGrossAmountMissing, "gross amount is missing"))
	case !inv.GrossAmount.IsPositive():
		issues = append(issues, issue(SeverityError, "gross_amount", CodeGrossNotPositive,
			fmt.Sprintf("gross amount must be positive, got %s", inv.GrossAmount)))
	}
	if strings.TrimSpace(inv.Currency) == "" {
		issues = append(issues, issue(SeverityError, "currency", CodeCurrencyMissing, "currency is missing"))
	}
	if inv.DocumentDate == nil {
		issues = append(issues, issue(SeverityError, "document_date", CodeDocumentDateMissing, "document date is missing"))
	}
	if strings.TrimSpace(inv.CompanyCode) == "" {
		issues = append(issues, issue(SeverityError, "company_code", CodeCompanyCodeMissing, "company code is missing"))
	}
	return issues
}

func checkPO(inv *Invoice, lines []InvoiceLine) []ValidationIssue {
	issues := []ValidationIssue{}
	if strings.TrimSpace(inv.PONumber) == "" || len(lines) == 0 {
		return issues
	}
	matched := 0
	for _, l := range lines {
		if l.MatchStatus == LineMatched {
			matched++
		}
	}
	switch {
	case matched == 0:
		issues = append(issues, issue(SeverityError, "po_lines", CodePONoLinesMatched,
			fmt.Sprintf("none of %d line(s) matched PO %s", len(lines), inv.PONumber)))
	case matched < len(lines):
		issues = append(issues, issue(SeverityWarning, "po_lines", CodePOPartialMatch,
			fmt.Sprintf("%d of %d line(s) matched PO %s; unmatched lines are not posted", matched, len(lines), inv.PONumber)))
	}
	return issues
}

func checkThreeWayMatch(inv *Invoice) []ValidationIssue {
	issues := []ValidationIssue{}
	if !inv.ThreeWayMatchRequired {
		return issues
	}
	if !inv.ThreeWayMatchPassed {
		issues = append(issues, issue(SeverityError, "goods_receipt", CodeGRCheckFailed,
			"goods receipt is missing for at least one goods-receipt based PO line"))
	}
	if inv.ThreeWayMatchStatus == ThreeWayFailed {
		issues = append(issues, issue(SeverityError, "three_way_match_status", CodeThreeWayMatchFailed,
			"three-way match failed"))
	}
	return issues
}

// ValidationService runs the invoice validator.
type ValidationService interface {
	// ValidateInvoice evaluates the invoice and records VALIDATED or VALIDATION_FAILED.
	// Repeated calls without other changes give the same verdict.
	ValidateInvoice(ctx context.Context, invoiceID uuid.UUID) (*ValidationResult, error)
}

type validationService struct {
	store Store
	log   *logrus.Entry
}

// NewValidationService constructs a ValidationService.
func NewValidationService(store Store, log *logrus.Entry) ValidationService {
	return &validationService{store: store, log: entryOrDiscard(log)}
}

func (s *validationService) ValidateInvoice(ctx context.Context, invoiceID uuid.UUID) (*ValidationResult, error) {
	var result ValidationResult
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID, true)
		if err != nil {
			return err
		}
		if err := checkInvoiceTransition(inv, StepValidated); err != nil {
			return err
		}
		lines, err := tx.ListInvoiceLines(ctx, invoiceID)
		if err != nil {
			return err
		}

		result = EvaluateInvoice(inv, lines)
		msg := fmt.Sprintf("validation %s: %d error(s), %d warning(s)", result.Status, result.ErrorCount, result.WarningCount)
		switch result.Status {
		case ValidationInvalid:
			applyStep(inv, StepValidationFailed, StatusManualReview, ResultFailure, msg)
		case ValidationWithWarnings:
			applyStep(inv, StepValidated, StatusInProgress, ResultWarning, msg)
		default:
			applyStep(inv, StepValidated, StatusInProgress, ResultSuccess, msg)
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.AppendLog(ctx, logEntry(inv, result))
	})
	if err != nil {
		return nil, fmt.Errorf("validate invoice %s: %w", invoiceID, err)
	}

	s.log.WithFields(logrus.Fields{
		"invoice_id": invoiceID,
		"status":     result.Status,
		"errors":     result.ErrorCount,
		"warnings":   result.WarningCount,
	}).Info("invoice validated")
	return &result, nil
}
