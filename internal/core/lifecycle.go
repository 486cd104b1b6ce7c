package core

import "fmt"

var stepRank = map[InvoiceStep]int{
	StepReceived:            0,
	StepDoxExtracted:        1,
	StepSupplierMatched:     2,
	StepSupplierMatchFailed: 2,
	StepPOMatched:           3,
	StepPOMatchSkipped:      3,
	StepValidated:           4,
	StepValidationFailed:    4,
	StepApproved:            5,
	StepRejected:            5,
	StepPosted:              6,
	StepPostFailed:          6,
}

// Rank returns the position of the step in the pipeline, or -1 for unknown steps.
func (s InvoiceStep) Rank() int {
	r, ok := stepRank[s]
	if !ok {
		return -1
	}
	return r
}

// IsTerminal reports whether no further step may be recorded.
func (s InvoiceStep) IsTerminal() bool {
	return s == StepPosted || s == StepRejected
}

// CheckTransition returns ErrInvalidState if an invoice at from may not record step to.
// Steps may be re-run (any rank up to one past the current one) so the orchestrator
// can repeat a stage after a human correction.
func CheckTransition(from, to InvoiceStep) error {
	if to.Rank() < 0 {
		return fmt.Errorf("unknown step %q: %w", to, ErrInvalidState)
	}
	if from.IsTerminal() {
		return fmt.Errorf("invoice is %s and cannot move to %s: %w", from, to, ErrInvalidState)
	}
	if from == StepPostFailed {
		if to == StepPosted || to == StepPostFailed {
			return nil
		}
		return fmt.Errorf("invoice posting failed; only a posting retry is allowed, not %s: %w", to, ErrInvalidState)
	}
	if to.Rank() > from.Rank()+1 {
		return fmt.Errorf("cannot move from %s to %s: %w", from, to, ErrInvalidState)
	}
	return nil
}

// CanApprove reports whether an approval decision may be recorded at step s.
func CanApprove(s InvoiceStep) error {
	if s.IsTerminal() || s == StepPostFailed {
		return fmt.Errorf("invoice is %s: %w", s, ErrInvalidState)
	}
	if s.Rank() < StepValidated.Rank() {
		return fmt.Errorf("invoice must be validated before approval (step %s): %w", s, ErrInvalidState)
	}
	return nil
}

// CanPost reports whether an invoice at step s may be posted to the ERP.
func CanPost(s InvoiceStep) error {
	if s == StepApproved || s == StepPostFailed {
		return nil
	}
	return fmt.Errorf("invoice must be approved before posting (step %s): %w", s, ErrInvalidState)
}

// postingInFlight returns ErrInvalidState while an ERP posting of inv has no
// recorded outcome. Only a reported posting result clears it.
func postingInFlight(inv *Invoice) error {
	if inv.Status == StatusPosting {
		return fmt.Errorf("invoice %s has an ERP posting in flight; report its result first: %w", inv.ID, ErrInvalidState)
	}
	return nil
}

func checkInvoiceTransition(inv *Invoice, to InvoiceStep) error {
	if err := postingInFlight(inv); err != nil {
		return err
	}
	return CheckTransition(inv.Step, to)
}

// applyStep records a step outcome on the invoice.
func applyStep(inv *Invoice, step InvoiceStep, status InvoiceStatus, result StepResult, message string) {
	inv.Step = step
	inv.Status = status
	inv.Result = result
	inv.Message = message
}
