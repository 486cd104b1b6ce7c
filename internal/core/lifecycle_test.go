package core_test

import (
	"errors"
	"testing"

	"invoice-agent/internal/core"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to core.InvoiceStep
		ok       bool
	}{
		{core.StepDoxExtracted, core.StepSupplierMatched, true},
		{core.StepDoxExtracted, core.StepPOMatched, false},
		{core.StepSupplierMatchFailed, core.StepSupplierMatched, true},
		{core.StepSupplierMatched, core.StepPOMatchSkipped, true},
		{core.StepPOMatched, core.StepPOMatched, true},
		{core.StepPOMatched, core.StepValidated, true},
		{core.StepPOMatched, core.StepApproved, false},
		{core.StepValidated, core.StepSupplierMatched, true},
		{core.StepApproved, core.StepPosted, true},
		{core.StepPosted, core.StepValidated, false},
		{core.StepRejected, core.StepApproved, false},
		{core.StepPostFailed, core.StepPosted, true},
		{core.StepPostFailed, core.StepPostFailed, true},
		{core.StepPostFailed, core.StepValidated, false},
		{core.StepDoxExtracted, core.InvoiceStep("SHIPPED"), false},
	}
	for _, tt := range tests {
		err := core.CheckTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
		if err != nil && !errors.Is(err, core.ErrInvalidState) {
			t.Errorf("%s -> %s: error %v does not wrap ErrInvalidState", tt.from, tt.to, err)
		}
	}
}

func TestCanApproveAndPost(t *testing.T) {
	approvable := map[core.InvoiceStep]bool{
		core.StepDoxExtracted:     false,
		core.StepPOMatched:        false,
		core.StepValidated:        true,
		core.StepValidationFailed: true,
		core.StepApproved:         true,
		core.StepRejected:         false,
		core.StepPosted:           false,
		core.StepPostFailed:       false,
	}
	for step, want := range approvable {
		if got := core.CanApprove(step) == nil; got != want {
			t.Errorf("CanApprove(%s) = %v, want %v", step, got, want)
		}
	}

	postable := map[core.InvoiceStep]bool{
		core.StepValidated:  false,
		core.StepApproved:   true,
		core.StepPostFailed: true,
		core.StepPosted:     false,
		core.StepRejected:   false,
	}
	for step, want := range postable {
		if got := core.CanPost(step) == nil; got != want {
			t.Errorf("CanPost(%s) = %v, want %v", step, got, want)
		}
	}
}
