package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an invoice, supplier or PO line does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks a missing or malformed request field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState is returned when an operation is not allowed from the invoice's current step.
	ErrInvalidState = errors.New("invalid invoice state")
	// ErrExternal wraps failures of downstream systems (ERP, similarity oracle).
	ErrExternal = errors.New("external system failure")
)

// InputError describes a single invalid request field.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// NewInputError returns an InputError for field.
func NewInputError(field, message string) error {
	return &InputError{Field: field, Message: message}
}

// externalError wraps err so that errors.Is(err, ErrExternal) holds while the
// downstream message is preserved verbatim.
type externalError struct {
	system string
	err    error
}

func (e *externalError) Error() string {
	return fmt.Sprintf("%s: %v", e.system, e.err)
}

func (e *externalError) Unwrap() []error {
	return []error{ErrExternal, e.err}
}

// External marks err as a downstream failure of the named system.
func External(system string, err error) error {
	if err == nil {
		return nil
	}
	return &externalError{system: system, err: err}
}
