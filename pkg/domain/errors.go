package domain

import "fmt"

// UnknownFunctionError is returned when a proposed call names a function
// that was never registered. The call is rejected; the turn continues.
type UnknownFunctionError struct {
	Function string
}

func (e UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function %q", e.Function)
}

// ApplyFailureError indicates a registered function's apply step failed
// after its validator passed. This is a validator/apply contract violation
// and aborts the whole turn.
type ApplyFailureError struct {
	Function string
	Err      error
}

func (e ApplyFailureError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Function, e.Err)
}

func (e ApplyFailureError) Unwrap() error { return e.Err }

// PersistenceError indicates the durable write failed after successful
// in-memory staging. The turn is aborted and may be re-submitted as-is.
type PersistenceError struct {
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persist turn: %v", e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// AdjudicationError indicates the external consistency check timed out or
// failed in transport. It is never treated as acceptance.
type AdjudicationError struct {
	Err error
}

func (e AdjudicationError) Error() string {
	return fmt.Sprintf("adjudication unavailable: %v", e.Err)
}

func (e AdjudicationError) Unwrap() error { return e.Err }
