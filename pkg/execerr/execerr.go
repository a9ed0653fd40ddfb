// Package execerr defines the error taxonomy for plan execution.
package execerr

import (
	"errors"
	"fmt"
)

// Kind classifies a plan execution failure.
type Kind string

const (
	// KindMalformedPlan means the raw payload could not be parsed or exceeds the size cap.
	KindMalformedPlan Kind = "malformed_plan"
	// KindInvalidPlan means the payload parsed but violates the plan schema.
	KindInvalidPlan Kind = "invalid_plan"
	// KindHostMismatch means the declared host conflicts with the detected host
	// and the plan uses operations the detected host does not support.
	KindHostMismatch Kind = "host_mismatch"
	// KindUnsupportedOperation means an operation is not valid for the active host.
	KindUnsupportedOperation Kind = "unsupported_operation"
	// KindTargetNotFound means an address, range, sheet, slide or shape could not be resolved.
	KindTargetNotFound Kind = "target_not_found"
	// KindStructuralWriteFailure means every strategy for a required write failed.
	KindStructuralWriteFailure Kind = "structural_write_failure"
	// KindDecorativeGap means a best-effort feature is unavailable. It is absorbed
	// locally (a placeholder is substituted) and never fails a plan.
	KindDecorativeGap Kind = "decorative_capability_gap"
	// KindCanceled means execution stopped because the caller's context was canceled.
	KindCanceled Kind = "canceled"
)

// Error is a classified plan execution error.
type Error struct {
	Kind Kind
	Op   string // protocol operation, when attributable to one
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a static message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// ForOp attributes the error to a protocol operation and returns it.
func (e *Error) ForOp(op string) *Error {
	e.Op = op
	return e
}

// KindOf extracts the Kind from an error chain. Unclassified errors return "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
