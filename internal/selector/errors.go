package selector

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation marks a result that would break list ordering,
	// e.g. a comparator answering neither before, after nor overlapping.
	ErrInvariantViolation = errors.New("invariant violation")
	ErrUnsupported        = errors.New("unsupported selector")
	ErrMalformed          = errors.New("malformed selector")
)

// ReconcileError wraps a failed List.Insert. The list is left unchanged.
type ReconcileError struct {
	Kind  error
	Range Range
	Msg   string
}

func (e *ReconcileError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: [%s, %s)", e.Kind.Error(), e.Range.Start, e.Range.End)
	}
	return fmt.Sprintf("%s: [%s, %s): %s", e.Kind.Error(), e.Range.Start, e.Range.End, e.Msg)
}

func (e *ReconcileError) Unwrap() error { return e.Kind }

func invariantf(r Range, format string, args ...any) error {
	return &ReconcileError{Kind: ErrInvariantViolation, Range: r, Msg: fmt.Sprintf(format, args...)}
}

func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
