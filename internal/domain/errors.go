package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure surfaced by the lifecycle managers matches
// exactly one of these through errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("service unavailable")
	ErrForbidden   = errors.New("forbidden")
	ErrInternal    = errors.New("internal error")
)

// Error is a typed failure. Kind is one of the sentinels above and Err is
// the optional underlying cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Validationf builds a validation failure.
func Validationf(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict failure.
func Conflictf(op, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found failure.
func NotFoundf(op, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds a missing-capability failure.
func Forbiddenf(op, format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Unavailable wraps err as a dependency outage.
func Unavailable(op string, err error) error {
	return &Error{Kind: ErrUnavailable, Op: op, Msg: "dependency unavailable", Err: err}
}

// Internal wraps err as an unexpected failure.
func Internal(op string, err error) error {
	return &Error{Kind: ErrInternal, Op: op, Msg: "internal failure", Err: err}
}

var kinds = []error{ErrValidation, ErrConflict, ErrNotFound, ErrUnavailable, ErrForbidden, ErrInternal}

// KindOf returns the kind of err. The outermost *Error wins; plain wrapped
// sentinels are recognised next; anything else is internal.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Kind != nil {
		return de.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}
