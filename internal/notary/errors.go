package notary

import (
	"errors"
	"fmt"
	"strings"

	"notary.mini/notary/internal/types"
)

// Error kinds. Every error returned by the contract wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrAlreadyCommitted     = errors.New("already committed")
	ErrUnknownDocument      = errors.New("unknown document")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrDuplicateEndorsement = errors.New("duplicate endorsement")
	ErrNotFound             = errors.New("not found")
	ErrStorage              = errors.New("storage failure")
)

// Error is a structured notary failure.
type Error struct {
	Kind        error
	Fingerprint types.Fingerprint
	Msg         string
	Err         error // underlying cause, if any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("notary: ")
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind of a notary error, or nil if err is not one.
func KindOf(err error) error {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return nil
}

func newError(kind error, fp types.Fingerprint, format string, args ...any) *Error {
	return &Error{Kind: kind, Fingerprint: fp, Msg: fmt.Sprintf(format, args...)}
}

// storageError passes notary errors through and wraps anything else as a
// storage failure.
func storageError(fp types.Fingerprint, err error) error {
	if err == nil {
		return nil
	}
	var ne *Error
	if errors.As(err, &ne) {
		return err
	}
	return &Error{Kind: ErrStorage, Fingerprint: fp, Err: err}
}
