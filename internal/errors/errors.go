// Package errors defines the error taxonomy shared by the execution engine.
//
// Three kinds exist: configuration problems that abort the process before any
// unit is spawned, network problems raised while talking to the RPC endpoint,
// and on-chain reverts of a submitted action. The last two are always
// contained to the unit that produced them.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindNetwork
	KindActionRevert
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNetwork:
		return "network"
	case KindActionRevert:
		return "action_revert"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration wraps err as a fatal configuration error.
func Configuration(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// Configurationf builds a configuration error from a format string.
func Configurationf(op, format string, args ...interface{}) *Error {
	return Configuration(op, fmt.Errorf(format, args...))
}

// Network wraps err as a submission-level transport or validation error.
func Network(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// ActionRevert wraps err as an on-chain rejection.
func ActionRevert(op string, err error) *Error {
	return &Error{Kind: KindActionRevert, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Is and As forward to the standard library so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// New forwards to the standard library.
func New(text string) error { return stderrors.New(text) }

// ErrConfirmationTimeout marks a confirmation wait that exceeded its bound.
var ErrConfirmationTimeout = stderrors.New("confirmation timeout")
