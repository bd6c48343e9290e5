// Package apperr holds the error kinds reported across the session and transport
// boundary. Every networking failure leaves its package as an *Error carrying one Kind.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	// InvalidConfig is a bad host or port detected before any connection attempt.
	InvalidConfig
	UnresolvableHost
	ConnectionRefused
	Timeout
	// WriteError is a single failed send. It is fatal only when Error.Fatal is set.
	WriteError
	// CloseError is logged and never surfaced to the user.
	CloseError
)

func (k Kind) String() string {
	switch k {
	case InvalidConfig:
		return "invalid_config"
	case UnresolvableHost:
		return "unresolvable_host"
	case ConnectionRefused:
		return "connection_refused"
	case Timeout:
		return "timeout"
	case WriteError:
		return "write_error"
	case CloseError:
		return "close_error"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
	// Fatal marks a failure after which the connection cannot carry more data.
	Fatal bool
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: Timeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal
	}
	return false
}
