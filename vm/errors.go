package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Runtime errors (recoverable, first-class values)
// ---------------------------------------------------------------------------

// ErrorKind classifies a runtime Error.
type ErrorKind uint8

const (
	RuntimeError ErrorKind = iota
	ForeignError
	IndexError
	KeyError
	TypeError
	ArithmeticError
	NullError
	StackOverflow
	UserError
)

var errorKindNames = [...]string{
	RuntimeError:    "RuntimeError",
	ForeignError:    "ForeignError",
	IndexError:      "IndexError",
	KeyError:        "KeyError",
	TypeError:       "TypeError",
	ArithmeticError: "ArithmeticError",
	NullError:       "NullError",
	StackOverflow:   "StackOverflow",
	UserError:       "UserError",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Error is a recoverable runtime error. It travels through the error
// register as a Value of kind Error and unwinds to the nearest protected call.
type Error struct {
	Kind    ErrorKind
	Message string
	Index   int // raising instruction, -1 until the dispatcher stamps it
	Cause   error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Index: -1}
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// AsError converts any error into a runtime Error. Errors that are not
// already an *Error become ForeignError with the original kept as Cause.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: ForeignError, Message: err.Error(), Index: -1, Cause: err}
}

// ---------------------------------------------------------------------------
// Faults (structural program defects, never caught)
// ---------------------------------------------------------------------------

// Fault reports a defect in the loaded program: unknown opcode, bad operand
// arity or type, unresolved or out-of-range jump, scope underflow.
type Fault struct {
	Index   int
	Op      OpCode
	Message string
	Symbol  *Symbol
}

func faultf(format string, args ...any) *Fault {
	return &Fault{Index: -1, Op: OpInvalid, Message: fmt.Sprintf(format, args...)}
}

func (f *Fault) Error() string {
	if f.Index < 0 {
		return "vm fault: " + f.Message
	}
	return fmt.Sprintf("vm fault at %d (%s)%s: %s", f.Index, f.Op, f.Symbol.suffix(), f.Message)
}

// IsFault reports whether err is, or wraps, a VM fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// ---------------------------------------------------------------------------
// Unhandled errors
// ---------------------------------------------------------------------------

// UnhandledError is returned to the host when a runtime Error escapes every
// frame of a context without meeting a protected call.
type UnhandledError struct {
	Err     *Error
	Context string
	Index   int
	Op      OpCode
	Symbol  *Symbol
}

func (u *UnhandledError) Error() string {
	return fmt.Sprintf("unhandled %s at %d (%s)%s: %s",
		u.Err.Kind, u.Index, u.Op, u.Symbol.suffix(), u.Err.Message)
}

func (u *UnhandledError) Unwrap() error { return u.Err }

func (s *Symbol) suffix() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf(" [%s:%d]", s.Name, s.Line)
}
