package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so boundaries can map it to a transport status
// without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindOracleContract
	KindExecution
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindOracleContract:
		return "oracle_contract"
	case KindExecution:
		return "execution"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Validation marks malformed or unacceptable caller input.
func Validation(format string, args ...interface{}) error {
	return newError(KindValidation, format, args...)
}

// OracleContract marks a planner/synthesizer response that violated its
// declared output contract.
func OracleContract(format string, args ...interface{}) error {
	return newError(KindOracleContract, format, args...)
}

// Execution marks a failure while running queries or analysis over the data.
func Execution(format string, args ...interface{}) error {
	return newError(KindExecution, format, args...)
}

// Resource marks a missing session, run or other addressable entity.
func Resource(format string, args ...interface{}) error {
	return newError(KindResource, format, args...)
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap attaches a kind to an existing error while preserving the chain.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}
