package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeApplyFailed indicates the store rejected an update.
	ErrCodeApplyFailed ErrorCode = "APPLY_FAILED"

	// ErrCodeUnknownRelation indicates an update names a relation the
	// program does not declare.
	ErrCodeUnknownRelation ErrorCode = "UNKNOWN_RELATION"

	// ErrCodeNotInput indicates an update targets an output relation.
	ErrCodeNotInput ErrorCode = "NOT_INPUT"

	// ErrCodeTypeMismatch indicates a fact does not have the relation's
	// record shape, or a rule template references a missing field.
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// ErrCodeCommitFailed indicates the transaction could not be committed.
	ErrCodeCommitFailed ErrorCode = "COMMIT_FAILED"

	// ErrCodeUseAfterStop indicates the program was already stopped.
	ErrCodeUseAfterStop ErrorCode = "USE_AFTER_STOP"
)

// Error is returned by Apply and Stop. Whenever Apply returns an Error the
// transaction was rolled back and program state is unchanged.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Relation names the affected relation, if any.
	Relation string

	// Index is the position of the failing update in its batch, or -1.
	Index int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Relation != "" {
		msg += fmt.Sprintf(" (relation=%s)", e.Relation)
	}
	if e.Index >= 0 {
		msg += fmt.Sprintf(" (update=%d)", e.Index)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, index int, relation, message string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Relation: relation,
		Index:    index,
		Err:      cause,
	}
}

// CodeOf returns the code of an engine error, or "" if err is not one.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsEngineError reports whether err is (or wraps) an *Error.
func IsEngineError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsUseAfterStop reports whether err is a use-after-stop error.
func IsUseAfterStop(err error) bool {
	return CodeOf(err) == ErrCodeUseAfterStop
}

// IsTypeMismatch reports whether err is a type mismatch error.
func IsTypeMismatch(err error) bool {
	return CodeOf(err) == ErrCodeTypeMismatch
}
