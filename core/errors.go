package core

import (
	"errors"
	"fmt"
)

// Code classifies engine errors for transport mapping and retry decisions.
type Code string

const (
	CodeNotFound   Code = "not_found"
	CodeValidation Code = "validation"
	CodeConflict   Code = "conflict"
	CodeInternal   Code = "internal"
)

// Error is the engine's typed error. Trigger callers branch on Code to
// distinguish "referenced entity missing" from "input was invalid" from
// storage failures; "nothing matched" is an empty response, never an Error.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NotFound builds a CodeNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a CodeValidation error.
func Validation(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a CodeConflict error.
func Conflict(format string, args ...any) error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a storage or evaluator failure as CodeInternal, preserving
// the cause for errors.Is/As.
func Internal(cause error, format string, args ...any) error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf extracts the Code from err, defaulting to CodeInternal for
// untyped errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func IsNotFound(err error) bool   { return CodeOf(err) == CodeNotFound }
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }
func IsConflict(err error) bool   { return CodeOf(err) == CodeConflict }
