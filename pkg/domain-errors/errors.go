// Package domainerrors carries typed error codes across layers.
//
// Stores speak sentinel errors (pkg/platform/sentinel); services translate them
// into a coded Error so transports can map codes to status codes without
// string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies an error kind at the service boundary.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeNotAnApprover      Code = "not_an_approver"
	CodeAlreadyApproved    Code = "already_approved"
	CodeAlreadyFinalized   Code = "already_finalized"
	CodeInvalidTransition  Code = "invalid_transition"
	CodeInvalidArgument    Code = "invalid_argument"
	CodeConflict           Code = "conflict"
	CodeExhausted          Code = "exhausted"
	CodeSubscriberOverflow Code = "subscriber_overflow"
	CodeUnauthorized       Code = "unauthorized"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to a cause. A nil cause yields a plain coded error.
func Wrap(err error, code Code, msg string) error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal for
// uncoded errors. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any coded error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is reports whether the outermost code of err equals code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsInformational marks outcomes that reflect a race with another observer
// acting on stale state rather than a fault. Callers should not retry them and
// should render them as notices.
func IsInformational(err error) bool {
	switch CodeOf(err) {
	case CodeAlreadyApproved, CodeAlreadyFinalized:
		return true
	}
	return false
}

// IsRetryable reports whether the whole operation may be retried by the caller.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeConflict, CodeExhausted, CodeTimeout:
		return true
	}
	return false
}
