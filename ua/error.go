// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"github.com/pkg/errors"
)

// Error is a StatusCode annotated with the condition that raised it.
// Errors of this type are compared by identity, so packages declare
// them once as sentinels. errors.Is matches both the sentinel and its Code.
type Error struct {
	Code   StatusCode
	Reason string
}

// NewError returns a new Error.
func NewError(code StatusCode, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func (e *Error) Error() string {
	return e.Reason + ": " + e.Code.Error()
}

// Unwrap returns the StatusCode.
func (e *Error) Unwrap() error {
	return e.Code
}

// StatusCodeOf returns the StatusCode carried by err.
// A nil error is Good, an error without a StatusCode is BadUnexpectedError.
func StatusCodeOf(err error) StatusCode {
	if err == nil {
		return Good
	}
	var code StatusCode
	if errors.As(err, &code) {
		return code
	}
	return BadUnexpectedError
}
