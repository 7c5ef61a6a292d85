package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork      ErrorType = "network"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeParsing      ErrorType = "parsing"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeServerError  ErrorType = "server_error"
	ErrorTypeInvalidInput ErrorType = "invalid_input"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeTooLarge     ErrorType = "too_large"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// Error represents an error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// New creates a typed error without a status code
func New(errorType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errorType,
		Message: fmt.Sprintf(format, args...),
	}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown if err carries none
func TypeOf(err error) ErrorType {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err is a typed error of the given type
func Is(err error, errorType ErrorType) bool {
	var typed *Error
	return stderrors.As(err, &typed) && typed.Type == errorType
}

// IsUserFacing reports whether the error describes something the requester did
// (bad link, private or missing post) rather than a fault on our side
func IsUserFacing(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeInvalidInput, ErrorTypeNotFound, ErrorTypeAuth, ErrorTypeTooLarge:
		return true
	default:
		return false
	}
}
