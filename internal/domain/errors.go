package domain

import (
	"errors"
	"net/http"
)

// Error codes for console and backend failures.
const (
	CodeNotFound      = 1
	CodeAlreadyExists = 2
	CodeValidation    = 3
	CodeInternal      = 4
	// CodeForbidden marks a backend refusal of the operator's credentials.
	CodeForbidden = 5
	// CodeUnavailable marks transient failures: network errors, timeouts,
	// 5xx and 429 responses, or an open circuit. Only these are retried.
	CodeUnavailable = 6
	// CodeRejected marks a backend business failure reported in the
	// response envelope (success=false or a non-zero code).
	CodeRejected = 7
)

// AppError carries an error code, an operator-facing message and an optional cause.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined errors. Match them with the Is* helpers, which compare codes,
// rather than with errors.Is, which compares pointers.
var (
	ErrNotFound      = &AppError{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists = &AppError{Code: CodeAlreadyExists, Message: "already exists"}
	ErrValidation    = &AppError{Code: CodeValidation, Message: "validation error"}
	ErrInternal      = &AppError{Code: CodeInternal, Message: "internal error"}
	ErrForbidden     = &AppError{Code: CodeForbidden, Message: "permission denied"}
	ErrUnavailable   = &AppError{Code: CodeUnavailable, Message: "backend unavailable"}
	ErrRejected      = &AppError{Code: CodeRejected, Message: "request rejected"}
)

// NewAppError creates a new AppError with the given code, message, and wrapped error.
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsNotFound reports whether err is or wraps an AppError with CodeNotFound.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsAlreadyExists reports whether err is or wraps an AppError with CodeAlreadyExists.
func IsAlreadyExists(err error) bool {
	return hasCode(err, CodeAlreadyExists)
}

// IsValidation reports whether err is or wraps an AppError with CodeValidation.
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation)
}

// IsInternal reports whether err is or wraps an AppError with CodeInternal.
func IsInternal(err error) bool {
	return hasCode(err, CodeInternal)
}

// IsForbidden reports whether err is or wraps an AppError with CodeForbidden.
func IsForbidden(err error) bool {
	return hasCode(err, CodeForbidden)
}

// IsUnavailable reports whether err is or wraps an AppError with CodeUnavailable.
func IsUnavailable(err error) bool {
	return hasCode(err, CodeUnavailable)
}

// IsRejected reports whether err is or wraps an AppError with CodeRejected.
func IsRejected(err error) bool {
	return hasCode(err, CodeRejected)
}

func hasCode(err error, code int) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatusCode maps an error to the status the console answers with.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if err != nil && errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeNotFound:
			return http.StatusNotFound
		case CodeAlreadyExists:
			return http.StatusConflict
		case CodeValidation:
			return http.StatusBadRequest
		case CodeForbidden:
			return http.StatusForbidden
		case CodeUnavailable:
			return http.StatusBadGateway
		case CodeRejected:
			return http.StatusUnprocessableEntity
		case CodeInternal:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage returns a message that is safe to show to an operator.
// Causes are never exposed; unclassified errors collapse to a generic text.
func PublicMessage(err error) string {
	var appErr *AppError
	if err == nil || !errors.As(err, &appErr) {
		return "Something went wrong, please try again"
	}
	switch appErr.Code {
	case CodeUnavailable:
		return "The backend is temporarily unavailable, please retry"
	case CodeForbidden:
		return "You do not have permission to perform this action"
	case CodeInternal:
		return "Something went wrong, please try again"
	}
	if appErr.Message == "" {
		return "Request failed"
	}
	return appErr.Message
}
