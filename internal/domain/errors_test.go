package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "with wrapped error",
			err:  &AppError{Code: CodeUnavailable, Message: "list countries", Err: errors.New("connection refused")},
			want: "list countries: connection refused",
		},
		{
			name: "without wrapped error",
			err:  &AppError{Code: CodeRejected, Message: "name already taken"},
			want: "name already taken",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("inner error")
	appErr := NewAppError(CodeInternal, "something failed", inner)

	if !errors.Is(appErr, inner) {
		t.Error("Unwrap() should allow errors.Is to find wrapped error")
	}
	if (&AppError{Code: CodeInternal}).Unwrap() != nil {
		t.Error("Unwrap() should return nil when Err is nil")
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checkFn func(error) bool
		code    int
	}{
		{"ErrNotFound", ErrNotFound, IsNotFound, CodeNotFound},
		{"ErrAlreadyExists", ErrAlreadyExists, IsAlreadyExists, CodeAlreadyExists},
		{"ErrValidation", ErrValidation, IsValidation, CodeValidation},
		{"ErrInternal", ErrInternal, IsInternal, CodeInternal},
		{"ErrForbidden", ErrForbidden, IsForbidden, CodeForbidden},
		{"ErrUnavailable", ErrUnavailable, IsUnavailable, CodeUnavailable},
		{"ErrRejected", ErrRejected, IsRejected, CodeRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var appErr *AppError
			if !errors.As(tt.err, &appErr) {
				t.Fatal("should be *AppError")
			}
			if appErr.Code != tt.code {
				t.Errorf("Code = %d; want %d", appErr.Code, tt.code)
			}
			if !tt.checkFn(tt.err) {
				t.Errorf("check function should return true for %s", tt.name)
			}
		})
	}
}

func TestIsCheckers_ThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("refresh view: %w", NewAppError(CodeUnavailable, "timeout", nil))
	if !IsUnavailable(err) {
		t.Error("IsUnavailable should see through fmt.Errorf wrapping")
	}
	if IsForbidden(err) || IsRejected(err) {
		t.Error("other checkers should not match an unavailable error")
	}
	if IsUnavailable(errors.New("plain")) {
		t.Error("IsUnavailable should return false for non-AppError")
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrNotFound, http.StatusNotFound},
		{"already exists", ErrAlreadyExists, http.StatusConflict},
		{"validation", ErrValidation, http.StatusBadRequest},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"unavailable", ErrUnavailable, http.StatusBadGateway},
		{"rejected", ErrRejected, http.StatusUnprocessableEntity},
		{"internal", ErrInternal, http.StatusInternalServerError},
		{"unknown code", NewAppError(999, "unknown", nil), http.StatusInternalServerError},
		{"non-AppError", errors.New("plain"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d; want %d", got, tt.want)
			}
		})
	}
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rejected keeps backend message", NewAppError(CodeRejected, "code already used", nil), "code already used"},
		{"unavailable hides cause", NewAppError(CodeUnavailable, "dial tcp 10.0.0.1:80", errors.New("refused")), "The backend is temporarily unavailable, please retry"},
		{"forbidden", ErrForbidden, "You do not have permission to perform this action"},
		{"internal", NewAppError(CodeInternal, "nil pointer in handler", nil), "Something went wrong, please try again"},
		{"plain error", errors.New("secret detail"), "Something went wrong, please try again"},
		{"empty message", &AppError{Code: CodeRejected}, "Request failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PublicMessage(tt.err); got != tt.want {
				t.Errorf("PublicMessage() = %q; want %q", got, tt.want)
			}
		})
	}
}
