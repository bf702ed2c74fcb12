package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_ErrorIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal(cause)

	if got := err.Error(); got != "INTERNAL_ERROR: an internal error occurred: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAppError_UnwrapPreservesSentinel(t *testing.T) {
	err := NotFound("warehouse", "wh-1")

	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(NotFound(...), ErrNotFound) = false, want true")
	}
}

func TestAppError_AsFromWrappedChain(t *testing.T) {
	inner := InvalidInput("quantity must be positive")
	wrapped := fmt.Errorf("receive: %w", inner)

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed on wrapped AppError")
	}
	if appErr.Code != "INVALID_INPUT" {
		t.Errorf("Code = %q, want INVALID_INPUT", appErr.Code)
	}
}

func TestNew_ExplicitFields(t *testing.T) {
	cause := errors.New("boom")
	err := New("CUSTOM_CODE", "custom message", http.StatusTeapot, cause)

	if err.Code != "CUSTOM_CODE" || err.Status != http.StatusTeapot {
		t.Errorf("New() = %+v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("New() did not preserve cause for errors.Is")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error status wins", New("X", "x", http.StatusConflict, nil), http.StatusConflict},
		{"not found sentinel", fmt.Errorf("lookup: %w", ErrNotFound), http.StatusNotFound},
		{"already exists sentinel", ErrAlreadyExists, http.StatusConflict},
		{"conflict sentinel", ErrConflict, http.StatusConflict},
		{"invalid input sentinel", ErrInvalidInput, http.StatusBadRequest},
		{"unavailable sentinel", ErrServiceUnavail, http.StatusServiceUnavailable},
		{"unknown error", errors.New("anything"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrap_KeepsIdentity(t *testing.T) {
	err := Wrap(ErrConflict, "reserve stock")

	if !errors.Is(err, ErrConflict) {
		t.Error("Wrap() lost error identity")
	}
	if err.Error() != "reserve stock: conflict" {
		t.Errorf("Wrap() message = %q", err.Error())
	}
}
