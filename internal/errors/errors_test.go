package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := ValidationError("type is required")
	assert.Equal(t, "validation: type is required", err.Error())

	cause := stderrors.New("boom")
	wrapped := InternalError("broadcast failed", cause)
	assert.Equal(t, "internal: broadcast failed: boom", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{ValidationError("bad"), http.StatusBadRequest},
		{NotFoundError("missing"), http.StatusNotFound},
		{UnavailableError("shutting down", nil), http.StatusServiceUnavailable},
		{InternalError("oops", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Type), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestWithContext(t *testing.T) {
	err := ValidationError("payload too large").
		WithContext("size", 12345).
		WithContext("limit", 4096)

	assert.Equal(t, 12345, err.Context["size"])
	assert.Equal(t, 4096, err.Context["limit"])

	resp := err.ToResponse()
	assert.Equal(t, "payload too large", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, 4096, resp.Context["limit"])
}

func TestAsStructuredError(t *testing.T) {
	structured := NotFoundError("no such task")
	require.Same(t, structured, AsStructuredError(structured))

	wrapped := fmt.Errorf("handler: %w", structured)
	assert.Same(t, structured, AsStructuredError(wrapped))

	plain := stderrors.New("plain failure")
	converted := AsStructuredError(plain)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.ErrorIs(t, converted, plain)

	assert.Nil(t, AsStructuredError(nil))
}
