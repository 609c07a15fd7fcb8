package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keywheel/keywheel/internal/core"
	"github.com/keywheel/keywheel/internal/server/middleware"
)

func requestWithID(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/key", nil)
	ctx := middleware.WithRequestID(req.Context(), id)
	return req.WithContext(ctx)
}

func TestFromPoolError(t *testing.T) {
	ctx := context.Background()
	reset := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
		wantStatus  int
	}{
		{"key required", core.ErrKeyRequired, CodeValidationFailed, MessageKeyRequired, http.StatusBadRequest},
		{"invalid tokens", core.ErrInvalidTokens, CodeValidationFailed, MessageInvalidTokens, http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("confirm: %w", core.ErrCredentialNotFound), CodeNotFound, MessageKeyNotFound, http.StatusNotFound},
		{"exhausted", &core.ExhaustedError{NextResetTime: reset, RetryAfter: 30}, CodePoolExhausted, MessageExhausted, http.StatusServiceUnavailable},
		{"unexpected", fmt.Errorf("boom"), CodeInternalError, MessageInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope := FromPoolError(ctx, tt.err)
			require.NotNil(t, envelope)
			assert.Equal(t, tt.wantCode, envelope.Code)
			assert.Equal(t, tt.wantMessage, envelope.Message)
			assert.Equal(t, tt.wantStatus, HTTPStatusFromEnvelope(envelope))
			assert.NotEmpty(t, envelope.CorrelationID)
		})
	}
}

func TestRespondFlatExhausted(t *testing.T) {
	reset := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	req := requestWithID("req-503")
	envelope := FromPoolError(req.Context(), &core.ExhaustedError{NextResetTime: reset, RetryAfter: 17})

	rec := httptest.NewRecorder()
	RespondFlat(rec, req, envelope)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "17", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, MessageExhausted, body["error"])
	assert.Equal(t, "2026-01-02T00:00:00.000Z", body["nextResetTime"])
	assert.EqualValues(t, 17, body["retryAfter"])
	assert.Equal(t, "req-503", body["request_id"])
}

func TestRespondFlatOmitsContext(t *testing.T) {
	req := requestWithID("req-400")
	envelope := FromPoolError(req.Context(), core.ErrKeyRequired)

	rec := httptest.NewRecorder()
	RespondFlat(rec, req, envelope)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]interface{}{
		"error":      MessageKeyRequired,
		"request_id": "req-400",
	}, body)
}

func TestRespondWithEnvelopeNested(t *testing.T) {
	req := requestWithID("req-404")
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, NewNotFoundError("missing"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.Equal(t, "missing", body.Error.Message)
	assert.Equal(t, "req-404", body.Error.RequestID)
}

func TestEnsureEnvelope(t *testing.T) {
	assert.Equal(t, CodeInternalError, EnsureEnvelope(nil).Code)

	wrapped := EnsureEnvelope(fmt.Errorf("disk full"))
	assert.Equal(t, CodeInternalError, wrapped.Code)
	assert.Equal(t, "disk full", wrapped.Context["wrapped_error"])

	original := NewValidationError("bad")
	assert.Same(t, original, EnsureEnvelope(original))
}

func TestHTTPStatusFromCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFromCode(CodeInvalidRequest))
	assert.Equal(t, http.StatusMethodNotAllowed, HTTPStatusFromCode(CodeMethodNotAllowed))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusFromCode(CodeServiceUnavailable))
	assert.Equal(t, http.StatusBadGateway, HTTPStatusFromCode(CodeExternalService))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromCode("SOMETHING_ELSE"))
}
