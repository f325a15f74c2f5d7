package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteJSON(rec, http.StatusOK, map[string]string{"sessionId": "cs_test_1"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cs_test_1", body["sessionId"])
}

func TestWriteErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantError  string
	}{
		{
			name:       "bad request",
			write:      func(w http.ResponseWriter) { WriteBadRequest(w, "priceId is required") },
			wantStatus: http.StatusBadRequest,
			wantError:  "priceId is required",
		},
		{
			name:       "unauthorized",
			write:      func(w http.ResponseWriter) { WriteUnauthorized(w, "invalid token") },
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid token",
		},
		{
			name:       "method not allowed",
			write:      func(w http.ResponseWriter) { WriteMethodNotAllowed(w, "method not allowed") },
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "method not allowed",
		},
		{
			name:       "too many requests",
			write:      func(w http.ResponseWriter) { WriteTooManyRequests(w, "rate limit exceeded") },
			wantStatus: http.StatusTooManyRequests,
			wantError:  "rate limit exceeded",
		},
		{
			name:       "internal error hides cause",
			write:      func(w http.ResponseWriter) { WriteInternalError(w) },
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal server error",
		},
		{
			name:       "write error uses error message",
			write:      func(w http.ResponseWriter) { WriteError(w, http.StatusConflict, errors.New("duplicate")) },
			wantStatus: http.StatusConflict,
			wantError:  "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeError(t, rec).Error)
		})
	}
}
