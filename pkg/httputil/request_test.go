package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	type checkoutRequest struct {
		PriceID string `json:"priceId"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"priceId":"price_123"}`))

		var dest checkoutRequest
		require.NoError(t, ParseJSON(req, &dest))
		assert.Equal(t, "price_123", dest.PriceID)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"priceId":`))

		var dest checkoutRequest
		err := ParseJSON(req, &dest)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid JSON")
	})
}

func TestParseJSONOrError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()

	var dest map[string]string
	ok := ParseJSONOrError(rec, req, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireNonEmpty(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		rec := httptest.NewRecorder()
		assert.True(t, RequireNonEmpty(rec, "price_123", "priceId"))
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		assert.False(t, RequireNonEmpty(rec, "", "priceId"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "priceId is required")
	})
}

func TestParseQueryString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?plan=pro", nil)
	assert.Equal(t, "pro", ParseQueryString(req, "plan", "free"))
	assert.Equal(t, "free", ParseQueryString(req, "missing", "free"))
}
