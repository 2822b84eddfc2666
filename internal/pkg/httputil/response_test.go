package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createRequest struct {
	Name  string  `json:"name" validate:"required"`
	Ratio float64 `json:"ratio" validate:"omitempty,gte=0.01,lte=0.1"`
}

func TestDecodeValid(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Leads","ratio":0.02}`))
		var req createRequest
		assert.True(t, DecodeValid(w, r, &req))
		assert.Equal(t, "Leads", req.Name)
	})

	t.Run("malformed json", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		var req createRequest
		assert.False(t, DecodeValid(w, r, &req))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure lists fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ratio":0.5}`))
		var req createRequest
		assert.False(t, DecodeValid(w, r, &req))
		require.Equal(t, http.StatusBadRequest, w.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, "validation_failed", body.Code)
		assert.Contains(t, body.Error, "Name failed required")
		assert.Contains(t, body.Error, "Ratio failed lte")
	})
}

func TestInternalError_HidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	InternalError(w, errors.New("pq: relation does not exist"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		error  string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad ratio") }, http.StatusBadRequest, "bad ratio"},
		{"unauthorized", Unauthorized, http.StatusUnauthorized, "unauthorized"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "audience not found") }, http.StatusNotFound, "audience not found"},
		{"gateway", func(w http.ResponseWriter) { Error(w, http.StatusBadGateway, "upstream") }, http.StatusBadGateway, "upstream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, `{"success":false,"error":"`+tt.error+`"}`, w.Body.String())
		})
	}
}

func TestErrorWithCode(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorWithCode(w, http.StatusServiceUnavailable, "meta_not_configured", "ad platform is not configured", []string{"access_token"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"ad platform is not configured","code":"meta_not_configured","details":["access_token"]}`, w.Body.String())
}
