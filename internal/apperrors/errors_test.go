package apperrors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteError_EnvelopeCarriesRequestID(t *testing.T) {
	var body ErrorResponse

	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, r, "Document not found")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not_found", body.Error.Code)
	require.Equal(t, "Document not found", body.Error.Message)
	require.NotEmpty(t, body.Error.RequestID)
	require.Equal(t, rec.Header().Get(RequestIDHeader), body.Error.RequestID)
}

func TestRequestIDMiddleware_ReusesValidInboundID(t *testing.T) {
	const inbound = "9f0f9a3e-64c4-4c57-a3b7-2b3c36e1c1aa"

	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, inbound)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, inbound, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not a uuid")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotEqual(t, "not a uuid", seen)
}

func TestWritePage_IncludesMeta(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	WritePage(rec, req, []string{"a", "b"}, Meta{Total: 12, Page: 2, Limit: 2})

	var body struct {
		Data []string `json:"data"`
		Meta Meta     `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []string{"a", "b"}, body.Data)
	require.Equal(t, 12, body.Meta.Total)
	require.Equal(t, 2, body.Meta.Page)
}
