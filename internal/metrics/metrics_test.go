package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/documents/{document_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/documents/"+id, nil))
	}

	require.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/documents/{document_id}", "404")))
}

func TestObserve_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveUpload(10)
	m.ObserveEnqueue("document:process", nil)
	m.ObserveJob("document:process", "ok", time.Second)
}

func TestObserve_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveUpload(2048)
	m.ObserveEnqueue("document:process", nil)
	m.ObserveEnqueue("document:process", errors.New("down"))
	m.ObserveJob("document:process", "failed", time.Second)

	require.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsUploadedTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.JobsEnqueuedTotal.WithLabelValues("document:process", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("document:process", "failed")))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveUpload(1)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "clinicdocs_documents_uploaded_total 1"))
}
