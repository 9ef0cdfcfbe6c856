package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type caller struct {
	userID uuid.UUID
	org    tenant.Org
}

func newTestRouter(svc *Service, c *caller) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), auth.UserIDContextKey, c.userID)
			ctx = tenant.WithOrg(ctx, c.org)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/documents", HandleList(svc))
	r.Post("/documents", HandleUpload(svc, nil, nil))
	r.Get("/documents/{document_id}", HandleGet(svc))
	r.Get("/documents/{document_id}/file", HandleDownload(svc))
	r.Delete("/documents/{document_id}", HandleDelete(svc, nil))
	r.Post("/documents/{document_id}/process", HandleProcess(svc, nil))
	r.Get("/documents/{document_id}/extracted-data", HandleGetExtractedData(svc))
	r.Put("/documents/{document_id}/extracted-data", HandleUpdateExtractedData(svc, nil))
	r.Get("/documents/{document_id}/versions", HandleListVersions(svc))
	return r
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("document_type", "certificate"))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta *struct {
		Total int `json:"total"`
		Page  int `json:"page"`
		Limit int `json:"limit"`
	} `json:"meta"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHandleUpload_ThenGetAndDownload(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	c := &caller{userID: uuid.New(), org: tenant.Org{ID: uuid.New(), Role: roles.Member}}
	router := newTestRouter(svc, c)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, "lab.pdf", "results"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Document Document `json:"document"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))
	require.Equal(t, "lab.pdf", created.Document.Name)
	require.Equal(t, "certificate", created.Document.DocumentType)
	require.Equal(t, StatusUploaded, created.Document.Status)
	require.Equal(t, c.org.ID, created.Document.OrgID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/"+created.Document.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/"+created.Document.ID.String()+"/file", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "results", rec.Body.String())
}

func TestHandleUpload_RequiresFile(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	router := newTestRouter(svc, &caller{userID: uuid.New(), org: tenant.Org{ID: uuid.New(), Role: roles.Member}})

	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpload_TooLarge(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	router := newTestRouter(svc, &caller{userID: uuid.New(), org: tenant.Org{ID: uuid.New(), Role: roles.Member}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, "big.pdf", strings.Repeat("x", 4096)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleList_Paginates(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	c := &caller{userID: uuid.New(), org: tenant.Org{ID: uuid.New(), Role: roles.Member}}
	for i := 0; i < 3; i++ {
		upload(t, svc, c.org.ID, "doc")
	}
	upload(t, svc, uuid.New(), "other tenant")
	router := newTestRouter(svc, c)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents?page=2&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	env := decode(t, rec)
	require.NotNil(t, env.Meta)
	require.Equal(t, 3, env.Meta.Total)
	require.Equal(t, 2, env.Meta.Page)
	require.Equal(t, 2, env.Meta.Limit)

	var docs []Document
	require.NoError(t, json.Unmarshal(env.Data, &docs))
	require.Len(t, docs, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents?status=bogus", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDelete_UploaderOrAdmin(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	orgID := uuid.New()
	uploader := uuid.New()

	doc, err := svc.Upload(context.Background(), orgID, uploader, UploadInput{
		Filename: "a.pdf", Size: 4, Body: strings.NewReader("data"),
	})
	require.NoError(t, err)
	path := "/documents/" + doc.ID.String()

	rec := httptest.NewRecorder()
	newTestRouter(svc, &caller{userID: uuid.New(), org: tenant.Org{ID: orgID, Role: roles.Member}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, path, nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	newTestRouter(svc, &caller{userID: uploader, org: tenant.Org{ID: orgID, Role: roles.Member}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	other, err := svc.Upload(context.Background(), orgID, uploader, UploadInput{
		Filename: "b.pdf", Size: 4, Body: strings.NewReader("data"),
	})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	newTestRouter(svc, &caller{userID: uuid.New(), org: tenant.Org{ID: orgID, Role: roles.Admin}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/documents/"+other.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleProcess_ConflictWhenAlreadyProcessing(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	c := &caller{userID: uuid.New(), org: tenant.Org{ID: uuid.New(), Role: roles.Member}}
	doc := upload(t, svc, c.org.ID, "data")
	router := newTestRouter(svc, c)
	path := "/documents/" + doc.ID.String() + "/process"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleExtractedData(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	c := &caller{userID: uuid.New(), org: tenant.Org{ID: uuid.New(), Role: roles.Member}}
	doc := upload(t, svc, c.org.ID, "data")
	router := newTestRouter(svc, c)
	path := "/documents/" + doc.ID.String() + "/extracted-data"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	_, err := svc.RequestProcessing(ctx, c.org.ID, doc.ID)
	require.NoError(t, err)
	_, err = svc.CompleteProcessing(ctx, c.org.ID, doc.ID, json.RawMessage(`{"name":"x"}`))
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"extracted_data":[1,2]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"extracted_data":{"name":"y"}}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/"+doc.ID.String()+"/versions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Versions []Version `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &body))
	require.Len(t, body.Versions, 2)
}

func TestHandlers_RejectMalformedDocumentID(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	router := newTestRouter(svc, &caller{userID: uuid.New(), org: tenant.Org{ID: uuid.New(), Role: roles.Owner}})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/documents/nope"},
		{http.MethodDelete, "/documents/nope"},
		{http.MethodPost, "/documents/nope/process"},
		{http.MethodGet, "/documents/nope/versions"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.path)
	}
}

func TestHandlers_RequireTenant(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	rec := httptest.NewRecorder()
	HandleList(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteDocumentError(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
	}{
		{ErrDocumentNotFound, http.StatusNotFound},
		{ErrJobNotFound, http.StatusNotFound},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrNotProcessed, http.StatusConflict},
		{ErrUploadTooLarge, http.StatusRequestEntityTooLarge},
		{ErrEmptyUpload, http.StatusBadRequest},
		{ErrInvalidData, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeDocumentError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, "failed")
		require.Equal(t, tt.wantCode, rec.Code, tt.err.Error())
	}
}
