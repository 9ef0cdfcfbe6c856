package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/documents"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestMapState(t *testing.T) {
	tests := []struct {
		in   asynq.TaskState
		want State
	}{
		{asynq.TaskStatePending, StateWaiting},
		{asynq.TaskStateAggregating, StateWaiting},
		{asynq.TaskStateActive, StateActive},
		{asynq.TaskStateScheduled, StateDelayed},
		{asynq.TaskStateRetry, StateDelayed},
		{asynq.TaskStateCompleted, StateCompleted},
		{asynq.TaskStateArchived, StateFailed},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, MapState(tt.in), tt.in.String())
	}
	require.True(t, StateCompleted.Terminal())
	require.True(t, StateFailed.Terminal())
	require.False(t, StateDelayed.Terminal())
}

func TestProgressOf(t *testing.T) {
	require.Equal(t, 0, progressOf(nil))
	require.Equal(t, 0, progressOf([]byte("garbage")))
	require.Equal(t, 40, progressOf([]byte(`{"progress":40}`)))
	require.Equal(t, 100, progressOf([]byte(`{"progress":250}`)))
}

func TestNewDocumentProcessTask(t *testing.T) {
	payload := DocumentProcessPayload{DocumentID: uuid.New(), OrganizationID: uuid.New()}
	task, err := NewDocumentProcessTask(payload)
	require.NoError(t, err)
	require.Equal(t, TypeDocumentProcess, task.Type())

	var got DocumentProcessPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &got))
	require.Equal(t, payload, got)
}

type fakeTaskEnqueuer struct {
	task *asynq.Task
	err  error
}

func (f *fakeTaskEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.task = task
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault, Type: task.Type()}, nil
}

func TestQueue_EnqueueProcessing(t *testing.T) {
	client := &fakeTaskEnqueuer{}
	q := NewQueue(client, nil)
	orgID, docID := uuid.New(), uuid.New()

	jobID, queue, err := q.EnqueueProcessing(context.Background(), orgID, docID)
	require.NoError(t, err)
	require.Equal(t, "task-1", jobID)
	require.Equal(t, QueueDefault, queue)

	var payload DocumentProcessPayload
	require.NoError(t, json.Unmarshal(client.task.Payload(), &payload))
	require.Equal(t, docID, payload.DocumentID)
	require.Equal(t, orgID, payload.OrganizationID)

	client.err = errors.New("redis down")
	_, _, err = q.EnqueueProcessing(context.Background(), orgID, docID)
	require.Error(t, err)
}

type fakeLookup struct {
	docs map[uuid.UUID]*documents.Document
	jobs map[string]documents.JobRecord
}

func (f *fakeLookup) Get(ctx context.Context, orgID, id uuid.UUID) (*documents.Document, error) {
	d, ok := f.docs[id]
	if !ok || d.OrgID != orgID {
		return nil, documents.ErrDocumentNotFound
	}
	return d, nil
}

func (f *fakeLookup) GetJob(ctx context.Context, orgID uuid.UUID, jobID string) (*documents.JobRecord, error) {
	j, ok := f.jobs[jobID]
	if !ok || j.OrgID != orgID {
		return nil, documents.ErrJobNotFound
	}
	return &j, nil
}

func (f *fakeLookup) Jobs(ctx context.Context, orgID, documentID uuid.UUID) ([]documents.JobRecord, error) {
	var out []documents.JobRecord
	for _, j := range f.jobs {
		if j.OrgID == orgID && j.DocumentID == documentID {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeInspector map[string]*asynq.TaskInfo

func (f fakeInspector) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	info, ok := f[id]
	if !ok {
		return nil, asynq.ErrTaskNotFound
	}
	return info, nil
}

func newStatusFixture() (*StatusService, uuid.UUID, uuid.UUID) {
	orgID, docID := uuid.New(), uuid.New()
	reason := "extractor rejected document"
	done := time.Now()
	lookup := &fakeLookup{
		docs: map[uuid.UUID]*documents.Document{
			docID: {ID: docID, OrgID: orgID, Status: documents.StatusProcessingFailed, ProcessingError: &reason, UpdatedAt: done},
		},
		jobs: map[string]documents.JobRecord{},
	}
	for _, id := range []string{"active", "completed", "archived", "retry", "expired"} {
		lookup.jobs[id] = documents.JobRecord{JobID: id, DocumentID: docID, OrgID: orgID, Queue: QueueDefault, CreatedAt: done.Add(-time.Minute)}
	}
	inspector := fakeInspector{
		"active":    {ID: "active", State: asynq.TaskStateActive, Result: []byte(`{"progress":40}`)},
		"completed": {ID: "completed", State: asynq.TaskStateCompleted, CompletedAt: done},
		"archived":  {ID: "archived", State: asynq.TaskStateArchived, LastErr: "boom", LastFailedAt: done},
		"retry":     {ID: "retry", State: asynq.TaskStateRetry, LastErr: "timeout"},
	}
	return NewStatusService(lookup, inspector), orgID, docID
}

func TestStatusService_Get(t *testing.T) {
	svc, orgID, _ := newStatusFixture()
	ctx := context.Background()

	st, err := svc.Get(ctx, orgID, "active")
	require.NoError(t, err)
	require.Equal(t, StateActive, st.Status)
	require.Equal(t, 40, st.Progress)
	require.Nil(t, st.ProcessedAt)

	st, err = svc.Get(ctx, orgID, "completed")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, st.Status)
	require.Equal(t, 100, st.Progress)
	require.NotNil(t, st.ProcessedAt)

	st, err = svc.Get(ctx, orgID, "archived")
	require.NoError(t, err)
	require.Equal(t, StateFailed, st.Status)
	require.Equal(t, "boom", st.FailedReason)

	st, err = svc.Get(ctx, orgID, "retry")
	require.NoError(t, err)
	require.Equal(t, StateDelayed, st.Status)
}

func TestStatusService_ExpiredTaskFallsBackToDocument(t *testing.T) {
	svc, orgID, _ := newStatusFixture()

	st, err := svc.Get(context.Background(), orgID, "expired")
	require.NoError(t, err)
	require.Equal(t, StateFailed, st.Status)
	require.Equal(t, "extractor rejected document", st.FailedReason)
}

func TestStatusService_TenantIsolation(t *testing.T) {
	svc, _, _ := newStatusFixture()

	_, err := svc.Get(context.Background(), uuid.New(), "active")
	require.ErrorIs(t, err, documents.ErrJobNotFound)
}

func TestStatusService_ForDocument(t *testing.T) {
	svc, orgID, docID := newStatusFixture()

	statuses, err := svc.ForDocument(context.Background(), orgID, docID)
	require.NoError(t, err)
	require.Len(t, statuses, 5)
}

func TestHandleJobStatus(t *testing.T) {
	svc, orgID, _ := newStatusFixture()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := tenant.WithOrg(req.Context(), tenant.Org{ID: orgID, Role: roles.Member})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/jobs/{job_id}", HandleJobStatus(svc))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/active", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "active", env.Data.ID)
	require.Equal(t, StateActive, env.Data.Status)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeProcessor struct {
	doc        *documents.Document
	content    []byte
	startErr   error
	saved      json.RawMessage
	failReason string
}

func (f *fakeProcessor) StartProcessing(ctx context.Context, orgID, id uuid.UUID) (*documents.Document, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.doc, nil
}

func (f *fakeProcessor) Open(ctx context.Context, doc *documents.Document) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

func (f *fakeProcessor) CompleteProcessing(ctx context.Context, orgID, id uuid.UUID, data json.RawMessage) (*documents.Version, error) {
	f.saved = data
	return &documents.Version{Version: 1}, nil
}

func (f *fakeProcessor) FailProcessing(ctx context.Context, orgID, id uuid.UUID, reason string) error {
	f.failReason = reason
	return nil
}

type extractorFunc func(ctx context.Context, doc *documents.Document, content []byte) (json.RawMessage, error)

func (f extractorFunc) Extract(ctx context.Context, doc *documents.Document, content []byte) (json.RawMessage, error) {
	return f(ctx, doc, content)
}

func processTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewDocumentProcessTask(DocumentProcessPayload{DocumentID: uuid.New(), OrganizationID: uuid.New()})
	require.NoError(t, err)
	return task
}

func TestHandleDocumentProcess_Success(t *testing.T) {
	proc := &fakeProcessor{
		doc:     &documents.Document{ID: uuid.New(), Name: "a.txt", ContentType: "text/plain"},
		content: []byte("hello world"),
	}
	h := NewHandler(proc, MetadataExtractor{}, nil)

	require.NoError(t, h.HandleDocumentProcess(context.Background(), processTask(t)))

	var data map[string]any
	require.NoError(t, json.Unmarshal(proc.saved, &data))
	require.Equal(t, "a.txt", data["file_name"])
	require.EqualValues(t, 2, data["word_count"])
	require.Empty(t, proc.failReason)
}

func TestHandleDocumentProcess_FinalFailureMarksDocument(t *testing.T) {
	proc := &fakeProcessor{doc: &documents.Document{ID: uuid.New()}, content: []byte("x")}
	h := NewHandler(proc, extractorFunc(func(ctx context.Context, doc *documents.Document, content []byte) (json.RawMessage, error) {
		return nil, errors.New("unreadable scan")
	}), nil)

	err := h.HandleDocumentProcess(context.Background(), processTask(t))
	require.Error(t, err)
	require.Equal(t, "unreadable scan", proc.failReason)
}

func TestHandleDocumentProcess_SkipRetryReasonIsClean(t *testing.T) {
	proc := &fakeProcessor{doc: &documents.Document{ID: uuid.New()}, content: []byte("x")}
	h := NewHandler(proc, extractorFunc(func(ctx context.Context, doc *documents.Document, content []byte) (json.RawMessage, error) {
		return nil, errors.Join(errors.New("bad format"), asynq.SkipRetry)
	}), nil)

	err := h.HandleDocumentProcess(context.Background(), processTask(t))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.NotEmpty(t, proc.failReason)
}

func TestHandleDocumentProcess_AlreadyProcessed(t *testing.T) {
	proc := &fakeProcessor{startErr: documents.ErrInvalidTransition}
	h := NewHandler(proc, MetadataExtractor{}, nil)

	require.NoError(t, h.HandleDocumentProcess(context.Background(), processTask(t)))
	require.Nil(t, proc.saved)
}

func TestHandleDocumentProcess_DeletedDocumentSkipsRetry(t *testing.T) {
	proc := &fakeProcessor{startErr: documents.ErrDocumentNotFound}
	h := NewHandler(proc, MetadataExtractor{}, nil)

	err := h.HandleDocumentProcess(context.Background(), processTask(t))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, proc.failReason)
}

func TestHandleDocumentProcess_BadPayload(t *testing.T) {
	h := NewHandler(&fakeProcessor{}, MetadataExtractor{}, nil)

	err := h.HandleDocumentProcess(context.Background(), asynq.NewTask(TypeDocumentProcess, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestFailureReason(t *testing.T) {
	err := errors.New("extractor rejected document (422): nope: " + asynq.SkipRetry.Error())
	require.Equal(t, "extractor rejected document (422): nope", failureReason(err))
}

func TestHTTPExtractor(t *testing.T) {
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("X-Document-Type")
		switch r.Header.Get("X-Document-Name") {
		case "ok.pdf":
			_, _ = w.Write([]byte(`{"extracted_data":{"patient":"A"}}`))
		case "bare.pdf":
			_, _ = w.Write([]byte(`{"patient":"B"}`))
		case "list.pdf":
			_, _ = w.Write([]byte(`[1,2]`))
		case "bad.pdf":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`unsupported`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	e := NewHTTPExtractor(srv.URL+"/", 2000)
	ctx := context.Background()
	doc := func(name string) *documents.Document {
		return &documents.Document{ID: uuid.New(), Name: name, ContentType: "application/pdf", DocumentType: "certificate"}
	}

	data, err := e.Extract(ctx, doc("ok.pdf"), []byte("%PDF-"))
	require.NoError(t, err)
	require.JSONEq(t, `{"patient":"A"}`, string(data))
	require.Equal(t, "certificate", gotType)

	data, err = e.Extract(ctx, doc("bare.pdf"), []byte("%PDF-"))
	require.NoError(t, err)
	require.JSONEq(t, `{"patient":"B"}`, string(data))

	_, err = e.Extract(ctx, doc("list.pdf"), nil)
	require.ErrorIs(t, err, asynq.SkipRetry)

	_, err = e.Extract(ctx, doc("bad.pdf"), nil)
	require.ErrorIs(t, err, asynq.SkipRetry)

	_, err = e.Extract(ctx, doc("down.pdf"), nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestMetadataExtractor_PDF(t *testing.T) {
	content := []byte("%PDF-1.7\n/Type /Pages\n/Type /Page\n/Type /Page\n")
	data, err := MetadataExtractor{}.Extract(context.Background(), &documents.Document{Name: "x.pdf", ContentType: "application/pdf"}, content)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, "pdf", got["format"])
	require.EqualValues(t, 2, got["page_count"])
}
