package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/analytics"
	"github.com/aliuyar1234/clinicdocs/internal/apiclient"
	"github.com/aliuyar1234/clinicdocs/internal/app"
	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/config"
	"github.com/aliuyar1234/clinicdocs/internal/documents"
	"github.com/aliuyar1234/clinicdocs/internal/guard"
	"github.com/aliuyar1234/clinicdocs/internal/jobs"
	"github.com/aliuyar1234/clinicdocs/internal/mailer"
	"github.com/aliuyar1234/clinicdocs/internal/metrics"
	"github.com/aliuyar1234/clinicdocs/internal/orgctx"
	"github.com/aliuyar1234/clinicdocs/internal/orgs"
	"github.com/aliuyar1234/clinicdocs/internal/poller"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/session"
	"github.com/aliuyar1234/clinicdocs/internal/storage/storagetest"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// capturingQueue records enqueued tasks so the test can run them in-process.
type capturingQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *capturingQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString(), Queue: jobs.QueueDefault, Type: task.Type()}, nil
}

func (q *capturingQueue) drain() []*asynq.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.tasks
	q.tasks = nil
	return out
}

// retiredInspector behaves like a queue whose tasks were already cleaned up,
// so job status falls back to the document row.
type retiredInspector struct{}

func (retiredInspector) GetTaskInfo(string, string) (*asynq.TaskInfo, error) {
	return nil, asynq.ErrTaskNotFound
}

type testEnv struct {
	server  *httptest.Server
	pool    *pgxpool.Pool
	queue   *capturingQueue
	store   *storagetest.MemoryStore
	docs    *documents.Service
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pool := newTestDB(t)

	cfg := &config.Config{
		Env:            "dev",
		BaseURL:        "http://localhost:3000",
		JWTSecret:      testJWTSecret,
		SessionDays:    7,
		MaxUploadBytes: 5 << 20,
		UploadRateRPM:  100,
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	auditor := audit.NewWriter(pool)
	store := storagetest.NewMemoryStore()
	queue := &capturingQueue{}
	docs := documents.NewService(documents.NewPGRepository(pool), store, jobs.NewQueue(queue, m), cfg.MaxUploadBytes)

	router := app.NewRouter(app.Deps{
		Config:      cfg,
		Auth:        newAuthService(t, pool),
		Orgs:        orgs.NewService(pool),
		Documents:   docs,
		Jobs:        jobs.NewStatusService(docs, retiredInspector{}),
		Analytics:   analytics.NewService(pool),
		Auditor:     auditor,
		AuditReader: audit.NewReader(pool),
		Invites:     mailer.New(mailer.Config{BaseURL: cfg.BaseURL}),
		Store:       store,
		Metrics:     m,
		Gatherer:    registry,
		Checks:      map[string]app.Pinger{"db": pool, "storage": store},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, pool: pool, queue: queue, store: store, docs: docs, metrics: m}
}

// runQueued executes every captured task the way the worker would.
func (e *testEnv) runQueued(t *testing.T) {
	t.Helper()
	h := jobs.NewHandler(e.docs, jobs.MetadataExtractor{}, e.metrics)
	for _, task := range e.queue.drain() {
		require.NoError(t, h.HandleDocumentProcess(context.Background(), task))
	}
}

// user is one signed-in client with its own identity and stores.
type user struct {
	identity    *apiclient.Identity
	client      *apiclient.Client
	session     *session.Store
	orgs        *orgctx.Store
	navigations atomic.Int32
}

func (e *testEnv) newUser(t *testing.T) *user {
	t.Helper()
	id, err := apiclient.NewIdentity(nil)
	require.NoError(t, err)

	u := &user{identity: id}
	nav := apiclient.NavigatorFunc(func(string) { u.navigations.Add(1) })
	authErrors := apiclient.NewAuthErrorHandler(id, nav, func() string { return "/documents" })
	u.client = apiclient.New(e.server.URL, id,
		apiclient.WithAuthErrorHandler(authErrors),
		apiclient.WithRetryBackoff(time.Millisecond, time.Millisecond),
	)
	u.session = session.New(u.client, id, authErrors)
	u.orgs = orgctx.New(u.client, id)
	return u
}

func (u *user) subject() guard.Subject {
	st := u.session.Snapshot()
	s := guard.Subject{Authenticated: st.User != nil, OrgRole: u.orgs.Snapshot().ActiveRole()}
	if st.User != nil {
		s.GlobalRole = st.User.GlobalRole
	}
	return s
}

func TestIntegration_DocumentWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newUser(t)
	require.NoError(t, owner.session.SignUp(ctx, "owner@clinic.example", "correct-horse-battery", "Olivia Owner"))
	require.NoError(t, owner.orgs.Refresh(ctx))
	require.Nil(t, owner.orgs.Snapshot().Active)

	_, err := owner.orgs.CreateOrganization(ctx, orgctx.CreateInput{Name: "North Clinic", Type: "healthcare_facility"})
	require.NoError(t, err)
	active := owner.orgs.Snapshot().Active
	require.NotNil(t, active)
	require.Equal(t, "north-clinic", active.Slug)
	require.Equal(t, roles.Owner, active.Role)
	require.Equal(t, active.ID.String(), owner.identity.OrganizationID())

	nurse := env.newUser(t)
	require.NoError(t, nurse.session.SignUp(ctx, "nurse@clinic.example", "correct-horse-battery", "Nick Nurse"))

	inv, err := owner.orgs.InviteMember(ctx, active.ID, "nurse@clinic.example", roles.Member)
	require.NoError(t, err)
	require.NotEmpty(t, inv.Token)

	accepted, err := nurse.client.AcceptInvitation(ctx, inv.Token)
	require.NoError(t, err)
	require.Equal(t, roles.Member, accepted.Role)

	require.NoError(t, nurse.orgs.Refresh(ctx))
	require.Equal(t, active.ID, nurse.orgs.Snapshot().Active.ID)
	require.Equal(t, roles.Member, nurse.orgs.Snapshot().ActiveRole())

	// The client-side guard and the server agree on analytics access.
	require.False(t, guard.Permission(roles.ViewAnalytics).Allow(nurse.subject()))
	_, err = nurse.client.Dashboard(ctx)
	require.True(t, apiclient.IsStatus(err, http.StatusForbidden))
	require.True(t, guard.Permission(roles.ViewAnalytics).Allow(owner.subject()))

	body := []byte("%PDF-1.4\n1 0 obj << /Type /Page >> endobj\n%%EOF\n")
	doc, err := nurse.client.UploadDocument(ctx, "license.pdf", "license", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, apiclient.DocumentUploaded, doc.Status)
	require.Len(t, env.store.Keys(), 1)

	result, err := nurse.client.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, result.JobID)

	env.runQueued(t)

	p := poller.New(nurse.client, nurse.identity)
	p.Interval = 10 * time.Millisecond
	completions := 0
	status, err := p.Watch(ctx, result.JobID, func(apiclient.JobStatus) { completions++ })
	require.NoError(t, err)
	require.Equal(t, apiclient.JobCompleted, status.Status)
	require.Equal(t, 1, completions)

	version, err := nurse.client.ExtractedData(ctx, doc.ID)
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal(version.ExtractedData, &data))
	require.Equal(t, "pdf", data["format"])
	require.Equal(t, "license", data["document_type"])

	dash, err := owner.client.Dashboard(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, dash.TotalDocuments)

	// Deleting the organization purges its rows and stored objects.
	require.NoError(t, owner.client.DeleteOrganization(ctx, active.ID))
	require.Empty(t, env.store.Keys())
	require.Zero(t, countRows(t, env.pool, `SELECT COUNT(*) FROM documents WHERE org_id = $1`, active.ID))
}

func TestIntegration_TenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.newUser(t)
	require.NoError(t, alice.session.SignUp(ctx, "alice@north.example", "correct-horse-battery", "Alice"))
	_, err := alice.orgs.CreateOrganization(ctx, orgctx.CreateInput{Name: "North"})
	require.NoError(t, err)
	north := alice.orgs.Snapshot().Active

	bob := env.newUser(t)
	require.NoError(t, bob.session.SignUp(ctx, "bob@south.example", "correct-horse-battery", "Bob"))
	_, err = bob.orgs.CreateOrganization(ctx, orgctx.CreateInput{Name: "South"})
	require.NoError(t, err)

	doc, err := alice.client.UploadDocument(ctx, "notes.txt", "notes", bytes.NewReader([]byte("patient intake\n")))
	require.NoError(t, err)

	// Bob's own tenant does not see North's document.
	_, err = bob.client.GetDocument(ctx, doc.ID)
	require.True(t, apiclient.IsStatus(err, http.StatusNotFound))

	// Naming North directly does not help either.
	require.NoError(t, bob.identity.SetOrganizationID(north.ID.String()))
	_, err = bob.client.GetDocument(ctx, doc.ID)
	require.True(t, apiclient.IsStatus(err, http.StatusNotFound))

	list, _, err := alice.client.ListDocuments(ctx, apiclient.DocumentQuery{})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestIntegration_ExpiredInvitationOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newUser(t)
	require.NoError(t, owner.session.SignUp(ctx, "owner@clinic.example", "correct-horse-battery", "Owner"))
	_, err := owner.orgs.CreateOrganization(ctx, orgctx.CreateInput{Name: "Late Clinic"})
	require.NoError(t, err)
	org := owner.orgs.Snapshot().Active

	inv, err := owner.orgs.InviteMember(ctx, org.ID, "late@clinic.example", roles.Admin)
	require.NoError(t, err)
	_, err = env.pool.Exec(ctx, `UPDATE org_invitations SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1`, inv.ID)
	require.NoError(t, err)

	late := env.newUser(t)
	require.NoError(t, late.session.SignUp(ctx, "late@clinic.example", "correct-horse-battery", "Late"))

	preview, err := late.client.PreviewInvitation(ctx, inv.Token)
	require.NoError(t, err)
	require.True(t, preview.Expired)

	_, err = late.client.AcceptInvitation(ctx, inv.Token)
	require.Error(t, err)

	require.NoError(t, late.orgs.Refresh(ctx))
	require.Empty(t, late.orgs.Snapshot().Organizations)
	require.Zero(t, late.navigations.Load())
}

func TestIntegration_RevokedSessionNavigatesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.newUser(t)
	require.NoError(t, u.session.SignUp(ctx, "revoked@clinic.example", "correct-horse-battery", "Revoked"))
	_, err := u.orgs.CreateOrganization(ctx, orgctx.CreateInput{Name: "Revoked Clinic"})
	require.NoError(t, err)

	_, err = env.pool.Exec(ctx, `UPDATE users SET token_version = token_version + 1 WHERE email = $1`, "revoked@clinic.example")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := u.client.ListOrganizations(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.True(t, apiclient.IsStatus(err, http.StatusUnauthorized), "got %v", err)
	}

	require.Equal(t, int32(1), u.navigations.Load())
	require.Empty(t, u.identity.Token())
	require.Equal(t, "/documents", u.identity.RedirectTo())
	require.Nil(t, u.session.Snapshot().User)

	// Signing in again restores access without another navigation.
	require.NoError(t, u.session.SignIn(ctx, "revoked@clinic.example", "correct-horse-battery"))
	_, err = u.client.ListOrganizations(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), u.navigations.Load())
}
