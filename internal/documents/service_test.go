package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aliuyar1234/clinicdocs/internal/storage"
	"github.com/aliuyar1234/clinicdocs/internal/storage/storagetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *fakeRepo, *storagetest.MemoryStore, *fakeEnqueuer) {
	t.Helper()
	repo := newFakeRepo()
	store := storagetest.NewMemoryStore()
	queue := &fakeEnqueuer{}
	return NewService(repo, store, queue, 1024), repo, store, queue
}

func upload(t *testing.T, svc *Service, orgID uuid.UUID, body string) *Document {
	t.Helper()
	doc, err := svc.Upload(context.Background(), orgID, uuid.New(), UploadInput{
		Filename:     "scan 01.pdf",
		ContentType:  "application/pdf",
		DocumentType: "certificate",
		Size:         int64(len(body)),
		Body:         strings.NewReader(body),
	})
	require.NoError(t, err)
	return doc
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusUploaded, StatusProcessing, true},
		{StatusProcessing, StatusProcessed, true},
		{StatusProcessing, StatusProcessingFailed, true},
		{StatusProcessingFailed, StatusProcessing, true},
		{StatusUploaded, StatusProcessed, false},
		{StatusProcessed, StatusProcessing, false},
		{StatusProcessing, StatusProcessing, false},
		{StatusProcessingFailed, StatusProcessed, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSourcesOf(t *testing.T) {
	require.ElementsMatch(t, []string{"uploaded", "processing_failed"}, sourcesOf(StatusProcessing))
	require.ElementsMatch(t, []string{"processing"}, sourcesOf(StatusProcessed))
	require.Empty(t, sourcesOf(StatusUploaded))
}

func TestListFilter_Normalize(t *testing.T) {
	f := ListFilter{}.Normalize()
	require.Equal(t, 1, f.Page)
	require.Equal(t, defaultPageLimit, f.Limit)
	require.Equal(t, 0, f.Offset())

	f = ListFilter{Page: 3, Limit: 1000}.Normalize()
	require.Equal(t, maxPageLimit, f.Limit)
	require.Equal(t, 200, f.Offset())
}

func TestValidateExtractedData(t *testing.T) {
	require.NoError(t, ValidateExtractedData(json.RawMessage(`{"patient":"A"}`)))
	for _, raw := range []string{``, `null`, `[]`, `"x"`, `{bad`} {
		require.ErrorIs(t, ValidateExtractedData(json.RawMessage(raw)), ErrInvalidData, raw)
	}
}

func TestUpload_StoresObjectUnderOrgPrefix(t *testing.T) {
	svc, _, store, _ := newTestService(t)
	orgID := uuid.New()

	doc := upload(t, svc, orgID, "hello")

	sum := sha256.Sum256([]byte("hello"))
	require.Equal(t, hex.EncodeToString(sum[:]), doc.SHA256)
	require.Equal(t, StatusUploaded, doc.Status)
	require.Equal(t, "scan 01.pdf", doc.Name)
	require.Equal(t, int64(5), doc.SizeBytes)
	require.Equal(t, storage.DocumentKey(orgID, doc.ID, "scan 01.pdf"), doc.ObjectKey)
	require.True(t, strings.HasPrefix(doc.ObjectKey, storage.OrgPrefix(orgID)))
	require.Equal(t, []string{doc.ObjectKey}, store.Keys())
}

func TestUpload_RejectsEmptyAndOversized(t *testing.T) {
	svc, _, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, uuid.New(), uuid.New(), UploadInput{Filename: "a", Body: strings.NewReader("")})
	require.ErrorIs(t, err, ErrEmptyUpload)

	big := strings.Repeat("x", 2048)
	_, err = svc.Upload(ctx, uuid.New(), uuid.New(), UploadInput{Filename: "a", Size: int64(len(big)), Body: strings.NewReader(big)})
	require.ErrorIs(t, err, ErrUploadTooLarge)

	// Declared size can lie; the counted bytes decide.
	_, err = svc.Upload(ctx, uuid.New(), uuid.New(), UploadInput{Filename: "a", Size: -1, Body: strings.NewReader(big)})
	require.ErrorIs(t, err, ErrUploadTooLarge)

	require.Empty(t, store.Keys())
}

func TestGet_IsTenantScoped(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	doc := upload(t, svc, uuid.New(), "data")

	_, err := svc.Get(context.Background(), uuid.New(), doc.ID)
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestRequestProcessing_OnlyFromUploadedOrFailed(t *testing.T) {
	svc, repo, _, queue := newTestService(t)
	ctx := context.Background()
	orgID := uuid.New()
	doc := upload(t, svc, orgID, "data")

	job, err := svc.RequestProcessing(ctx, orgID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, doc.ID, job.DocumentID)
	require.Equal(t, "default", job.Queue)
	require.Equal(t, 1, queue.calls)

	_, err = svc.RequestProcessing(ctx, orgID, doc.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, 1, queue.calls)

	require.NoError(t, svc.FailProcessing(ctx, orgID, doc.ID, "extractor down"))
	failed, err := repo.Get(ctx, orgID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessingFailed, failed.Status)
	require.Equal(t, "extractor down", *failed.ProcessingError)

	_, err = svc.RequestProcessing(ctx, orgID, doc.ID)
	require.NoError(t, err)

	jobs, err := svc.Jobs(ctx, orgID, doc.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "fake enqueuer reuses the job id")
}

func TestRequestProcessing_EnqueueFailureMarksFailed(t *testing.T) {
	svc, repo, _, queue := newTestService(t)
	ctx := context.Background()
	orgID := uuid.New()
	doc := upload(t, svc, orgID, "data")
	queue.err = errors.New("redis down")

	_, err := svc.RequestProcessing(ctx, orgID, doc.ID)
	require.Error(t, err)

	got, err := repo.Get(ctx, orgID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessingFailed, got.Status)
	require.Equal(t, enqueueFailureReason, *got.ProcessingError)
}

func TestProcessingLifecycle_Versions(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	orgID := uuid.New()
	editor := uuid.New()
	doc := upload(t, svc, orgID, "data")

	_, err := svc.UpdateExtractedData(ctx, orgID, doc.ID, editor, json.RawMessage(`{"a":1}`))
	require.ErrorIs(t, err, ErrNotProcessed)
	_, err = svc.ExtractedData(ctx, orgID, doc.ID)
	require.ErrorIs(t, err, ErrNotProcessed)

	_, err = svc.RequestProcessing(ctx, orgID, doc.ID)
	require.NoError(t, err)

	started, err := svc.StartProcessing(ctx, orgID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, started.Status)

	v1, err := svc.CompleteProcessing(ctx, orgID, doc.ID, json.RawMessage(`{"patient":"A"}`))
	require.NoError(t, err)
	require.Equal(t, 1, v1.Version)
	require.Equal(t, SourceExtraction, v1.Source)

	v2, err := svc.UpdateExtractedData(ctx, orgID, doc.ID, editor, json.RawMessage(`{"patient":"B"}`))
	require.NoError(t, err)
	require.Equal(t, 2, v2.Version)
	require.Equal(t, SourceManual, v2.Source)
	require.Equal(t, editor, *v2.CreatedByUserID)

	latest, err := svc.ExtractedData(ctx, orgID, doc.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"patient":"B"}`, string(latest.ExtractedData))

	versions, err := svc.Versions(ctx, orgID, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, 2, versions[0].Version)

	_, err = svc.StartProcessing(ctx, orgID, doc.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteProcessing_AfterFailureStoresNoVersion(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	orgID := uuid.New()
	doc := upload(t, svc, orgID, "data")

	_, err := svc.StartProcessing(ctx, orgID, doc.ID)
	require.NoError(t, err)
	require.NoError(t, svc.FailProcessing(ctx, orgID, doc.ID, "extractor timed out"))

	_, err = svc.CompleteProcessing(ctx, orgID, doc.ID, json.RawMessage(`{"patient":"late"}`))
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Empty(t, repo.versions[doc.ID])

	_, err = svc.CompleteProcessing(ctx, uuid.New(), doc.ID, json.RawMessage(`{"patient":"x"}`))
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestDelete_RemovesObject(t *testing.T) {
	svc, _, store, _ := newTestService(t)
	ctx := context.Background()
	orgID := uuid.New()
	doc := upload(t, svc, orgID, "data")

	require.NoError(t, svc.Delete(ctx, orgID, doc.ID))
	require.Empty(t, store.Keys())
	require.ErrorIs(t, svc.Delete(ctx, orgID, doc.ID), ErrDocumentNotFound)
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "report.pdf", displayName(`C:\Users\me\report.pdf`))
	require.Equal(t, "upload", displayName("   "))
	require.Equal(t, "x.pdf", displayName("../../x.pdf"))

	long := displayName(strings.Repeat("é", 200) + ".pdf")
	require.True(t, utf8.ValidString(long))
	require.LessOrEqual(t, len(long), maxDocumentNameLen)
	require.True(t, strings.HasSuffix(long, "é.pdf"))

	cjk := displayName(strings.Repeat("検査", 60) + ".pdf")
	require.True(t, utf8.ValidString(cjk))
	require.LessOrEqual(t, len(cjk), maxDocumentNameLen)

	require.True(t, utf8.ValidString(displayName("scan\xff.pdf")))
}

func TestKeepHead_RuneBoundary(t *testing.T) {
	require.Equal(t, "abc", keepHead("abc", 5))
	require.Equal(t, "a", keepHead("aé", 2))
	require.Equal(t, "aé", keepHead("aéb", 3))
	require.Empty(t, keepHead("検", 2))
}

func TestUpload_LongMultiByteDocumentType(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	doc, err := svc.Upload(context.Background(), uuid.New(), uuid.New(), UploadInput{
		Filename:     strings.Repeat("ü", 150) + ".pdf",
		DocumentType: strings.Repeat("証明書", 10),
		Size:         4,
		Body:         strings.NewReader("data"),
	})
	require.NoError(t, err)
	require.True(t, utf8.ValidString(doc.DocumentType))
	require.LessOrEqual(t, len(doc.DocumentType), maxDocumentTypeLen)
	require.True(t, utf8.ValidString(doc.Name))

	stored, ok := repo.docs[doc.ID]
	require.True(t, ok)
	require.Equal(t, doc.DocumentType, stored.DocumentType)
}
