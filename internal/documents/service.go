package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/aliuyar1234/clinicdocs/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultContentType   = "application/octet-stream"
	maxDocumentTypeLen   = 64
	maxDocumentNameLen   = 255
	enqueueFailureReason = "failed to queue processing job"
)

// Enqueuer queues a processing job for a document and returns its id and
// queue name.
type Enqueuer interface {
	EnqueueProcessing(ctx context.Context, orgID, documentID uuid.UUID) (jobID, queue string, err error)
}

type Service struct {
	repo           Repository
	store          storage.ObjectStore
	queue          Enqueuer
	maxUploadBytes int64
}

func NewService(repo Repository, store storage.ObjectStore, queue Enqueuer, maxUploadBytes int64) *Service {
	return &Service{repo: repo, store: store, queue: queue, maxUploadBytes: maxUploadBytes}
}

// UploadInput is one file received from a client.
type UploadInput struct {
	Filename     string
	ContentType  string
	DocumentType string
	Size         int64
	Body         io.ReadSeeker
}

func (s *Service) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

// Upload stores the file under the organization's prefix and records it with
// status uploaded.
func (s *Service) Upload(ctx context.Context, orgID, userID uuid.UUID, in UploadInput) (*Document, error) {
	if in.Size == 0 {
		return nil, ErrEmptyUpload
	}
	if s.maxUploadBytes > 0 && in.Size > s.maxUploadBytes {
		return nil, ErrUploadTooLarge
	}

	docType := keepHead(strings.TrimSpace(strings.ToValidUTF8(in.DocumentType, "")), maxDocumentTypeLen)
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	hasher := sha256.New()
	n, err := io.Copy(hasher, in.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyUpload
	}
	if s.maxUploadBytes > 0 && n > s.maxUploadBytes {
		return nil, ErrUploadTooLarge
	}
	if _, err := in.Body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind upload: %w", err)
	}

	doc := &Document{
		ID:           uuid.New(),
		OrgID:        orgID,
		Name:         displayName(in.Filename),
		ContentType:  contentType,
		SizeBytes:    n,
		SHA256:       hex.EncodeToString(hasher.Sum(nil)),
		DocumentType: docType,
		Status:       StatusUploaded,
	}
	if userID != uuid.Nil {
		doc.UploadedByUserID = &userID
	}
	doc.ObjectKey = storage.DocumentKey(orgID, doc.ID, doc.Name)

	if err := s.store.Put(ctx, doc.ObjectKey, in.Body, n, contentType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if err := s.repo.Insert(ctx, doc); err != nil {
		if delErr := s.store.Delete(ctx, doc.ObjectKey); delErr != nil {
			log.Warn().Err(delErr).Str("object_key", doc.ObjectKey).Msg("Failed to remove orphaned upload")
		}
		return nil, err
	}

	log.Info().
		Str("org_id", orgID.String()).
		Str("document_id", doc.ID.String()).
		Int64("size_bytes", n).
		Msg("Document uploaded")

	return doc, nil
}

func displayName(filename string) string {
	name := strings.ToValidUTF8(filename, "\uFFFD")
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "upload"
	}
	// Keep the tail so the extension survives.
	return keepTail(name, maxDocumentNameLen)
}

// keepHead cuts s to at most n bytes without splitting a rune.
func keepHead(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// keepTail keeps at most the last n bytes of s without splitting a rune.
func keepTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Document, int, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, 0, ErrInvalidStatus
	}
	return s.repo.List(ctx, f.Normalize())
}

func (s *Service) Get(ctx context.Context, orgID, id uuid.UUID) (*Document, error) {
	return s.repo.Get(ctx, orgID, id)
}

// Open streams the stored file of a document.
func (s *Service) Open(ctx context.Context, doc *Document) (io.ReadCloser, error) {
	body, err := s.store.Get(ctx, doc.ObjectKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	return body, err
}

// Delete removes the document row, then its stored object. A failed object
// delete is logged and does not fail the call.
func (s *Service) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	doc, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, orgID, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, doc.ObjectKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("object_key", doc.ObjectKey).Msg("Failed to delete document object")
	}
	return nil
}

// RequestProcessing moves the document to processing and queues a job. If
// the job cannot be queued the document is marked processing_failed so it can
// be retried.
func (s *Service) RequestProcessing(ctx context.Context, orgID, id uuid.UUID) (*JobRecord, error) {
	if _, err := s.repo.Transition(ctx, orgID, id, StatusProcessing, ""); err != nil {
		return nil, err
	}

	jobID, queue, err := s.queue.EnqueueProcessing(ctx, orgID, id)
	if err != nil {
		if _, tErr := s.repo.Transition(ctx, orgID, id, StatusProcessingFailed, enqueueFailureReason); tErr != nil {
			log.Error().Err(tErr).Str("document_id", id.String()).Msg("Failed to mark document after enqueue error")
		}
		return nil, fmt.Errorf("failed to enqueue processing: %w", err)
	}

	return s.repo.RecordJob(ctx, jobID, id, queue)
}

// StartProcessing is called by the worker. A document already in processing
// is returned unchanged so retries are idempotent.
func (s *Service) StartProcessing(ctx context.Context, orgID, id uuid.UUID) (*Document, error) {
	doc, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == StatusProcessing {
		return doc, nil
	}
	return s.repo.Transition(ctx, orgID, id, StatusProcessing, "")
}

// CompleteProcessing marks the document processed and stores extracted data
// as a new extraction version. A document that cannot move to processed
// gets no version.
func (s *Service) CompleteProcessing(ctx context.Context, orgID, id uuid.UUID, data json.RawMessage) (*Version, error) {
	if err := ValidateExtractedData(data); err != nil {
		return nil, err
	}
	return s.repo.CompleteProcessing(ctx, orgID, id, data)
}

// FailProcessing marks the document processing_failed with reason.
func (s *Service) FailProcessing(ctx context.Context, orgID, id uuid.UUID, reason string) error {
	_, err := s.repo.Transition(ctx, orgID, id, StatusProcessingFailed, reason)
	return err
}

// ExtractedData returns the latest version of a document's extracted data.
func (s *Service) ExtractedData(ctx context.Context, orgID, id uuid.UUID) (*Version, error) {
	if _, err := s.repo.Get(ctx, orgID, id); err != nil {
		return nil, err
	}
	return s.repo.LatestVersion(ctx, id)
}

// UpdateExtractedData saves an edit as a new manual version. Only processed
// documents have data to edit.
func (s *Service) UpdateExtractedData(ctx context.Context, orgID, id, userID uuid.UUID, data json.RawMessage) (*Version, error) {
	if err := ValidateExtractedData(data); err != nil {
		return nil, err
	}
	doc, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusProcessed {
		return nil, ErrNotProcessed
	}
	return s.repo.SaveVersion(ctx, id, SourceManual, data, &userID)
}

func (s *Service) Versions(ctx context.Context, orgID, id uuid.UUID) ([]Version, error) {
	if _, err := s.repo.Get(ctx, orgID, id); err != nil {
		return nil, err
	}
	return s.repo.ListVersions(ctx, id)
}

func (s *Service) Jobs(ctx context.Context, orgID, id uuid.UUID) ([]JobRecord, error) {
	if _, err := s.repo.Get(ctx, orgID, id); err != nil {
		return nil, err
	}
	return s.repo.ListJobs(ctx, orgID, id)
}

func (s *Service) GetJob(ctx context.Context, orgID uuid.UUID, jobID string) (*JobRecord, error) {
	return s.repo.GetJob(ctx, orgID, jobID)
}
