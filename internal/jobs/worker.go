package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/documents"
	"github.com/aliuyar1234/clinicdocs/internal/metrics"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// Processor is the document lifecycle the worker drives.
type Processor interface {
	StartProcessing(ctx context.Context, orgID, id uuid.UUID) (*documents.Document, error)
	Open(ctx context.Context, doc *documents.Document) (io.ReadCloser, error)
	CompleteProcessing(ctx context.Context, orgID, id uuid.UUID, data json.RawMessage) (*documents.Version, error)
	FailProcessing(ctx context.Context, orgID, id uuid.UUID, reason string) error
}

type Handler struct {
	docs      Processor
	extractor Extractor
	metrics   *metrics.Metrics
}

func NewHandler(docs Processor, extractor Extractor, m *metrics.Metrics) *Handler {
	return &Handler{docs: docs, extractor: extractor, metrics: m}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeDocumentProcess, h.HandleDocumentProcess)
}

func (h *Handler) HandleDocumentProcess(ctx context.Context, t *asynq.Task) error {
	var payload DocumentProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	start := time.Now()
	logger := log.With().
		Str("document_id", payload.DocumentID.String()).
		Str("org_id", payload.OrganizationID.String()).
		Logger()

	err := h.process(ctx, t, payload)
	switch {
	case err == nil:
		h.metrics.ObserveJob(TypeDocumentProcess, "ok", time.Since(start))
		logger.Info().Dur("duration", time.Since(start)).Msg("Document processed")
		return nil
	case errors.Is(err, errAlreadyDone):
		h.metrics.ObserveJob(TypeDocumentProcess, "skipped", time.Since(start))
		logger.Info().Msg("Document no longer needs processing")
		return nil
	case errors.Is(err, errDocumentGone):
		h.metrics.ObserveJob(TypeDocumentProcess, "skipped", time.Since(start))
		logger.Warn().Msg("Document deleted before processing")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if !finalAttempt(ctx, err) {
		h.metrics.ObserveJob(TypeDocumentProcess, "retry", time.Since(start))
		logger.Warn().Err(err).Msg("Document processing failed, will retry")
		return err
	}

	h.metrics.ObserveJob(TypeDocumentProcess, "failed", time.Since(start))
	logger.Error().Err(err).Msg("Document processing failed")
	if failErr := h.docs.FailProcessing(context.WithoutCancel(ctx), payload.OrganizationID, payload.DocumentID, failureReason(err)); failErr != nil {
		logger.Error().Err(failErr).Msg("Failed to mark document processing_failed")
	}
	return err
}

var (
	errAlreadyDone  = errors.New("document already processed")
	errDocumentGone = errors.New("document no longer exists")
)

func (h *Handler) process(ctx context.Context, t *asynq.Task, payload DocumentProcessPayload) error {
	reportProgress(t, 5)

	doc, err := h.docs.StartProcessing(ctx, payload.OrganizationID, payload.DocumentID)
	if errors.Is(err, documents.ErrInvalidTransition) {
		return errAlreadyDone
	}
	if errors.Is(err, documents.ErrDocumentNotFound) {
		return errDocumentGone
	}
	if err != nil {
		return err
	}
	reportProgress(t, 20)

	body, err := h.docs.Open(ctx, doc)
	if errors.Is(err, documents.ErrDocumentNotFound) {
		return fmt.Errorf("stored file is missing: %w", asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("failed to download document: %w", err)
	}
	content, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	reportProgress(t, 40)

	data, err := h.extractor.Extract(ctx, doc, content)
	if err != nil {
		return err
	}
	reportProgress(t, 80)

	if _, err := h.docs.CompleteProcessing(ctx, payload.OrganizationID, payload.DocumentID, data); err != nil {
		return fmt.Errorf("failed to save extracted data: %w", err)
	}
	reportProgress(t, 100)
	return nil
}

// failureReason is the message stored on the document.
func failureReason(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+asynq.SkipRetry.Error())
}

// finalAttempt reports whether the queue will not run the task again.
func finalAttempt(ctx context.Context, err error) bool {
	if errors.Is(err, asynq.SkipRetry) {
		return true
	}
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

// reportProgress stores {"progress": p} as the task result so the status
// endpoint can read it while the task runs.
func reportProgress(t *asynq.Task, p int) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	data, _ := json.Marshal(progressResult{Progress: clampProgress(p)})
	if _, err := rw.Write(data); err != nil {
		log.Debug().Err(err).Str("task_id", rw.TaskID()).Msg("Failed to write task progress")
	}
}
