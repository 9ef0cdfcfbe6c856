package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/documents"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// State is the client-facing job state.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the job will not change state again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// MapState converts an asynq task state to a job state.
func MapState(s asynq.TaskState) State {
	switch s {
	case asynq.TaskStateActive:
		return StateActive
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return StateDelayed
	case asynq.TaskStateCompleted:
		return StateCompleted
	case asynq.TaskStateArchived:
		return StateFailed
	default:
		return StateWaiting
	}
}

// Status is the job view returned to clients.
type Status struct {
	ID           string     `json:"id"`
	DocumentID   uuid.UUID  `json:"document_id"`
	Status       State      `json:"status"`
	Progress     int        `json:"progress"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	FailedReason string     `json:"failed_reason,omitempty"`
}

// Inspector is the part of *asynq.Inspector used to read task state.
type Inspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// DocumentLookup resolves job records and their documents within a tenant.
type DocumentLookup interface {
	Get(ctx context.Context, orgID, id uuid.UUID) (*documents.Document, error)
	GetJob(ctx context.Context, orgID uuid.UUID, jobID string) (*documents.JobRecord, error)
	Jobs(ctx context.Context, orgID, documentID uuid.UUID) ([]documents.JobRecord, error)
}

// StatusService answers job status queries. A job is only visible to the
// organization owning its document.
type StatusService struct {
	docs      DocumentLookup
	inspector Inspector
}

func NewStatusService(docs DocumentLookup, inspector Inspector) *StatusService {
	return &StatusService{docs: docs, inspector: inspector}
}

func (s *StatusService) Get(ctx context.Context, orgID uuid.UUID, jobID string) (*Status, error) {
	rec, err := s.docs.GetJob(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, rec)
}

// ForDocument lists every job queued for a document, newest first.
func (s *StatusService) ForDocument(ctx context.Context, orgID, documentID uuid.UUID) ([]Status, error) {
	recs, err := s.docs.Jobs(ctx, orgID, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(recs))
	for i := range recs {
		st, err := s.resolve(ctx, &recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (s *StatusService) resolve(ctx context.Context, rec *documents.JobRecord) (*Status, error) {
	st := &Status{
		ID:         rec.JobID,
		DocumentID: rec.DocumentID,
		CreatedAt:  rec.CreatedAt,
	}

	info, err := s.inspector.GetTaskInfo(rec.Queue, rec.JobID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return s.fromDocument(ctx, rec, st)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect task: %w", err)
	}

	st.Status = MapState(info.State)
	st.Progress = progressOf(info.Result)
	switch st.Status {
	case StateCompleted:
		st.Progress = 100
		if !info.CompletedAt.IsZero() {
			at := info.CompletedAt
			st.ProcessedAt = &at
		}
	case StateFailed:
		st.FailedReason = info.LastErr
		if !info.LastFailedAt.IsZero() {
			at := info.LastFailedAt
			st.ProcessedAt = &at
		}
	case StateDelayed:
		st.FailedReason = info.LastErr
	}
	return st, nil
}

// fromDocument derives the state of a task the queue no longer retains from
// the document it processed.
func (s *StatusService) fromDocument(ctx context.Context, rec *documents.JobRecord, st *Status) (*Status, error) {
	doc, err := s.docs.Get(ctx, rec.OrgID, rec.DocumentID)
	if err != nil {
		return nil, err
	}

	switch doc.Status {
	case documents.StatusProcessed:
		st.Status = StateCompleted
		st.Progress = 100
		st.ProcessedAt = doc.ProcessedAt
	case documents.StatusProcessingFailed:
		st.Status = StateFailed
		if doc.ProcessingError != nil {
			st.FailedReason = *doc.ProcessingError
		}
		st.ProcessedAt = &doc.UpdatedAt
	default:
		st.Status = StateWaiting
	}
	return st, nil
}

type progressResult struct {
	Progress int `json:"progress"`
}

func progressOf(result []byte) int {
	if len(result) == 0 {
		return 0
	}
	var p progressResult
	if err := json.Unmarshal(result, &p); err != nil {
		return 0
	}
	return clampProgress(p.Progress)
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
