// Package jobs runs document processing on an asynq queue and reports job
// status back to API clients.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeDocumentProcess = "document:process"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"

	// MaxRetry is how many times a failed processing run is retried before
	// the document is marked processing_failed.
	MaxRetry = 3

	// TaskRetention keeps finished tasks inspectable so clients polling a
	// job still see its final state.
	TaskRetention = 24 * time.Hour

	TaskTimeout = 10 * time.Minute
)

// DocumentProcessPayload contains the data for a document processing task
type DocumentProcessPayload struct {
	DocumentID     uuid.UUID `json:"document_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
}

func NewDocumentProcessTask(payload DocumentProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDocumentProcess, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(MaxRetry),
		asynq.Retention(TaskRetention),
		asynq.Timeout(TaskTimeout),
	), nil
}
