package documents

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidTransition = errors.New("document cannot move to that status")
	ErrNotProcessed      = errors.New("document has not been processed")
	ErrEmptyUpload       = errors.New("uploaded file is empty")
	ErrUploadTooLarge    = errors.New("uploaded file is too large")
	ErrInvalidData       = errors.New("extracted data must be a JSON object")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidStatus     = errors.New("invalid document status")
)

// Status is a document's processing state.
//
//	uploaded -> processing -> processed | processing_failed
//	processing_failed -> processing
type Status string

const (
	StatusUploaded         Status = "uploaded"
	StatusProcessing       Status = "processing"
	StatusProcessed        Status = "processed"
	StatusProcessingFailed Status = "processing_failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusProcessed, StatusProcessingFailed:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusUploaded:         {StatusProcessing},
	StatusProcessing:       {StatusProcessed, StatusProcessingFailed},
	StatusProcessingFailed: {StatusProcessing},
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// sourcesOf returns the statuses that may move to the given one.
func sourcesOf(to Status) []string {
	var out []string
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				out = append(out, string(from))
			}
		}
	}
	return out
}

type Document struct {
	ID                  uuid.UUID  `json:"id"`
	OrgID               uuid.UUID  `json:"organization_id"`
	UploadedByUserID    *uuid.UUID `json:"uploaded_by_user_id,omitempty"`
	Name                string     `json:"name"`
	ObjectKey           string     `json:"-"`
	ContentType         string     `json:"content_type"`
	SizeBytes           int64      `json:"size_bytes"`
	SHA256              string     `json:"sha256"`
	DocumentType        string     `json:"document_type"`
	Status              Status     `json:"status"`
	ProcessingError     *string    `json:"processing_error,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	ProcessedAt         *time.Time `json:"processed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// VersionSource records who produced a version of the extracted data.
type VersionSource string

const (
	SourceExtraction VersionSource = "extraction"
	SourceManual     VersionSource = "manual"
)

// Version is one revision of a document's extracted data.
type Version struct {
	ID              uuid.UUID       `json:"id"`
	DocumentID      uuid.UUID       `json:"document_id"`
	Version         int             `json:"version"`
	Source          VersionSource   `json:"source"`
	ExtractedData   json.RawMessage `json:"extracted_data"`
	CreatedByUserID *uuid.UUID      `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// JobRecord links a queued job to its document.
type JobRecord struct {
	JobID      string    `json:"job_id"`
	DocumentID uuid.UUID `json:"document_id"`
	OrgID      uuid.UUID `json:"organization_id"`
	Queue      string    `json:"queue"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListFilter selects a page of an organization's documents.
type ListFilter struct {
	OrgID        uuid.UUID
	Status       Status
	DocumentType string
	Page         int
	Limit        int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Normalize clamps paging to sane values.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	return f
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// ValidateExtractedData accepts only a JSON object.
func ValidateExtractedData(data json.RawMessage) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return ErrInvalidData
	}
	return nil
}
