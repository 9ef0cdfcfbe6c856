package apiclient

import (
	"encoding/json"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/google/uuid"
)

type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	FullName        string     `json:"full_name"`
	AvatarURL       string     `json:"avatar_url"`
	GlobalRole      roles.Role `json:"global_role"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Session is what login-style endpoints return.
type Session struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ProfileUpdate struct {
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type VerificationStatus struct {
	Email      string     `json:"email"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// Organization is a tenant as listed for the current user.
type Organization struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description"`
	Type        *string    `json:"type,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Role        roles.Role `json:"role,omitempty"`
	IsDefault   bool       `json:"is_default"`
}

type OrganizationDetail struct {
	Organization Organization       `json:"organization"`
	Role         roles.Role         `json:"role"`
	Permissions  []roles.Permission `json:"permissions"`
}

type CreateOrganizationInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
}

type UpdateOrganizationInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type Member struct {
	UserID    uuid.UUID  `json:"user_id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	Role      roles.Role `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

type Invitation struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Email          string     `json:"email"`
	Role           roles.Role `json:"role"`
	Status         string     `json:"status"`
	InvitedByEmail string     `json:"invited_by_email,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`

	// Set only on creation.
	Token     string `json:"token,omitempty"`
	AcceptURL string `json:"accept_url,omitempty"`
}

type InvitationPreview struct {
	OrganizationID   uuid.UUID  `json:"organization_id"`
	OrganizationName string     `json:"organization_name"`
	Email            string     `json:"email"`
	Role             roles.Role `json:"role"`
	Status           string     `json:"status"`
	InvitedByEmail   string     `json:"invited_by_email,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	Expired          bool       `json:"expired"`
}

type AcceptedInvitation struct {
	InvitationID   uuid.UUID  `json:"invitation_id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Role           roles.Role `json:"role"`
}

// Document statuses.
const (
	DocumentUploaded         = "uploaded"
	DocumentProcessing       = "processing"
	DocumentProcessed        = "processed"
	DocumentProcessingFailed = "processing_failed"
)

type Document struct {
	ID                  uuid.UUID  `json:"id"`
	OrganizationID      uuid.UUID  `json:"organization_id"`
	UploadedByUserID    *uuid.UUID `json:"uploaded_by_user_id,omitempty"`
	Name                string     `json:"name"`
	ContentType         string     `json:"content_type"`
	SizeBytes           int64      `json:"size_bytes"`
	SHA256              string     `json:"sha256"`
	DocumentType        string     `json:"document_type"`
	Status              string     `json:"status"`
	ProcessingError     *string    `json:"processing_error,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	ProcessedAt         *time.Time `json:"processed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type DocumentQuery struct {
	Page         int
	Limit        int
	Status       string
	DocumentType string
}

type DataVersion struct {
	ID              uuid.UUID       `json:"id"`
	DocumentID      uuid.UUID       `json:"document_id"`
	Version         int             `json:"version"`
	Source          string          `json:"source"`
	ExtractedData   json.RawMessage `json:"extracted_data"`
	CreatedByUserID *uuid.UUID      `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type ProcessResult struct {
	JobID      string    `json:"job_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Status     string    `json:"status"`
}

// Job states as reported by the API.
const (
	JobWaiting   = "waiting"
	JobActive    = "active"
	JobDelayed   = "delayed"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type JobStatus struct {
	ID           string     `json:"id"`
	DocumentID   uuid.UUID  `json:"document_id"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	FailedReason string     `json:"failed_reason,omitempty"`
}

// Running reports whether the job may still change state.
func (s JobStatus) Running() bool {
	switch s.Status {
	case JobWaiting, JobActive, JobDelayed:
		return true
	}
	return false
}

type Dashboard struct {
	TotalDocuments       int            `json:"total_documents"`
	DocumentsByStatus    map[string]int `json:"documents_by_status"`
	DocumentsLast30Days  int            `json:"documents_last_30_days"`
	DocumentsChange      float64        `json:"documents_change"`
	SuccessRate          float64        `json:"success_rate"`
	SuccessRateChange    float64        `json:"success_rate_change"`
	AvgProcessingSeconds float64        `json:"avg_processing_seconds"`
	ProcessingTimeChange float64        `json:"processing_time_change"`
}

type PeriodStats struct {
	Period          string `json:"period"`
	DocumentCount   int    `json:"document_count"`
	SuccessfulCount int    `json:"successful_count"`
	FailedCount     int    `json:"failed_count"`
}

type TypeCount struct {
	DocumentType string `json:"document_type"`
	Count        int    `json:"count"`
}
