package jobs

import (
	"errors"
	"net/http"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/documents"
	"github.com/aliuyar1234/clinicdocs/internal/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func writeJobError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, documents.ErrJobNotFound):
		apperrors.WriteNotFound(w, r, "Job not found")
	case errors.Is(err, documents.ErrDocumentNotFound):
		apperrors.WriteNotFound(w, r, "Document not found")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg(fallback)
		apperrors.WriteInternalError(w, r, fallback)
	}
}

// HandleJobStatus handles GET /api/v1/jobs/{job_id}
func HandleJobStatus(svc *StatusService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenant.FromContext(r.Context())
		if !ok {
			apperrors.WriteBadRequest(w, r, "X-Organization-ID header is required")
			return
		}
		jobID := chi.URLParam(r, "job_id")
		if jobID == "" || len(jobID) > 128 {
			apperrors.WriteBadRequest(w, r, "Invalid job ID")
			return
		}

		st, err := svc.Get(r.Context(), org.ID, jobID)
		if err != nil {
			writeJobError(w, r, err, "Failed to load job status")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, st)
	}
}

// HandleDocumentJobs handles GET /api/v1/documents/{document_id}/jobs
func HandleDocumentJobs(svc *StatusService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenant.FromContext(r.Context())
		if !ok {
			apperrors.WriteBadRequest(w, r, "X-Organization-ID header is required")
			return
		}
		documentID, err := uuid.Parse(chi.URLParam(r, "document_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid document ID")
			return
		}

		statuses, err := svc.ForDocument(r.Context(), org.ID, documentID)
		if err != nil {
			writeJobError(w, r, err, "Failed to list jobs")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"jobs": statuses,
		})
	}
}
