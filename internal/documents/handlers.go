package documents

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/metrics"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temp files.
const multipartMemory = 8 << 20

func writeDocumentError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		apperrors.WriteNotFound(w, r, "Document not found")
	case errors.Is(err, ErrJobNotFound):
		apperrors.WriteNotFound(w, r, "Job not found")
	case errors.Is(err, ErrInvalidTransition):
		apperrors.WriteConflict(w, r, "Document cannot be processed in its current status")
	case errors.Is(err, ErrNotProcessed):
		apperrors.WriteConflict(w, r, "Document has no extracted data yet")
	case errors.Is(err, ErrUploadTooLarge):
		apperrors.WritePayloadTooLarge(w, r, "File is too large")
	case errors.Is(err, ErrEmptyUpload),
		errors.Is(err, ErrInvalidData),
		errors.Is(err, ErrInvalidStatus):
		apperrors.WriteBadRequest(w, r, err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg(fallback)
		apperrors.WriteInternalError(w, r, fallback)
	}
}

func documentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "document_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid document ID")
		return uuid.Nil, false
	}
	return id, true
}

func tenantOrg(w http.ResponseWriter, r *http.Request) (tenant.Org, bool) {
	org, ok := tenant.FromContext(r.Context())
	if !ok {
		apperrors.WriteBadRequest(w, r, "X-Organization-ID header is required")
		return tenant.Org{}, false
	}
	return org, true
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

// HandleList handles GET /api/v1/documents
func HandleList(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}

		filter := ListFilter{
			OrgID:        org.ID,
			Status:       Status(r.URL.Query().Get("status")),
			DocumentType: r.URL.Query().Get("type"),
			Page:         queryInt(r, "page"),
			Limit:        queryInt(r, "limit"),
		}.Normalize()
		if filter.Status != "" && !filter.Status.IsValid() {
			apperrors.WriteBadRequest(w, r, "Invalid status filter")
			return
		}

		docs, total, err := svc.List(r.Context(), filter)
		if err != nil {
			writeDocumentError(w, r, err, "Failed to list documents")
			return
		}

		apperrors.WritePage(w, r, docs, apperrors.Meta{
			Total: total,
			Page:  filter.Page,
			Limit: filter.Limit,
		})
	}
}

// HandleUpload handles POST /api/v1/documents (multipart field "file").
func HandleUpload(svc *Service, auditor *audit.Writer, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}

		if limit := svc.MaxUploadBytes(); limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				apperrors.WritePayloadTooLarge(w, r, "File is too large")
				return
			}
			apperrors.WriteBadRequest(w, r, "Invalid multipart body")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile("file")
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Missing file field")
			return
		}
		defer file.Close()

		doc, err := svc.Upload(ctx, org.ID, userID, UploadInput{
			Filename:     header.Filename,
			ContentType:  header.Header.Get("Content-Type"),
			DocumentType: r.FormValue("document_type"),
			Size:         header.Size,
			Body:         file,
		})
		if err != nil {
			writeDocumentError(w, r, err, "Failed to upload document")
			return
		}

		m.ObserveUpload(doc.SizeBytes)
		auditor.LogDocumentEvent(ctx, org.ID, userID, doc.ID, audit.EventDocumentUploaded)

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"document": doc,
		})
	}
}

// HandleGet handles GET /api/v1/documents/{document_id}
func HandleGet(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}
		id, ok := documentIDParam(w, r)
		if !ok {
			return
		}

		doc, err := svc.Get(r.Context(), org.ID, id)
		if err != nil {
			writeDocumentError(w, r, err, "Failed to load document")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"document": doc,
		})
	}
}

// HandleDownload handles GET /api/v1/documents/{document_id}/file
func HandleDownload(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}
		id, ok := documentIDParam(w, r)
		if !ok {
			return
		}

		doc, err := svc.Get(ctx, org.ID, id)
		if err != nil {
			writeDocumentError(w, r, err, "Failed to load document")
			return
		}
		body, err := svc.Open(ctx, doc)
		if err != nil {
			writeDocumentError(w, r, err, "Failed to read document")
			return
		}
		defer body.Close()

		w.Header().Set("Content-Type", doc.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
		w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Name+`"`)
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			log.Warn().Err(err).Str("document_id", id.String()).Msg("Document download interrupted")
		}
	}
}

// HandleDelete handles DELETE /api/v1/documents/{document_id}. Admins may
// delete any document; members only their own uploads.
func HandleDelete(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}
		id, ok := documentIDParam(w, r)
		if !ok {
			return
		}

		doc, err := svc.Get(ctx, org.ID, id)
		if err != nil {
			writeDocumentError(w, r, err, "Failed to delete document")
			return
		}

		res := roles.Resource{Kind: roles.ResourceDocument, ID: doc.ID}
		if doc.UploadedByUserID != nil {
			res.CreatedBy = *doc.UploadedByUserID
		}
		actor := roles.Actor{UserID: userID, OrgID: org.ID, Role: org.Role}
		if !roles.CanPerformAction(actor, "delete", res) {
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}

		if err := svc.Delete(ctx, org.ID, id); err != nil {
			writeDocumentError(w, r, err, "Failed to delete document")
			return
		}

		auditor.LogDocumentEvent(ctx, org.ID, userID, id, audit.EventDocumentDeleted)

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"deleted": true,
		})
	}
}

// HandleProcess handles POST /api/v1/documents/{document_id}/process
func HandleProcess(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}
		id, ok := documentIDParam(w, r)
		if !ok {
			return
		}

		job, err := svc.RequestProcessing(ctx, org.ID, id)
		if err != nil {
			writeDocumentError(w, r, err, "Failed to queue document processing")
			return
		}

		auditor.Record(ctx, org.ID, userID, audit.EventDocumentProcessQueued, map[string]any{
			"document_id": id.String(),
			"job_id":      job.JobID,
		})

		apperrors.WriteSuccess(w, r, http.StatusAccepted, map[string]any{
			"job_id":      job.JobID,
			"document_id": id,
			"status":      StatusProcessing,
		})
	}
}

// HandleGetExtractedData handles GET /api/v1/documents/{document_id}/extracted-data
func HandleGetExtractedData(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}
		id, ok := documentIDParam(w, r)
		if !ok {
			return
		}

		v, err := svc.ExtractedData(r.Context(), org.ID, id)
		if err != nil {
			writeDocumentError(w, r, err, "Failed to load extracted data")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"version": v,
		})
	}
}

type ExtractedDataRequest struct {
	ExtractedData json.RawMessage `json:"extracted_data"`
}

// HandleUpdateExtractedData handles PUT /api/v1/documents/{document_id}/extracted-data
func HandleUpdateExtractedData(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}
		id, ok := documentIDParam(w, r)
		if !ok {
			return
		}

		var req ExtractedDataRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		v, err := svc.UpdateExtractedData(ctx, org.ID, id, userID, req.ExtractedData)
		if err != nil {
			writeDocumentError(w, r, err, "Failed to update extracted data")
			return
		}

		auditor.Record(ctx, org.ID, userID, audit.EventDocumentDataUpdated, map[string]any{
			"document_id": id.String(),
			"version":     v.Version,
		})

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"version": v,
		})
	}
}

// HandleListVersions handles GET /api/v1/documents/{document_id}/versions
func HandleListVersions(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}
		id, ok := documentIDParam(w, r)
		if !ok {
			return
		}

		versions, err := svc.Versions(r.Context(), org.ID, id)
		if err != nil {
			writeDocumentError(w, r, err, "Failed to list versions")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"versions": versions,
		})
	}
}
