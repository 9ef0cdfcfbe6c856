package analytics

import (
	"net/http"
	"strconv"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/tenant"
	"github.com/rs/zerolog/log"
)

func tenantOrg(w http.ResponseWriter, r *http.Request) (tenant.Org, bool) {
	org, ok := tenant.FromContext(r.Context())
	if !ok {
		apperrors.WriteBadRequest(w, r, "X-Organization-ID header is required")
	}
	return org, ok
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	apperrors.WriteInternalError(w, r, msg)
}

// HandleDashboard handles GET /api/v1/analytics/dashboard
func HandleDashboard(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}

		d, err := svc.Dashboard(r.Context(), org.ID)
		if err != nil {
			writeInternal(w, r, err, "Failed to compute dashboard")
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, d)
	}
}

// HandleDocumentStats handles GET /api/v1/analytics/documents?period=
func HandleDocumentStats(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}
		period, err := ParsePeriod(r.URL.Query().Get("period"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}

		stats, err := svc.DocumentStats(r.Context(), org.ID, period)
		if err != nil {
			writeInternal(w, r, err, "Failed to compute document stats")
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"period": period,
			"series": stats,
		})
	}
}

// HandleProcessingTime handles GET /api/v1/analytics/processing-time
func HandleProcessingTime(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}

		times, err := svc.ProcessingTimes(r.Context(), org.ID)
		if err != nil {
			writeInternal(w, r, err, "Failed to compute processing times")
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"series": times,
		})
	}
}

// HandleDocumentTypes handles GET /api/v1/analytics/document-types
func HandleDocumentTypes(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}

		types, err := svc.DocumentTypes(r.Context(), org.ID)
		if err != nil {
			writeInternal(w, r, err, "Failed to compute document types")
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"document_types": types,
		})
	}
}

// HandleActivity handles GET /api/v1/analytics/activity?limit=
func HandleActivity(reader *audit.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, ok := tenantOrg(w, r)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 10
		}

		events, err := reader.ListByOrg(r.Context(), org.ID, "", limit)
		if err != nil {
			writeInternal(w, r, err, "Failed to load activity")
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"activity": events,
		})
	}
}
