package orgs

import (
	"net/http"
	"strconv"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/rs/zerolog/log"
)

// HandleListAudit handles GET /api/v1/orgs/{org_id}/audit
func HandleListAudit(svc *Service, reader *audit.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orgID, ok := orgIDParam(w, r)
		if !ok {
			return
		}

		if _, err := svc.CheckPermission(ctx, auth.GetUserID(ctx), orgID, roles.ManageSettings); err != nil {
			writeOrgError(w, r, err, "Failed to check permissions")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				limit = v
			}
		}

		events, err := reader.ListByOrg(ctx, orgID, r.URL.Query().Get("action"), limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list audit log")
			apperrors.WriteInternalError(w, r, "Failed to list audit log")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"events": events,
		})
	}
}
