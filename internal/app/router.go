package app

import (
	"context"
	"net/http"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/analytics"
	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/config"
	"github.com/aliuyar1234/clinicdocs/internal/documents"
	"github.com/aliuyar1234/clinicdocs/internal/guard"
	"github.com/aliuyar1234/clinicdocs/internal/jobs"
	"github.com/aliuyar1234/clinicdocs/internal/metrics"
	"github.com/aliuyar1234/clinicdocs/internal/orgs"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/storage"
	"github.com/aliuyar1234/clinicdocs/internal/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const credentialAttemptsPerMinute = 10

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps is everything the router serves.
type Deps struct {
	Config *config.Config

	Auth      *auth.Service
	Orgs      *orgs.Service
	Documents *documents.Service
	Jobs      *jobs.StatusService
	Analytics *analytics.Service

	Auditor     *audit.Writer
	AuditReader *audit.Reader
	Invites     orgs.InviteNotifier
	Store       storage.ObjectStore

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// Readiness checks keyed by component name.
	Checks map[string]Pinger
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(apperrors.RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(d.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{d.Config.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", tenant.Header},
		ExposedHeaders:   []string{apperrors.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.Middleware(d.Config.JWTSecret, d.Auth))

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(d.Checks))
	if d.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(d.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/auth", func(r chi.Router) {
			r.Use(NoCacheMiddleware)

			r.Post("/signup", auth.HandleSignup(d.Auth))
			r.With(CredentialRateLimitMiddleware(credentialAttemptsPerMinute)).Post("/login", auth.HandleLogin(d.Auth))
			r.With(CredentialRateLimitMiddleware(credentialAttemptsPerMinute)).Post("/magic-link", auth.HandleRequestMagicLink(d.Auth))
			r.Post("/magic-link/verify", auth.HandleVerifyMagicLink(d.Auth))
			r.With(CredentialRateLimitMiddleware(credentialAttemptsPerMinute)).Post("/password/reset", auth.HandleRequestPasswordReset(d.Auth))
			r.Post("/password/reset/complete", auth.HandleCompletePasswordReset(d.Auth))
			r.Post("/email/verification/verify", auth.HandleVerifyEmail(d.Auth))

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth)
				r.Post("/logout", auth.HandleLogout(d.Auth))
				r.Get("/session", auth.HandleSession(d.Auth))
				r.Put("/me", auth.HandleUpdateProfile(d.Auth))
				r.Put("/password", auth.HandleChangePassword(d.Auth))
				r.Get("/email/verification", auth.HandleVerificationStatus(d.Auth))
				r.Post("/email/verification/send", auth.HandleSendVerification(d.Auth))
			})
		})

		r.Get("/invitations/{token}", orgs.HandlePreviewInvite(d.Orgs))
		r.With(auth.RequireAuth).Post("/invitations/{token}/accept", orgs.HandleAcceptInvite(d.Orgs, d.Auditor))
		r.With(auth.RequireAuth).Post("/invitations/{token}/decline", orgs.HandleDeclineInvite(d.Orgs, d.Auditor))

		r.Route("/orgs", func(r chi.Router) {
			r.Use(auth.RequireAuth)

			r.Get("/", orgs.HandleList(d.Orgs))
			r.Post("/", orgs.HandleCreate(d.Orgs, d.Auditor))

			r.Route("/{org_id}", func(r chi.Router) {
				r.Get("/", orgs.HandleGet(d.Orgs))
				r.Put("/", orgs.HandleUpdate(d.Orgs, d.Auditor))
				r.Delete("/", orgs.HandleDelete(d.Orgs, purgeOrgObjects(d.Store)))
				r.Post("/default", orgs.HandleSetDefault(d.Orgs))

				r.Get("/members", orgs.HandleListMembers(d.Orgs))
				r.Post("/members", orgs.HandleAddMember(d.Orgs, d.Auditor))
				r.Put("/members/{user_id}", orgs.HandleUpdateMemberRole(d.Orgs, d.Auditor))
				r.Delete("/members/{user_id}", orgs.HandleRemoveMember(d.Orgs, d.Auditor))

				r.Get("/invitations", orgs.HandleListInvites(d.Orgs))
				r.Post("/invitations", orgs.HandleCreateInvite(d.Orgs, d.Auditor, d.Invites))
				r.Delete("/invitations/{invite_id}", orgs.HandleCancelInvite(d.Orgs, d.Auditor))

				r.Get("/audit", orgs.HandleListAudit(d.Orgs, d.AuditReader))
			})
		})

		// Tenant-scoped routes resolve X-Organization-ID.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Use(tenant.Middleware(d.Orgs))

			r.Route("/documents", func(r chi.Router) {
				r.With(guard.Require(guard.Permission(roles.ViewDocuments))).Get("/", documents.HandleList(d.Documents))
				r.With(
					guard.Require(guard.Permission(roles.UploadDocuments)),
					UploadRateLimitMiddleware(d.Config.UploadRateRPM),
				).Post("/", documents.HandleUpload(d.Documents, d.Auditor, d.Metrics))

				r.Route("/{document_id}", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(guard.Require(guard.Permission(roles.ViewDocuments)))
						r.Get("/", documents.HandleGet(d.Documents))
						r.Get("/file", documents.HandleDownload(d.Documents))
						r.Get("/extracted-data", documents.HandleGetExtractedData(d.Documents))
						r.Get("/versions", documents.HandleListVersions(d.Documents))
						r.Get("/jobs", jobs.HandleDocumentJobs(d.Jobs))
					})

					r.Group(func(r chi.Router) {
						r.Use(guard.Require(guard.Permission(roles.UploadDocuments)))
						r.Post("/process", documents.HandleProcess(d.Documents, d.Auditor))
						r.Put("/extracted-data", documents.HandleUpdateExtractedData(d.Documents, d.Auditor))
					})

					// Resource-level check happens in the handler.
					r.With(guard.Require(guard.Member())).Delete("/", documents.HandleDelete(d.Documents, d.Auditor))
				})
			})

			r.With(guard.Require(guard.Permission(roles.ViewDocuments))).Get("/jobs/{job_id}", jobs.HandleJobStatus(d.Jobs))

			r.Route("/analytics", func(r chi.Router) {
				r.Use(guard.Require(guard.Permission(roles.ViewAnalytics)))
				r.Get("/dashboard", analytics.HandleDashboard(d.Analytics))
				r.Get("/documents", analytics.HandleDocumentStats(d.Analytics))
				r.Get("/processing-time", analytics.HandleProcessingTime(d.Analytics))
				r.Get("/document-types", analytics.HandleDocumentTypes(d.Analytics))
				r.Get("/activity", analytics.HandleActivity(d.AuditReader))
			})
		})
	})

	return r
}

// purgeOrgObjects removes stored files once an organization row is gone.
// Rows are already cascaded, so failures are logged only.
func purgeOrgObjects(store storage.ObjectStore) func(ctx context.Context, orgID uuid.UUID) {
	if store == nil {
		return nil
	}
	return func(ctx context.Context, orgID uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()

		n, err := store.DeletePrefix(ctx, storage.OrgPrefix(orgID))
		if err != nil {
			log.Error().Err(err).Str("org_id", orgID.String()).Msg("Failed to purge organization objects")
			return
		}
		log.Info().Str("org_id", orgID.String()).Int("objects", n).Msg("Purged organization objects")
	}
}

// handleHealthz returns a simple liveness check
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleReadyz pings every dependency and returns 503 naming the first
// component that fails.
func handleReadyz(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ready"}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("component", name).Msg("Readiness check failed")
				apperrors.WriteServiceUnavailable(w, r, name+" unavailable")
				return
			}
			status[name] = "ok"
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, status)
	}
}
