package guard

import (
	"context"
	"net/http"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/rs/zerolog/log"
)

type subjectKey struct{}

// WithSubject stores s on ctx.
func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, s)
}

// SubjectFrom returns the subject stored on ctx, or an anonymous one.
func SubjectFrom(ctx context.Context) Subject {
	s, _ := ctx.Value(subjectKey{}).(Subject)
	return s
}

// Require rejects requests whose subject does not pass p.
// Anonymous callers get 401, signed-in callers 403.
func Require(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := SubjectFrom(r.Context())
			if p.Allow(s) {
				next.ServeHTTP(w, r)
				return
			}

			if !s.Authenticated {
				apperrors.WriteUnauthorized(w, r, "Authentication required")
				return
			}

			log.Debug().
				Str("role", string(s.Role())).
				Str("required_role", string(p.RequiredRole)).
				Str("required_permission", string(p.RequiredPermission)).
				Str("path", r.URL.Path).
				Msg("Guard denied request")
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
		})
	}
}
