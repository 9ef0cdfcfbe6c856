package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/guard"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// UserIDContextKey is the context key for storing user ID
	UserIDContextKey contextKey = "user_id"
)

// SessionValidator resolves the live session state for a token's user.
type SessionValidator interface {
	LookupSession(ctx context.Context, userID uuid.UUID) (SessionInfo, error)
}

// Middleware authenticates bearer tokens. Requests without an Authorization
// header continue anonymously; a header that fails validation gets 401 so
// clients can send the user back to sign-in.
func Middleware(secret string, sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(header)
			if !ok {
				apperrors.WriteUnauthorized(w, r, "Invalid token")
				return
			}

			claims, err := ValidateToken(token, secret)
			if err != nil {
				log.Debug().Err(err).Msg("Invalid bearer token")
				apperrors.WriteUnauthorized(w, r, "Invalid token")
				return
			}

			info, err := sessions.LookupSession(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, ErrUserNotFound) {
					apperrors.WriteUnauthorized(w, r, "Invalid token")
					return
				}
				log.Error().Err(err).Str("user_id", claims.UserID.String()).Msg("Failed to look up session")
				apperrors.WriteInternalError(w, r, "Failed to validate session")
				return
			}
			if info.TokenVersion != claims.TokenVersion {
				apperrors.WriteUnauthorized(w, r, "Token expired")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDContextKey, claims.UserID)
			ctx = guard.WithSubject(ctx, guard.Subject{
				Authenticated: true,
				GlobalRole:    info.GlobalRole,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAuth is middleware that requires authentication
// Returns 401 if the user is not authenticated
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == uuid.Nil {
			apperrors.WriteUnauthorized(w, r, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserID retrieves the user ID from the request context
// Returns uuid.Nil if no user is authenticated
func GetUserID(ctx context.Context) uuid.UUID {
	userID, ok := ctx.Value(UserIDContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return userID
}
