package app

import (
	"net/http"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggingMiddleware logs one line per request. Server errors log at error
// level, client errors at warn, and health checks only at debug.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		var ev *zerolog.Event
		switch {
		case rec.status >= http.StatusInternalServerError:
			ev = log.Error()
		case rec.status >= http.StatusBadRequest:
			ev = log.Warn()
		case r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics":
			ev = log.Debug()
		default:
			ev = log.Info()
		}

		if org := r.Header.Get("X-Organization-ID"); org != "" {
			ev = ev.Str("org_header", org)
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int64("bytes", rec.bytes).
			Dur("duration", time.Since(start)).
			Str("request_id", apperrors.GetRequestID(r.Context())).
			Msg("HTTP request")
	})
}

// RecoveryMiddleware turns a handler panic into a 500 envelope.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				log.Error().
					Interface("panic", v).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("request_id", apperrors.GetRequestID(r.Context())).
					Msg("Recovered from handler panic")
				apperrors.WriteInternalError(w, r, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// ContentTypeJSON marks every API response as JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// NoCacheMiddleware keeps session responses out of shared caches.
func NoCacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// CredentialRateLimitMiddleware limits attempts per client IP on endpoints
// that accept credentials or send mail. Each call returns its own limiter.
func CredentialRateLimitMiddleware(rpm int) func(http.Handler) http.Handler {
	return httprate.Limit(
		rpm,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			apperrors.WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "Too many attempts. Try again later.")
		}),
	)
}

// UploadRateLimitMiddleware limits uploads per authenticated user. rpm <= 0
// disables the limit.
func UploadRateLimitMiddleware(rpm int) func(http.Handler) http.Handler {
	if rpm <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		rpm,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "upload:" + auth.GetUserID(r.Context()).String(), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			apperrors.WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "Too many uploads. Try again later.")
		}),
	)
}
