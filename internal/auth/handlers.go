package auth

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/aliuyar1234/clinicdocs/internal/apperrors"
	"github.com/aliuyar1234/clinicdocs/internal/validation"
	"github.com/rs/zerolog/log"
)

// SignupRequest represents the signup request payload
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type CompleteResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// writeServiceError maps service errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var throttled *ThrottledError
	switch {
	case errors.Is(err, validation.ErrInvalidEmail):
		apperrors.WriteBadRequest(w, r, "Invalid email address")
	case errors.Is(err, validation.ErrPasswordTooShort):
		apperrors.WriteBadRequest(w, r, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		apperrors.WriteUnauthorized(w, r, "Invalid credentials")
	case errors.Is(err, ErrEmailTaken):
		apperrors.WriteConflict(w, r, "Email address already registered")
	case errors.Is(err, ErrUserNotFound):
		apperrors.WriteNotFound(w, r, "User not found")
	case errors.Is(err, ErrTokenInvalid):
		apperrors.WriteBadRequest(w, r, "Invalid or unknown token")
	case errors.Is(err, ErrTokenUsed):
		apperrors.WriteConflict(w, r, "Token has already been used")
	case errors.Is(err, ErrTokenExpired):
		apperrors.WriteGone(w, r, "Token has expired")
	case errors.Is(err, ErrAlreadyVerified):
		apperrors.WriteConflict(w, r, "Email address is already verified")
	case errors.As(err, &throttled):
		w.Header().Set("Retry-After", strconv.Itoa(int(throttled.RetryAfter.Seconds())+1))
		apperrors.WriteTooManyRequests(w, r, ErrResendThrottled.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg(fallback)
		apperrors.WriteInternalError(w, r, fallback)
	}
}

// HandleSignup handles POST /api/v1/auth/signup
func HandleSignup(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		session, err := svc.Signup(r.Context(), req.Email, req.Password, req.FullName)
		if err != nil {
			writeServiceError(w, r, err, "Failed to create account")
			return
		}

		log.Info().Str("user_id", session.User.ID.String()).Msg("User signed up successfully")
		apperrors.WriteSuccess(w, r, http.StatusCreated, session)
	}
}

// HandleLogin handles POST /api/v1/auth/login
func HandleLogin(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		session, err := svc.Login(r.Context(), req.Email, req.Password, clientIP(r))
		if err != nil {
			writeServiceError(w, r, err, "Login failed")
			return
		}

		log.Info().Str("user_id", session.User.ID.String()).Msg("User logged in successfully")
		apperrors.WriteSuccess(w, r, http.StatusOK, session)
	}
}

// HandleLogout handles POST /api/v1/auth/logout
func HandleLogout(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := GetUserID(r.Context())
		if err := svc.Logout(r.Context(), userID); err != nil {
			writeServiceError(w, r, err, "Logout failed")
			return
		}

		log.Info().Str("user_id", userID.String()).Msg("User logged out")
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{"message": "Logged out successfully"})
	}
}

// HandleRequestMagicLink handles POST /api/v1/auth/magic-link
func HandleRequestMagicLink(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if err := svc.RequestMagicLink(r.Context(), req.Email); err != nil {
			writeServiceError(w, r, err, "Failed to send sign-in link")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusAccepted, map[string]string{
			"message": "If an account exists for that address, a sign-in link is on its way",
		})
	}
}

// HandleVerifyMagicLink handles POST /api/v1/auth/magic-link/verify
func HandleVerifyMagicLink(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		session, err := svc.VerifyMagicLink(r.Context(), req.Token)
		if err != nil {
			writeServiceError(w, r, err, "Failed to verify sign-in link")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, session)
	}
}

// HandleRequestPasswordReset handles POST /api/v1/auth/password/reset
func HandleRequestPasswordReset(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if err := svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
			writeServiceError(w, r, err, "Failed to send password reset email")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusAccepted, map[string]string{
			"message": "If an account exists for that address, a reset link is on its way",
		})
	}
}

// HandleCompletePasswordReset handles POST /api/v1/auth/password/reset/complete
func HandleCompletePasswordReset(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompleteResetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if err := svc.CompletePasswordReset(r.Context(), req.Token, req.Password); err != nil {
			writeServiceError(w, r, err, "Failed to reset password")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{"message": "Password updated"})
	}
}

// HandleChangePassword handles PUT /api/v1/auth/password
func HandleChangePassword(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChangePasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		session, err := svc.ChangePassword(r.Context(), GetUserID(r.Context()), req.CurrentPassword, req.NewPassword)
		if err != nil {
			writeServiceError(w, r, err, "Failed to change password")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, session)
	}
}

// HandleSession handles GET /api/v1/auth/session
func HandleSession(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := svc.GetUser(r.Context(), GetUserID(r.Context()))
		if err != nil {
			writeServiceError(w, r, err, "Failed to load session")
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{"user": user})
	}
}

// HandleUpdateProfile handles PUT /api/v1/auth/me
func HandleUpdateProfile(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProfileUpdate
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		user, err := svc.UpdateProfile(r.Context(), GetUserID(r.Context()), req)
		if err != nil {
			writeServiceError(w, r, err, "Failed to update profile")
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{"user": user})
	}
}

// HandleVerificationStatus handles GET /api/v1/auth/email/verification
func HandleVerificationStatus(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.VerificationStatus(r.Context(), GetUserID(r.Context()))
		if err != nil {
			writeServiceError(w, r, err, "Failed to load verification status")
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, status)
	}
}

// HandleSendVerification handles POST /api/v1/auth/email/verification/send
func HandleSendVerification(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.SendVerification(r.Context(), GetUserID(r.Context())); err != nil {
			writeServiceError(w, r, err, "Failed to send verification email")
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusAccepted, map[string]string{"message": "Verification email sent"})
	}
}

// HandleVerifyEmail handles POST /api/v1/auth/email/verification/verify
func HandleVerifyEmail(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		status, err := svc.VerifyEmail(r.Context(), req.Token)
		if err != nil {
			writeServiceError(w, r, err, "Failed to verify email")
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, status)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
