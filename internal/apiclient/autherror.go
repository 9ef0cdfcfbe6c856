package apiclient

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// LoginPath is the login entry point.
const LoginPath = "/login"

// Navigator moves the user to another location.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// AuthErrorHandler is the one place a rejected session is handled: it
// clears the token, remembers where the user was and sends them to login.
type AuthErrorHandler struct {
	identity *Identity
	nav      Navigator
	location func() string

	mu        sync.Mutex
	listeners []func()
}

// NewAuthErrorHandler wires the handler. location reports the user's current
// path and may be nil.
func NewAuthErrorHandler(identity *Identity, nav Navigator, location func() string) *AuthErrorHandler {
	return &AuthErrorHandler{identity: identity, nav: nav, location: location}
}

// OnSignedOut registers fn to run after the handler expires a session.
func (h *AuthErrorHandler) OnSignedOut(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Handle reports whether err is an auth error. Only the first failure for a
// given token clears it and navigates; the rest are absorbed. Switching
// organizations while a request is in flight does not absorb its failure.
func (h *AuthErrorHandler) Handle(err error) bool {
	if !IsAuthError(err) {
		return false
	}

	gen := h.identity.TokenGeneration()
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		gen = apiErr.gen
	}

	redirect := ""
	if h.location != nil {
		if loc := h.location(); loc != "" && loc != LoginPath {
			redirect = loc
		}
	}

	expired, saveErr := h.identity.expireIfCurrent(gen, redirect)
	if saveErr != nil {
		log.Warn().Err(saveErr).Msg("Failed to persist cleared session")
	}
	if !expired {
		return true
	}

	log.Info().Str("redirect", redirect).Msg("Session expired, signing out")

	h.mu.Lock()
	listeners := append([]func(){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}

	if h.nav != nil {
		h.nav.Navigate(LoginPath)
	}
	return true
}
