// Package session is the client-side auth store: who is signed in, and the
// flows that change it. The bearer token itself lives in apiclient.Identity.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/aliuyar1234/clinicdocs/internal/apiclient"
	"github.com/aliuyar1234/clinicdocs/internal/validation"
	"github.com/rs/zerolog/log"
)

var ErrPasswordRequired = errors.New("password is required")

// AuthAPI is the part of the API client the store calls.
type AuthAPI interface {
	SignUp(ctx context.Context, email, password, fullName string) (*apiclient.Session, error)
	Login(ctx context.Context, email, password string) (*apiclient.Session, error)
	Logout(ctx context.Context) error
	RequestMagicLink(ctx context.Context, email string) error
	VerifyMagicLink(ctx context.Context, token string) (*apiclient.Session, error)
	RequestPasswordReset(ctx context.Context, email string) error
	CompletePasswordReset(ctx context.Context, token, password string) error
	ChangePassword(ctx context.Context, current, next string) (*apiclient.Session, error)
	CurrentUser(ctx context.Context) (*apiclient.User, error)
	UpdateProfile(ctx context.Context, u apiclient.ProfileUpdate) (*apiclient.User, error)
	VerificationStatus(ctx context.Context) (*apiclient.VerificationStatus, error)
	SendVerification(ctx context.Context) error
	VerifyEmail(ctx context.Context, token string) (*apiclient.VerificationStatus, error)
}

// State is a snapshot of the session.
type State struct {
	User          *apiclient.User
	Authenticated bool
	Loading       bool
	Err           error
}

// Store holds the current session. Safe for concurrent use.
type Store struct {
	api      AuthAPI
	identity *apiclient.Identity

	mu    sync.RWMutex
	state State
	subs  []func(authenticated bool)
}

// New creates a store. When authErrors is set the store signs out whenever
// the handler expires the session.
func New(api AuthAPI, identity *apiclient.Identity, authErrors *apiclient.AuthErrorHandler) *Store {
	s := &Store{api: api, identity: identity}
	if authErrors != nil {
		authErrors.OnSignedOut(func() { s.signedOut(nil) })
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

// Subscribe registers fn to run whenever the signed-in state flips.
func (s *Store) Subscribe(fn func(authenticated bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Restore resumes a stored session by asking the server who the token
// belongs to.
func (s *Store) Restore(ctx context.Context) error {
	if s.identity.Token() == "" {
		s.signedOut(nil)
		return nil
	}

	s.setLoading()
	user, err := s.api.CurrentUser(ctx)
	if err != nil {
		if apiclient.IsAuthError(err) {
			s.signedOut(nil)
			return err
		}
		s.fail(err)
		return err
	}

	s.signedIn(user)
	return nil
}

// SignIn authenticates with email and password.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	email, err := validation.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if password == "" {
		return ErrPasswordRequired
	}

	s.setLoading()
	sess, err := s.api.Login(ctx, email, password)
	return s.finish(sess, err)
}

// SignUp creates an account and signs in.
func (s *Store) SignUp(ctx context.Context, email, password, fullName string) error {
	email, err := validation.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := validation.ValidatePassword(password); err != nil {
		return err
	}

	s.setLoading()
	sess, err := s.api.SignUp(ctx, email, password, strings.TrimSpace(fullName))
	return s.finish(sess, err)
}

// RequestMagicLink asks for a passwordless sign-in email.
func (s *Store) RequestMagicLink(ctx context.Context, email string) error {
	email, err := validation.NormalizeEmail(email)
	if err != nil {
		return err
	}
	return s.api.RequestMagicLink(ctx, email)
}

// VerifyMagicLink exchanges a sign-in link token for a session.
func (s *Store) VerifyMagicLink(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apiclient.ErrTokenRequired
	}
	s.setLoading()
	sess, err := s.api.VerifyMagicLink(ctx, token)
	return s.finish(sess, err)
}

// RequestPasswordReset asks for a reset email.
func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := validation.NormalizeEmail(email)
	if err != nil {
		return err
	}
	return s.api.RequestPasswordReset(ctx, email)
}

// CompletePasswordReset sets a new password. It does not sign in; every
// existing session is revoked by the server.
func (s *Store) CompletePasswordReset(ctx context.Context, token, password string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apiclient.ErrTokenRequired
	}
	if err := validation.ValidatePassword(password); err != nil {
		return err
	}
	return s.api.CompletePasswordReset(ctx, token, password)
}

// ChangePassword replaces the password and adopts the new token the server
// issues.
func (s *Store) ChangePassword(ctx context.Context, current, next string) error {
	if current == "" {
		return ErrPasswordRequired
	}
	if err := validation.ValidatePassword(next); err != nil {
		return err
	}
	sess, err := s.api.ChangePassword(ctx, current, next)
	if err != nil {
		return err
	}
	return s.finish(sess, nil)
}

// SignOut ends the session. The server call is best-effort; the local token
// is always dropped.
func (s *Store) SignOut(ctx context.Context) error {
	if s.identity.Token() != "" {
		if err := s.api.Logout(ctx); err != nil && !apiclient.IsAuthError(err) {
			log.Warn().Err(err).Msg("Server logout failed")
		}
	}
	err := s.identity.ClearToken()
	s.signedOut(nil)
	return err
}

// UpdateProfile changes the display name or avatar.
func (s *Store) UpdateProfile(ctx context.Context, u apiclient.ProfileUpdate) (*apiclient.User, error) {
	user, err := s.api.UpdateProfile(ctx, u)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.state.User = user
	s.mu.Unlock()
	return user, nil
}

func (s *Store) VerificationStatus(ctx context.Context) (*apiclient.VerificationStatus, error) {
	return s.api.VerificationStatus(ctx)
}

func (s *Store) SendVerification(ctx context.Context) error {
	return s.api.SendVerification(ctx)
}

// VerifyEmail confirms the address and updates the cached user.
func (s *Store) VerifyEmail(ctx context.Context, token string) (*apiclient.VerificationStatus, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apiclient.ErrTokenRequired
	}
	status, err := s.api.VerifyEmail(ctx, token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state.User != nil && s.state.User.Email == status.Email {
		u := *s.state.User
		u.EmailVerifiedAt = status.VerifiedAt
		s.state.User = &u
	}
	s.mu.Unlock()
	return status, nil
}

func (s *Store) finish(sess *apiclient.Session, err error) error {
	if err != nil {
		s.fail(err)
		return err
	}
	if err := s.identity.SetToken(sess.Token); err != nil {
		s.fail(err)
		return err
	}
	s.signedIn(sess.User)
	return nil
}

func (s *Store) setLoading() {
	s.mu.Lock()
	s.state.Loading = true
	s.state.Err = nil
	s.mu.Unlock()
}

func (s *Store) fail(err error) {
	s.mu.Lock()
	s.state.Loading = false
	s.state.Err = err
	s.mu.Unlock()
}

func (s *Store) signedIn(user *apiclient.User) {
	s.transition(State{User: user, Authenticated: true})
}

func (s *Store) signedOut(err error) {
	s.transition(State{Err: err})
}

func (s *Store) transition(next State) {
	s.mu.Lock()
	changed := s.state.Authenticated != next.Authenticated
	s.state = next
	subs := append([]func(bool){}, s.subs...)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subs {
		fn(next.Authenticated)
	}
}
