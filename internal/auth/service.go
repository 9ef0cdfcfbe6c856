package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/aliuyar1234/clinicdocs/internal/validation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email address already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenUsed          = errors.New("token already used")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrResendThrottled    = errors.New("please wait before requesting another email")
)

// ThrottledError carries how long the caller must wait. It matches
// ErrResendThrottled under errors.Is.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s (retry in %s)", ErrResendThrottled, e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Is(target error) bool {
	return target == ErrResendThrottled
}

// Notifier delivers the emails the auth flows depend on.
type Notifier interface {
	SendVerification(ctx context.Context, to, token string) error
	SendMagicLink(ctx context.Context, to, token string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// Limiter gates repeated email sends per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// User is the public view of an account.
type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	FullName        string     `json:"full_name"`
	AvatarURL       string     `json:"avatar_url"`
	GlobalRole      roles.Role `json:"global_role"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Session is a freshly issued bearer token for a user.
type Session struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionInfo is what the middleware needs to accept a token.
type SessionInfo struct {
	TokenVersion int
	GlobalRole   roles.Role
}

// VerificationStatus describes a user's email verification state.
type VerificationStatus struct {
	Email      string     `json:"email"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// Service implements account, session, and one-time token flows.
type Service struct {
	pool     *pgxpool.Pool
	issuer   TokenIssuer
	notifier Notifier
	cooldown Limiter
	auditor  *audit.Writer
}

func NewService(pool *pgxpool.Pool, issuer TokenIssuer, notifier Notifier, cooldown Limiter, auditor *audit.Writer) *Service {
	return &Service{
		pool:     pool,
		issuer:   issuer,
		notifier: notifier,
		cooldown: cooldown,
		auditor:  auditor,
	}
}

const userColumns = `id, email, full_name, avatar_url, global_role, email_verified_at, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.AvatarURL, &role, &u.EmailVerifiedAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.GlobalRole = roles.Role(role)
	return &u, nil
}

// Signup creates an account, signs it in, and sends a verification email.
func (s *Service) Signup(ctx context.Context, email, password, fullName string) (*Session, error) {
	email, err := validation.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, full_name)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		email, hash, strings.TrimSpace(fullName),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	s.auditor.LogUserSignup(ctx, user.ID, user.Email)

	if err := s.sendVerification(ctx, user); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("Failed to send verification email")
	}

	return s.issueSession(user, 0)
}

// Login checks the password and issues a session.
func (s *Service) Login(ctx context.Context, email, password, ip string) (*Session, error) {
	normalized, err := validation.NormalizeEmail(email)
	if err != nil || password == "" {
		return nil, ErrInvalidCredentials
	}

	var hash string
	var version int
	var u User
	var role string
	err = s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`, password_hash, token_version
		FROM users WHERE email = $1
	`, normalized).Scan(&u.ID, &u.Email, &u.FullName, &u.AvatarURL, &role, &u.EmailVerifiedAt, &u.CreatedAt, &hash, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = VerifyPassword(string(dummyHash), password)
			s.auditor.LogLoginFailed(ctx, normalized, ip)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.GlobalRole = roles.Role(role)

	if err := VerifyPassword(hash, password); err != nil {
		s.auditor.LogLoginFailed(ctx, normalized, ip)
		return nil, ErrInvalidCredentials
	}

	return s.issueSession(&u, version)
}

// Logout revokes every token the user holds.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	if err := s.bumpTokenVersion(ctx, s.pool, userID); err != nil {
		return err
	}
	s.auditor.Record(ctx, uuid.Nil, userID, audit.EventLogout, nil)
	return nil
}

// RequestMagicLink emails a sign-in link when the account exists. Unknown
// emails succeed silently.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	if err := s.checkCooldown(ctx, "magic:"+user.ID.String()); err != nil {
		return err
	}

	token, err := s.issueOneTimeToken(ctx, user.ID, PurposeMagicLink)
	if err != nil {
		return err
	}
	return s.notifier.SendMagicLink(ctx, user.Email, token)
}

// VerifyMagicLink consumes a sign-in link and issues a session. Clicking the
// link proves ownership of the address, so it also marks the email verified.
func (s *Service) VerifyMagicLink(ctx context.Context, token string) (*Session, error) {
	var user *User
	var version int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		userID, err := consumeOneTimeToken(ctx, tx, PurposeMagicLink, token)
		if err != nil {
			return err
		}
		user, err = scanUserWithVersion(tx.QueryRow(ctx, `
			UPDATE users
			SET email_verified_at = COALESCE(email_verified_at, NOW()), updated_at = NOW()
			WHERE id = $1
			RETURNING `+userColumns+`, token_version
		`, userID), &version)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.issueSession(user, version)
}

// RequestPasswordReset emails a reset link when the account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	if err := s.checkCooldown(ctx, "reset:"+user.ID.String()); err != nil {
		return err
	}

	token, err := s.issueOneTimeToken(ctx, user.ID, PurposePasswordReset)
	if err != nil {
		return err
	}
	return s.notifier.SendPasswordReset(ctx, user.Email, token)
}

// CompletePasswordReset sets a new password from a reset token and revokes
// existing sessions.
func (s *Service) CompletePasswordReset(ctx context.Context, token, password string) error {
	if err := validation.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	var userID uuid.UUID
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		userID, err = consumeOneTimeToken(ctx, tx, PurposePasswordReset, token)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE users
			SET password_hash = $2, token_version = token_version + 1, updated_at = NOW()
			WHERE id = $1
		`, userID, hash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.auditor.Record(ctx, uuid.Nil, userID, audit.EventPasswordReset, nil)
	return nil
}

// ChangePassword replaces the password after checking the current one. The
// caller receives a fresh session since older tokens are revoked.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) (*Session, error) {
	if err := validation.ValidatePassword(next); err != nil {
		return nil, err
	}

	var hash string
	err := s.pool.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if err := VerifyPassword(hash, current); err != nil {
		return nil, ErrInvalidCredentials
	}

	newHash, err := HashPassword(next)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var version int
	user, err := scanUserWithVersion(s.pool.QueryRow(ctx, `
		UPDATE users
		SET password_hash = $2, token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns+`, token_version
	`, userID, newHash), &version)
	if err != nil {
		return nil, fmt.Errorf("failed to update password: %w", err)
	}

	s.auditor.Record(ctx, uuid.Nil, userID, audit.EventPasswordChanged, nil)
	return s.issueSession(user, version)
}

// GetUser returns the account for userID.
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// ProfileUpdate holds optional profile changes. Nil fields are left alone.
type ProfileUpdate struct {
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

// UpdateProfile applies u to the account.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, u ProfileUpdate) (*User, error) {
	var fullName, avatarURL *string
	if u.FullName != nil {
		v := strings.TrimSpace(*u.FullName)
		fullName = &v
	}
	if u.AvatarURL != nil {
		v := strings.TrimSpace(*u.AvatarURL)
		avatarURL = &v
	}

	user, err := scanUser(s.pool.QueryRow(ctx, `
		UPDATE users
		SET full_name = COALESCE($2, full_name),
		    avatar_url = COALESCE($3, avatar_url),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		userID, fullName, avatarURL,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	s.auditor.Record(ctx, uuid.Nil, userID, audit.EventUserUpdated, nil)
	return user, nil
}

// VerificationStatus reports whether the user's email is verified.
func (s *Service) VerificationStatus(ctx context.Context, userID uuid.UUID) (*VerificationStatus, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &VerificationStatus{
		Email:      user.Email,
		Verified:   user.EmailVerifiedAt != nil,
		VerifiedAt: user.EmailVerifiedAt,
	}, nil
}

// SendVerification emails a fresh verification link, subject to the resend
// cooldown.
func (s *Service) SendVerification(ctx context.Context, userID uuid.UUID) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerifiedAt != nil {
		return ErrAlreadyVerified
	}
	return s.sendVerification(ctx, user)
}

func (s *Service) sendVerification(ctx context.Context, user *User) error {
	if err := s.checkCooldown(ctx, "verify:"+user.ID.String()); err != nil {
		return err
	}
	token, err := s.issueOneTimeToken(ctx, user.ID, PurposeEmailVerification)
	if err != nil {
		return err
	}
	return s.notifier.SendVerification(ctx, user.Email, token)
}

// VerifyEmail consumes a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*VerificationStatus, error) {
	var status VerificationStatus
	var userID uuid.UUID
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		userID, err = consumeOneTimeToken(ctx, tx, PurposeEmailVerification, token)
		if err != nil {
			return err
		}
		var verifiedAt time.Time
		err = tx.QueryRow(ctx, `
			UPDATE users
			SET email_verified_at = COALESCE(email_verified_at, NOW()), updated_at = NOW()
			WHERE id = $1
			RETURNING email, email_verified_at
		`, userID).Scan(&status.Email, &verifiedAt)
		if err != nil {
			return fmt.Errorf("failed to mark email verified: %w", err)
		}
		status.Verified = true
		status.VerifiedAt = &verifiedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, uuid.Nil, userID, audit.EventEmailVerified, nil)
	return &status, nil
}

// LookupSession returns the token version and global role for userID.
func (s *Service) LookupSession(ctx context.Context, userID uuid.UUID) (SessionInfo, error) {
	var info SessionInfo
	var role string
	err := s.pool.QueryRow(ctx, `SELECT token_version, global_role FROM users WHERE id = $1`, userID).
		Scan(&info.TokenVersion, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionInfo{}, ErrUserNotFound
		}
		return SessionInfo{}, fmt.Errorf("failed to query session: %w", err)
	}
	info.GlobalRole = roles.Role(role)
	return info, nil
}

func (s *Service) issueSession(user *User, version int) (*Session, error) {
	token, expiresAt, err := s.issuer.Issue(user.ID, version)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (*User, error) {
	normalized, err := validation.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalized))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (s *Service) checkCooldown(ctx context.Context, key string) error {
	if s.cooldown == nil {
		return nil
	}
	ok, retryAfter, err := s.cooldown.Allow(ctx, key)
	if err != nil {
		// Fail open: a cooldown outage must not block sign-in emails.
		log.Warn().Err(err).Str("key", key).Msg("Resend cooldown unavailable")
		return nil
	}
	if !ok {
		return &ThrottledError{RetryAfter: retryAfter}
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Service) bumpTokenVersion(ctx context.Context, db execer, userID uuid.UUID) error {
	tag, err := db.Exec(ctx, `
		UPDATE users SET token_version = token_version + 1, updated_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// issueOneTimeToken stores a new token and retires any unused ones for the
// same purpose, so only the latest link works.
func (s *Service) issueOneTimeToken(ctx context.Context, userID uuid.UUID, p Purpose) (string, error) {
	token, hash, err := GenerateOneTimeToken(p)
	if err != nil {
		return "", err
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE auth_tokens SET used_at = NOW()
			WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL
		`, userID, string(p)); err != nil {
			return fmt.Errorf("failed to retire tokens: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO auth_tokens (user_id, purpose, token_hash, expires_at)
			VALUES ($1, $2, $3, $4)
		`, userID, string(p), hash, time.Now().UTC().Add(p.TTL())); err != nil {
			return fmt.Errorf("failed to store token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func consumeOneTimeToken(ctx context.Context, tx pgx.Tx, p Purpose, token string) (uuid.UUID, error) {
	token = strings.TrimSpace(token)
	if !ValidOneTimeTokenFormat(p, token) {
		return uuid.Nil, ErrTokenInvalid
	}

	var id, userID uuid.UUID
	var expiresAt time.Time
	var usedAt *time.Time
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, expires_at, used_at
		FROM auth_tokens
		WHERE token_hash = $1 AND purpose = $2
		FOR UPDATE
	`, HashOneTimeToken(token), string(p)).Scan(&id, &userID, &expiresAt, &usedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrTokenInvalid
		}
		return uuid.Nil, fmt.Errorf("failed to query token: %w", err)
	}

	if usedAt != nil {
		return uuid.Nil, ErrTokenUsed
	}
	if time.Now().After(expiresAt) {
		return uuid.Nil, ErrTokenExpired
	}

	if _, err := tx.Exec(ctx, `UPDATE auth_tokens SET used_at = NOW() WHERE id = $1`, id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to consume token: %w", err)
	}
	return userID, nil
}

func scanUserWithVersion(row pgx.Row, version *int) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.AvatarURL, &role, &u.EmailVerifiedAt, &u.CreatedAt, version); err != nil {
		return nil, err
	}
	u.GlobalRole = roles.Role(role)
	return &u, nil
}

func (s *Service) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
