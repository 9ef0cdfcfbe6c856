// Package retention prunes rows that no longer serve a purpose.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Policy is how many days each kind of row is kept.
type Policy struct {
	AuthTokenDays  int
	InvitationDays int
	AuditDays      int
}

// DefaultPolicy keeps spent tokens a week, closed invitations a month and
// audit history a year.
var DefaultPolicy = Policy{
	AuthTokenDays:  7,
	InvitationDays: 30,
	AuditDays:      365,
}

// DeleteStaleAuthTokens deletes used or expired one-time tokens older than
// the specified days. Idempotent.
func DeleteStaleAuthTokens(ctx context.Context, db Execer, days int) (int64, error) {
	tag, err := db.Exec(ctx, `
		DELETE FROM auth_tokens
		WHERE (used_at IS NOT NULL OR expires_at < NOW())
		  AND created_at < NOW() - INTERVAL '1 day' * $1
	`, days)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale auth tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteStaleInvitations deletes answered, cancelled or expired invitations
// older than the specified days. Pending, unexpired invitations are kept.
func DeleteStaleInvitations(ctx context.Context, db Execer, days int) (int64, error) {
	tag, err := db.Exec(ctx, `
		DELETE FROM org_invitations
		WHERE (status <> 'pending' OR expires_at < NOW())
		  AND created_at < NOW() - INTERVAL '1 day' * $1
	`, days)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale invitations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOldAuditEvents deletes audit_log rows older than the specified days.
func DeleteOldAuditEvents(ctx context.Context, db Execer, days int) (int64, error) {
	tag, err := db.Exec(ctx, `
		DELETE FROM audit_log
		WHERE created_at < NOW() - INTERVAL '1 day' * $1
	`, days)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunRetentionJob executes every retention operation and logs the results.
// This is the entry point called by the cron scheduler.
func RunRetentionJob(ctx context.Context, db Execer, p Policy) error {
	log.Info().
		Int("auth_token_days", p.AuthTokenDays).
		Int("invitation_days", p.InvitationDays).
		Int("audit_days", p.AuditDays).
		Msg("Starting retention job")

	startTime := time.Now()

	tokens, err := DeleteStaleAuthTokens(ctx, db, p.AuthTokenDays)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete stale auth tokens")
		return fmt.Errorf("auth token cleanup failed: %w", err)
	}

	invites, err := DeleteStaleInvitations(ctx, db, p.InvitationDays)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete stale invitations")
		return fmt.Errorf("invitation cleanup failed: %w", err)
	}

	var audits int64
	if p.AuditDays > 0 {
		audits, err = DeleteOldAuditEvents(ctx, db, p.AuditDays)
		if err != nil {
			log.Error().Err(err).Msg("Failed to delete old audit events")
			return fmt.Errorf("audit cleanup failed: %w", err)
		}
	}

	log.Info().
		Int64("auth_tokens_deleted", tokens).
		Int64("invitations_deleted", invites).
		Int64("audit_events_deleted", audits).
		Dur("duration", time.Since(startTime)).
		Msg("Retention job completed")

	return nil
}
