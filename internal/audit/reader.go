package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Reader struct {
	pool *pgxpool.Pool
}

func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

type ListItem struct {
	ID          uuid.UUID      `json:"id"`
	Action      string         `json:"action"`
	OrgID       uuid.UUID      `json:"org_id"`
	ActorUserID *uuid.UUID     `json:"actor_user_id,omitempty"`
	ActorEmail  string         `json:"actor_email,omitempty"`
	Meta        map[string]any `json:"meta"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ClampLimit bounds a caller-supplied page size to 1..200, defaulting to 50.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

// ListByOrg returns the newest events for an organization, optionally
// restricted to one action.
func (r *Reader) ListByOrg(ctx context.Context, orgID uuid.UUID, action string, limit int) ([]ListItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT al.id, al.org_id, al.actor_user_id, u.email, al.action, al.meta, al.created_at
		FROM audit_log al
		LEFT JOIN users u ON u.id = al.actor_user_id
		WHERE al.org_id = $1
		  AND ($2 = '' OR al.action = $2)
		ORDER BY al.created_at DESC
		LIMIT $3
	`, orgID, action, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	out := []ListItem{}
	for rows.Next() {
		var item ListItem
		var actorUserID uuid.NullUUID
		var actorEmail *string
		var metaRaw []byte

		if err := rows.Scan(&item.ID, &item.OrgID, &actorUserID, &actorEmail, &item.Action, &metaRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}

		if actorUserID.Valid {
			item.ActorUserID = &actorUserID.UUID
		}
		if actorEmail != nil {
			item.ActorEmail = *actorEmail
		}

		item.Meta = map[string]any{}
		if len(metaRaw) > 0 {
			_ = json.Unmarshal(metaRaw, &item.Meta)
		}

		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return out, nil
}
