package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/mailer"
	"github.com/aliuyar1234/clinicdocs/internal/throttle"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "integration-secret-integration-secret"

// newAuthService builds the auth service over pool with a throwaway Redis
// for resend cooldowns. The mailer has no host, so it logs instead of sending.
func newAuthService(t *testing.T, pool *pgxpool.Pool) *auth.Service {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return auth.NewService(
		pool,
		auth.TokenIssuer{Secret: testJWTSecret, SessionDays: 7},
		mailer.New(mailer.Config{BaseURL: "http://localhost:3000"}),
		throttle.NewCooldown(rdb, "cd:email", time.Minute),
		audit.NewWriter(pool),
	)
}

func signUp(t *testing.T, svc *auth.Service, email string) *auth.Session {
	t.Helper()
	name := strings.Split(email, "@")[0]
	sess, err := svc.Signup(context.Background(), email, "correct-horse-battery", name)
	require.NoError(t, err)
	return sess
}

func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}
