package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	testAccessSecret  = "access-secret-access-secret-access-secret"
	testPendingSecret = "pending-secret-pending-secret-pending-secret"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = Migrate(context.Background(), db)
	require.NoError(t, err)

	return db
}

func newTestTokens(t *testing.T, clock *fakeClock) *TokenService {
	t.Helper()

	tokens, err := NewTokenService(TokenConfig{
		AccessSecret:    []byte(testAccessSecret),
		PendingSecret:   []byte(testPendingSecret),
		AccessTokenTTL:  DefaultAccessTokenTTL,
		PendingTokenTTL: DefaultPendingTokenTTL,
		Issuer:          "go-auth-session",
		Audience:        []string{"blog"},
	}, WithTokenClock(clock.Now), WithTokenLogger(NoopLogger()))
	require.NoError(t, err)

	return tokens
}

type sessionFixture struct {
	db       *bun.DB
	clock    *fakeClock
	repo     RepositoryManager
	tokens   *TokenService
	service  *SessionService
	activity *activityRecorder
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		db:       newTestDB(t),
		clock:    newFakeClock(),
		activity: &activityRecorder{},
	}

	f.repo = NewRepositoryManager(f.db,
		WithRepositoryClock(f.clock.Now),
		WithRefreshTokenPolicy(DefaultRefreshTokenTTL, DefaultRefreshTokenIdleTTL),
	)
	f.tokens = newTestTokens(t, f.clock)
	f.service = NewSessionService(f.repo, f.tokens,
		WithSessionClock(f.clock.Now),
		WithSessionLogger(NoopLogger()),
		WithSessionActivitySink(f.activity),
	)

	return f
}

func (f *sessionFixture) count(t *testing.T, model any) int {
	t.Helper()
	n, err := f.db.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}

type activityRecorder struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, event ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) types() []ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}
