package auth

import (
	"context"
	"testing"

	"github.com/goliatone/go-auth-session/middleware/jwtware"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClaims(t *testing.T) {
	tests := []struct {
		name     string
		setupCtx func() context.Context
		wantOK   bool
	}{
		{
			name: "should return claims when present in context",
			setupCtx: func() context.Context {
				return WithClaimsContext(context.Background(), &AccessClaims{AID: 7})
			},
			wantOK: true,
		},
		{
			name: "should return false when no claims in context",
			setupCtx: func() context.Context {
				return context.Background()
			},
		},
		{
			name: "should return false when context has wrong type",
			setupCtx: func() context.Context {
				return context.WithValue(context.Background(), claimsCtxKey, "not-a-claims-object")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, ok := GetClaims(tt.setupCtx())
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, int64(7), claims.AccountID())
			}
		})
	}
}

func TestAccountContext(t *testing.T) {
	_, ok := AccountFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithAccountContext(context.Background(), &Account{Username: "alice"})
	account, ok := AccountFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", account.Username)
}

func TestContextEnricherAdapter(t *testing.T) {
	claims := &AccessClaims{AID: 42, Name: "alice"}

	ctx := ContextEnricherAdapter(context.Background(), claims)

	typed, ok := GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", typed.Username())

	generic, ok := jwtware.ClaimsFromStdContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(42), generic.AccountID())
}

func TestGetRouterClaims(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.LocalsMock[jwtware.DefaultContextKey] = &AccessClaims{AID: 42}

	claims, ok := GetRouterClaims(ctx, "")
	require.True(t, ok)
	assert.Equal(t, int64(42), claims.AccountID())

	_, ok = GetRouterClaims(ctx, "missing")
	assert.False(t, ok)
}

func TestRegisterValidationListeners(t *testing.T) {
	RegisterValidationListeners(nil, func(router.Context, jwtware.AccessClaims) error { return nil })

	cfg := &jwtware.Config{}
	RegisterValidationListeners(cfg)
	assert.Empty(t, cfg.ValidationListeners)

	RegisterValidationListeners(cfg,
		func(router.Context, jwtware.AccessClaims) error { return nil },
		func(router.Context, jwtware.AccessClaims) error { return nil },
	)
	assert.Len(t, cfg.ValidationListeners, 2)
}
