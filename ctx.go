package auth

import (
	"context"

	"github.com/goliatone/go-auth-session/middleware/jwtware"
	"github.com/goliatone/go-router"
)

var accountCtxKey = &contextKey{"account"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// ValidationListener aliases the jwtware listener so consumers can use auth helpers directly.
type ValidationListener = jwtware.ValidationListener

// WithAccountContext sets the Account in the given context
func WithAccountContext(r context.Context, account *Account) context.Context {
	return context.WithValue(r, accountCtxKey, account)
}

// AccountFromContext finds the account from the context.
func AccountFromContext(ctx context.Context) (*Account, bool) {
	raw, ok := ctx.Value(accountCtxKey).(*Account)
	return raw, ok && raw != nil
}

// WithClaimsContext sets the access claims in the given context
func WithClaimsContext(r context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the access claims from the standard context
func GetClaims(ctx context.Context) (*AccessClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*AccessClaims)
	return raw, ok && raw != nil
}

// GetRouterClaims extracts the access claims from the router context
func GetRouterClaims(ctx router.Context, key string) (*AccessClaims, bool) {
	claims, ok := jwtware.ClaimsFromContext(ctx, key)
	if !ok {
		return nil, false
	}
	raw, ok := claims.(*AccessClaims)
	return raw, ok
}

// ContextEnricherAdapter stores the verified claims in the standard context
// so handlers below the router can read them with GetClaims.
func ContextEnricherAdapter(c context.Context, claims jwtware.AccessClaims) context.Context {
	c = jwtware.WithClaims(c, claims)

	accessClaims, ok := claims.(*AccessClaims)
	if !ok {
		return c
	}

	return WithClaimsContext(c, accessClaims)
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}
