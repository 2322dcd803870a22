package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-auth-session/middleware/jwtware"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultHandlerTimeout bounds a single command or query
const DefaultHandlerTimeout = 10 * time.Second

// SessionOrchestrator is the session behaviour the handlers and the HTTP
// controller delegate to. *SessionService implements it.
type SessionOrchestrator interface {
	HandleCallback(ctx context.Context, identity ExternalIdentity) (*CallbackResult, error)
	Register(ctx context.Context, input RegisterInput) (*SessionResult, error)
	PendingRegistration(ctx context.Context, pendingToken string) (*PendingRegistration, error)
	Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*SessionResult, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutEverywhere(ctx context.Context, accountID int64) (int, error)
	CurrentAccount(ctx context.Context, claims jwtware.AccessClaims) (*Account, error)
}

var _ SessionOrchestrator = (*SessionService)(nil)

type handlerBase struct {
	sessions SessionOrchestrator
	timeout  time.Duration
}

func newHandlerBase(sessions SessionOrchestrator) handlerBase {
	return handlerBase{
		sessions: sessions,
		timeout:  DefaultHandlerTimeout,
	}
}

// guard fails fast on a done context and applies the handler timeout.
func (h handlerBase) guard(ctx context.Context, action string) (context.Context, context.CancelFunc, error) {
	select {
	case <-ctx.Done():
		return nil, nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during "+action,
		)
	default:
	}

	timeout := h.timeout
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}
