package auth

import (
	"context"

	"github.com/goliatone/go-auth-session/middleware/jwtware"
)

// PendingRegistrationQuery reads the pre fill data of a pending token
type PendingRegistrationQuery struct {
	PendingToken string
}

func (q PendingRegistrationQuery) Type() string { return "session.pending_registration" }

type PendingRegistrationHandler struct {
	handlerBase
}

func NewPendingRegistrationHandler(sessions SessionOrchestrator) *PendingRegistrationHandler {
	return &PendingRegistrationHandler{handlerBase: newHandlerBase(sessions)}
}

func (h *PendingRegistrationHandler) Query(ctx context.Context, q PendingRegistrationQuery) (*PendingRegistration, error) {
	ctx, cancel, err := h.guard(ctx, "pending registration lookup")
	if err != nil {
		return nil, err
	}
	defer cancel()

	return h.sessions.PendingRegistration(ctx, q.PendingToken)
}

// CurrentAccountQuery loads the account behind verified access claims
type CurrentAccountQuery struct {
	Claims jwtware.AccessClaims
}

func (q CurrentAccountQuery) Type() string { return "session.current_account" }

type CurrentAccountHandler struct {
	handlerBase
}

func NewCurrentAccountHandler(sessions SessionOrchestrator) *CurrentAccountHandler {
	return &CurrentAccountHandler{handlerBase: newHandlerBase(sessions)}
}

func (h *CurrentAccountHandler) Query(ctx context.Context, q CurrentAccountQuery) (*Account, error) {
	ctx, cancel, err := h.guard(ctx, "current account lookup")
	if err != nil {
		return nil, err
	}
	defer cancel()

	return h.sessions.CurrentAccount(ctx, q.Claims)
}
