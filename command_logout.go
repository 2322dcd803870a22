package auth

import "context"

// LogoutMessage ends the session bound to a refresh token
type LogoutMessage struct {
	RefreshToken string
}

func (e LogoutMessage) Type() string { return "session.logout" }

type LogoutHandler struct {
	handlerBase
}

func NewLogoutHandler(sessions SessionOrchestrator) *LogoutHandler {
	return &LogoutHandler{handlerBase: newHandlerBase(sessions)}
}

func (h *LogoutHandler) Execute(ctx context.Context, event LogoutMessage) error {
	ctx, cancel, err := h.guard(ctx, "logout")
	if err != nil {
		return err
	}
	defer cancel()

	return h.sessions.Logout(ctx, event.RefreshToken)
}

// RevokeSessionsMessage signs an account out of every device
type RevokeSessionsMessage struct {
	AccountID  int64
	OnResponse func(revoked int)
}

func (e RevokeSessionsMessage) Type() string { return "session.revoke_all" }

type RevokeSessionsHandler struct {
	handlerBase
}

func NewRevokeSessionsHandler(sessions SessionOrchestrator) *RevokeSessionsHandler {
	return &RevokeSessionsHandler{handlerBase: newHandlerBase(sessions)}
}

func (h *RevokeSessionsHandler) Execute(ctx context.Context, event RevokeSessionsMessage) error {
	ctx, cancel, err := h.guard(ctx, "session revocation")
	if err != nil {
		return err
	}
	defer cancel()

	revoked, err := h.sessions.LogoutEverywhere(ctx, event.AccountID)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(revoked)
	}
	return nil
}
