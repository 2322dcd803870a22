package auth

import "context"

// RefreshSessionMessage exchanges a refresh token for a new session. The
// response is nil when the token cannot be used.
type RefreshSessionMessage struct {
	RefreshToken string
	Client       ClientInfo
	OnResponse   func(*SessionResult)
}

func (e RefreshSessionMessage) Type() string { return "session.refresh" }

type RefreshSessionHandler struct {
	handlerBase
}

func NewRefreshSessionHandler(sessions SessionOrchestrator) *RefreshSessionHandler {
	return &RefreshSessionHandler{handlerBase: newHandlerBase(sessions)}
}

func (h *RefreshSessionHandler) Execute(ctx context.Context, event RefreshSessionMessage) error {
	ctx, cancel, err := h.guard(ctx, "session refresh")
	if err != nil {
		return err
	}
	defer cancel()

	result, err := h.sessions.Refresh(ctx, event.RefreshToken, event.Client)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(result)
	}
	return nil
}
