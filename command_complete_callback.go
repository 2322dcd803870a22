package auth

import "context"

// CompleteCallbackMessage carries a verified identity from a provider
// callback.
type CompleteCallbackMessage struct {
	Identity   ExternalIdentity
	OnResponse func(*CallbackResult)
}

func (e CompleteCallbackMessage) Type() string { return "session.callback" }

type CompleteCallbackHandler struct {
	handlerBase
}

func NewCompleteCallbackHandler(sessions SessionOrchestrator) *CompleteCallbackHandler {
	return &CompleteCallbackHandler{handlerBase: newHandlerBase(sessions)}
}

func (h *CompleteCallbackHandler) Execute(ctx context.Context, event CompleteCallbackMessage) error {
	ctx, cancel, err := h.guard(ctx, "provider callback")
	if err != nil {
		return err
	}
	defer cancel()

	result, err := h.sessions.HandleCallback(ctx, event.Identity)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(result)
	}
	return nil
}
