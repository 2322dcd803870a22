package auth

import (
	"context"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var usernameRules = []validation.Rule{
	validation.Required,
	validation.Length(MinUsernameLength, MaxUsernameLength),
	validation.Match(usernamePattern).Error("may only contain letters, digits and underscores"),
}

// ValidateUsername checks the registration username rules
func ValidateUsername(username string) error {
	if err := validation.Validate(username, usernameRules...); err != nil {
		return goerrors.New("invalid username: "+err.Error(), goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("session_invalid_username").
			WithMetadata(map[string]any{
				"field": "username",
			})
	}
	return nil
}

// RegisterAccountMessage completes a registration with the chosen username
type RegisterAccountMessage struct {
	PendingToken string `json:"pendingToken"`
	Username     string `json:"username"`
	Client       ClientInfo
	OnResponse   func(*SessionResult) `json:"-"`
}

func (e RegisterAccountMessage) Type() string { return "session.register" }

// Validate checks the trimmed username. The pending token is verified by
// the session service, which reports a missing one as unauthorized.
func (e RegisterAccountMessage) Validate() error {
	err := validation.Errors{
		"username": validation.Validate(NormalizeUsername(e.Username), usernameRules...),
	}.Filter()
	if err != nil {
		fields := map[string]any{}
		if verrs, ok := err.(validation.Errors); ok {
			for field, ferr := range verrs {
				fields[field] = ferr.Error()
			}
		}
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration request").
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("session_invalid_registration").
			WithMetadata(map[string]any{
				"fields": fields,
			})
	}
	return nil
}

type RegisterAccountHandler struct {
	handlerBase
}

func NewRegisterAccountHandler(sessions SessionOrchestrator) *RegisterAccountHandler {
	return &RegisterAccountHandler{handlerBase: newHandlerBase(sessions)}
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel, err := h.guard(ctx, "account registration")
	if err != nil {
		return err
	}
	defer cancel()

	result, err := h.sessions.Register(ctx, RegisterInput{
		PendingToken: event.PendingToken,
		Username:     NormalizeUsername(event.Username),
		Client:       event.Client,
	})
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(result)
	}
	return nil
}
