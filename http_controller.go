package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/goliatone/go-auth-session/middleware/csrf"
	"github.com/goliatone/go-auth-session/middleware/jwtware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// SessionControllerConfig configures the session routes.
type SessionControllerConfig struct {
	// PathPrefix for routes (default: "/auth")
	PathPrefix string

	// SessionContextKey is the locals key holding bearer claims
	SessionContextKey string

	Cookies CookieConfig

	// SuccessRedirect is where a completed login lands (default: "/")
	SuccessRedirect string

	// RegisterRedirect is the username form for new identities
	// (default: "/register")
	RegisterRedirect string

	// CSRF protects the cookie authenticated POST routes when set
	CSRF *csrf.Config

	// BearerListeners run after an access token verifies, a non nil
	// error rejects the request
	BearerListeners []ValidationListener
}

// SessionControllerConfigFromOptions builds the controller config from
// the loaded options.
func SessionControllerConfigFromOptions(opts *Options) SessionControllerConfig {
	if opts == nil {
		return SessionControllerConfig{}
	}
	return SessionControllerConfig{
		Cookies: CookieConfig{
			Secure: opts.CookieSecure,
			Domain: opts.CookieDomain,
		},
		SuccessRedirect:  opts.SuccessRedirect,
		RegisterRedirect: opts.RegisterRedirect,
	}
}

// SessionController exposes the session lifecycle over HTTP. Every route
// delegates to a command or query handler.
type SessionController struct {
	config SessionControllerConfig
	tokens jwtware.TokenValidator
	logger Logger

	callback  *CompleteCallbackHandler
	register  *RegisterAccountHandler
	refresh   *RefreshSessionHandler
	logout    *LogoutHandler
	revokeAll *RevokeSessionsHandler
	pending   *PendingRegistrationHandler
	current   *CurrentAccountHandler
}

// SessionControllerOption customizes the controller
type SessionControllerOption func(*SessionController)

func WithControllerLogger(logger Logger) SessionControllerOption {
	return func(c *SessionController) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithControllerLoggerProvider(provider LoggerProvider) SessionControllerOption {
	return func(c *SessionController) {
		c.logger = resolveLogger("auth.http", provider, c.logger)
	}
}

// NewSessionController creates the controller. tokens verifies the bearer
// access tokens of the protected routes.
func NewSessionController(sessions SessionOrchestrator, tokens jwtware.TokenValidator, cfg SessionControllerConfig, opts ...SessionControllerOption) *SessionController {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/auth"
	}
	if cfg.SessionContextKey == "" {
		cfg.SessionContextKey = jwtware.DefaultContextKey
	}
	if cfg.SuccessRedirect == "" {
		cfg.SuccessRedirect = "/"
	}
	if cfg.RegisterRedirect == "" {
		cfg.RegisterRedirect = "/register"
	}
	cfg.PathPrefix = strings.TrimSuffix(cfg.PathPrefix, "/")
	cfg.Cookies = cfg.Cookies.withDefaults()

	c := &SessionController{
		config:    cfg,
		tokens:    tokens,
		logger:    defLogger{},
		callback:  NewCompleteCallbackHandler(sessions),
		register:  NewRegisterAccountHandler(sessions),
		refresh:   NewRefreshSessionHandler(sessions),
		logout:    NewLogoutHandler(sessions),
		revokeAll: NewRevokeSessionsHandler(sessions),
		pending:   NewPendingRegistrationHandler(sessions),
		current:   NewCurrentAccountHandler(sessions),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// RegisterRoutes registers the session routes.
func (c *SessionController) RegisterRoutes(group RouteRegistrar) {
	prefix := c.config.PathPrefix
	bearer := c.Bearer()

	var guarded []router.MiddlewareFunc
	if c.config.CSRF != nil {
		guarded = append(guarded, csrf.New(*c.config.CSRF))
	}

	group.Post(prefix+"/register", c.Register, guarded...).SetName("auth.register.post")
	group.Get(prefix+"/register/pending", c.PendingRegistration).SetName("auth.register.pending")
	group.Post(prefix+"/refresh", c.Refresh, guarded...).SetName("auth.refresh.post")
	group.Post(prefix+"/logout", c.Logout, guarded...).SetName("auth.logout.post")
	group.Post(prefix+"/logout/all", c.LogoutAll, bearer).SetName("auth.logout_all.post")
	group.Get(prefix+"/me", c.Me, bearer).SetName("auth.me.get")

	csrfRoute := csrf.RouteConfig{Path: prefix + "/csrf"}
	if c.config.CSRF != nil {
		csrfRoute.Config = *c.config.CSRF
	}
	group.Get(csrfRoute.Path, csrf.TokenHandler(csrfRoute)).SetName("auth.csrf.get")
}

// Bearer returns the access token middleware used by protected routes.
func (c *SessionController) Bearer() router.MiddlewareFunc {
	cfg := jwtware.Config{
		TokenValidator:  c.tokens,
		ContextKey:      c.config.SessionContextKey,
		ContextEnricher: ContextEnricherAdapter,
		ErrorHandler: func(ctx router.Context, err error) error {
			return c.respondError(ctx, ErrUnauthorized)
		},
	}
	RegisterValidationListeners(&cfg, c.config.BearerListeners...)
	return jwtware.New(cfg)
}

// CompleteCallback finishes a provider callback with an identity the
// provider exchange already verified.
func (c *SessionController) CompleteCallback(ctx router.Context, identity ExternalIdentity) error {
	if identity.Client == (ClientInfo{}) {
		identity.Client = clientInfoFromContext(ctx)
	}

	var result *CallbackResult
	err := c.callback.Execute(contextOf(ctx), CompleteCallbackMessage{
		Identity:   identity,
		OnResponse: func(r *CallbackResult) { result = r },
	})
	if err != nil {
		return c.respondError(ctx, err)
	}

	switch result.Type {
	case CallbackLogin:
		c.config.Cookies.setRefresh(ctx, result.RefreshToken, result.RefreshExpiresAt)
		if wantsJSON(ctx) {
			return ctx.JSON(router.StatusOK, map[string]any{
				"type":        result.Type,
				"accessToken": result.AccessToken,
			})
		}
		return ctx.Redirect(c.config.SuccessRedirect, router.StatusSeeOther)
	default:
		c.config.Cookies.setPending(ctx, result.PendingToken, result.PendingExpiresAt)
		if wantsJSON(ctx) {
			return ctx.JSON(router.StatusOK, map[string]any{
				"type":         result.Type,
				"pendingToken": result.PendingToken,
			})
		}
		return ctx.Redirect(c.config.RegisterRedirect, router.StatusSeeOther)
	}
}

type registerPayload struct {
	PendingToken string `json:"pendingToken"`
	Username     string `json:"username"`
}

// Register completes a pending registration.
func (c *SessionController) Register(ctx router.Context) error {
	payload := registerPayload{}
	if err := ctx.Bind(&payload); err != nil {
		return c.respondError(ctx, ErrInvalidRequestBody)
	}

	if payload.PendingToken == "" {
		payload.PendingToken = ctx.Cookies(c.config.Cookies.PendingName)
	}

	var result *SessionResult
	err := c.register.Execute(contextOf(ctx), RegisterAccountMessage{
		PendingToken: payload.PendingToken,
		Username:     payload.Username,
		Client:       clientInfoFromContext(ctx),
		OnResponse:   func(r *SessionResult) { result = r },
	})
	if err != nil {
		return c.respondError(ctx, err)
	}

	c.config.Cookies.setRefresh(ctx, result.RefreshToken, result.RefreshExpiresAt)
	c.config.Cookies.clearPending(ctx)

	return ctx.JSON(http.StatusCreated, result)
}

// PendingRegistration returns the pre fill data of the pending token.
func (c *SessionController) PendingRegistration(ctx router.Context) error {
	token := ctx.Cookies(c.config.Cookies.PendingName)
	if token == "" {
		token = ctx.Query("token")
	}

	pending, err := c.pending.Query(contextOf(ctx), PendingRegistrationQuery{PendingToken: token})
	if err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, pending)
}

// Refresh rotates the refresh cookie and issues a new access token.
func (c *SessionController) Refresh(ctx router.Context) error {
	var result *SessionResult
	err := c.refresh.Execute(contextOf(ctx), RefreshSessionMessage{
		RefreshToken: ctx.Cookies(c.config.Cookies.RefreshName),
		Client:       clientInfoFromContext(ctx),
		OnResponse:   func(r *SessionResult) { result = r },
	})
	if err != nil {
		return c.respondError(ctx, err)
	}

	if result == nil {
		c.config.Cookies.clearRefresh(ctx)
		return c.respondError(ctx, ErrUnauthorized)
	}

	c.config.Cookies.setRefresh(ctx, result.RefreshToken, result.RefreshExpiresAt)
	return ctx.JSON(router.StatusOK, result)
}

// Logout revokes the refresh cookie. It always succeeds from the client's
// point of view.
func (c *SessionController) Logout(ctx router.Context) error {
	if token := ctx.Cookies(c.config.Cookies.RefreshName); token != "" {
		if err := c.logout.Execute(contextOf(ctx), LogoutMessage{RefreshToken: token}); err != nil {
			c.logger.Warn("logout failed", "error", err)
		}
	}

	c.config.Cookies.clearRefresh(ctx)
	return ctx.NoContent(http.StatusNoContent)
}

// LogoutAll signs the bearer's account out of every device.
func (c *SessionController) LogoutAll(ctx router.Context) error {
	claims, ok := jwtware.ClaimsFromContext(ctx, c.config.SessionContextKey)
	if !ok {
		return c.respondError(ctx, ErrUnauthorized)
	}

	revoked := 0
	err := c.revokeAll.Execute(contextOf(ctx), RevokeSessionsMessage{
		AccountID:  claims.AccountID(),
		OnResponse: func(n int) { revoked = n },
	})
	if err != nil {
		return c.respondError(ctx, err)
	}

	c.config.Cookies.clearRefresh(ctx)
	return ctx.JSON(router.StatusOK, map[string]any{
		"revoked": revoked,
	})
}

// Me returns the account of the bearer.
func (c *SessionController) Me(ctx router.Context) error {
	claims, ok := jwtware.ClaimsFromContext(ctx, c.config.SessionContextKey)
	if !ok {
		return c.respondError(ctx, ErrUnauthorized)
	}

	account, err := c.current.Query(contextOf(ctx), CurrentAccountQuery{Claims: claims})
	if err != nil {
		if IsAccountNotFound(err) {
			return c.respondError(ctx, ErrUnauthorized)
		}
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"account": account,
	})
}

func (c *SessionController) respondError(ctx router.Context, err error) error {
	status := StatusForError(err)
	var richErr *goerrors.Error
	if status >= router.StatusInternalServerError {
		c.logger.Error("session request failed", "path", ctx.OriginalURL(), "error", err)
	} else if goerrors.As(err, &richErr) && len(richErr.Metadata) > 0 {
		c.logger.Debug("session request rejected",
			"path", ctx.OriginalURL(),
			"text_code", richErr.TextCode,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	}
	return ctx.JSON(status, NewErrorBody(status, err))
}

func contextOf(ctx router.Context) context.Context {
	if c := ctx.Context(); c != nil {
		return c
	}
	return context.Background()
}
