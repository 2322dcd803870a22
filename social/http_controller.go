package social

import (
	"net/http"
	"net/url"
	"strings"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// CallbackCompleter turns a verified identity into a session response.
// *auth.SessionController implements it.
type CallbackCompleter interface {
	CompleteCallback(ctx router.Context, identity auth.ExternalIdentity) error
}

var _ CallbackCompleter = (*auth.SessionController)(nil)

// HTTPController handles social auth HTTP routes.
type HTTPController struct {
	authenticator *SocialAuthenticator
	sessions      CallbackCompleter
	config        HTTPConfig
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// PathPrefix for routes (default: "/auth")
	PathPrefix string

	// ErrorRedirect is the redirect for auth errors
	ErrorRedirect string

	// ErrorHandler handles errors (optional)
	ErrorHandler func(ctx router.Context, err error) error
}

// NewHTTPController creates a new social auth HTTP controller.
func NewHTTPController(authenticator *SocialAuthenticator, sessions CallbackCompleter, cfg HTTPConfig) *HTTPController {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/auth"
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = "/login?error=auth_failed"
	}
	cfg.PathPrefix = strings.TrimSuffix(cfg.PathPrefix, "/")

	return &HTTPController{
		authenticator: authenticator,
		sessions:      sessions,
		config:        cfg,
	}
}

// RegisterRoutes registers social auth routes. Register them after the
// session routes so static paths under the same prefix win.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Get(c.config.PathPrefix+"/:provider/callback", c.Callback).SetName("auth.social.callback")
	group.Get(c.config.PathPrefix+"/:provider", c.BeginAuth).SetName("auth.social.begin")
}

// BeginAuth starts the OAuth flow.
func (c *HTTPController) BeginAuth(ctx router.Context) error {
	redirectURL, err := c.authenticator.BeginAuth(ctx.Context(), ctx.Param("provider"))
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback.
func (c *HTTPController) Callback(ctx router.Context) error {
	providerName := ctx.Param("provider")
	code := ctx.Query("code")
	state := ctx.Query("state")

	if errCode := ctx.Query("error"); errCode != "" {
		redirectURL := appendQueryParam(c.config.ErrorRedirect, "oauth_error", errCode)
		return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
	}

	if code == "" || state == "" {
		redirectURL := appendQueryParam(c.config.ErrorRedirect, "error", "missing_params")
		return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
	}

	identity, err := c.authenticator.CompleteAuth(ctx.Context(), providerName, code, state)
	if err != nil {
		return c.handleError(ctx, err)
	}

	identity.Client = auth.ClientInfo{
		IPAddress: ctx.IP(),
		UserAgent: ctx.GetString("User-Agent", ""),
	}

	return c.sessions.CompleteCallback(ctx, *identity)
}

func (c *HTTPController) handleError(ctx router.Context, err error) error {
	if c.config.ErrorHandler != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	code := "auth_failed"
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		code = richErr.TextCode
	}

	redirectURL := appendQueryParam(c.config.ErrorRedirect, "error", code)
	return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
