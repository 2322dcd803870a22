package csrf

import "github.com/goliatone/go-router"

// RouteConfig controls how the CSRF token bootstrap endpoint behaves.
type RouteConfig struct {
	// Path is the route registered for retrieving the CSRF token.
	Path string
	// RouteName is the name assigned to the registered route.
	RouteName string
	// Config must match the middleware configuration so the endpoint
	// reads and mints the same cookie.
	Config Config
}

const (
	defaultRoutePath = "/auth/csrf"
	defaultRouteName = "auth.csrf.get"
)

// RouteRegistrar is the subset of a router needed to mount the endpoint
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// RegisterRoutes registers a GET endpoint that returns the CSRF token and
// related metadata (form field and header names).
func RegisterRoutes(app RouteRegistrar, cfg ...RouteConfig) {
	conf := routeConfigDefault(cfg...)
	app.Get(conf.Path, TokenHandler(conf)).SetName(conf.RouteName)
}

func routeConfigDefault(cfg ...RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:      defaultRoutePath,
		RouteName: defaultRouteName,
	}
	if len(cfg) == 0 {
		conf.Config = configDefault()
		return conf
	}

	c := cfg[0]
	if c.Path != "" {
		conf.Path = c.Path
	}

	if c.RouteName != "" {
		conf.RouteName = c.RouteName
	}

	conf.Config = configDefault(c.Config)

	return conf
}

// TokenHandler echoes the token stored by the middleware or carried by the
// cookie. When neither exists a new token is minted and set.
func TokenHandler(cfg ...RouteConfig) router.HandlerFunc {
	conf := routeConfigDefault(cfg...)
	csrfCfg := conf.Config

	return func(ctx router.Context) error {
		token, _ := ctx.Locals(csrfCfg.ContextKey).(string)
		if token == "" {
			token = ctx.Cookies(csrfCfg.CookieName)
		}

		if token == "" {
			minted, err := generateToken(csrfCfg.TokenLength)
			if err != nil {
				return ctx.JSON(router.StatusInternalServerError, map[string]string{
					"error": "CSRF token unavailable",
				})
			}
			token = minted
			ctx.Cookie(tokenCookie(csrfCfg, token))
		}

		ctx.SetHeader("Cache-Control", "no-store, max-age=0")
		ctx.SetHeader("Pragma", "no-cache")
		ctx.SetHeader("Expires", "0")

		return ctx.JSON(router.StatusOK, map[string]string{
			"token":       token,
			"field_name":  csrfCfg.FormFieldName,
			"header_name": csrfCfg.HeaderName,
		})
	}
}
