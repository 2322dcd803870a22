package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

var (
	ErrTokenMismatch = errors.New("CSRF token mismatch")
	ErrTokenMissing  = errors.New("CSRF token missing")
)

// DefaultTokenLength is the default number of random bytes in a token
const DefaultTokenLength = 32

// DefaultCookieName is the cookie that carries the token. It is readable
// by scripts so clients can echo it back in a header.
const DefaultCookieName = "csrf_token"

// DefaultContextKey is the default key for storing CSRF tokens in context
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_csrf"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// DefaultCookieMaxAge is how long a minted cookie lives
const DefaultCookieMaxAge = 24 * time.Hour

// Config defines the configuration for the double submit CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// TokenLength defines the number of random bytes in a token
	TokenLength int

	// CookieName is the readable cookie holding the token
	CookieName   string
	CookiePath   string
	CookieDomain string
	CookieSecure bool
	// CookieSameSite defaults to Lax
	CookieSameSite string
	CookieMaxAge   time.Duration

	// ContextKey defines the key for storing the token in context
	ContextKey string

	// FormFieldName defines the name of the form field containing the token
	FormFieldName string

	// HeaderName defines the header name for the token
	HeaderName string

	// TokenLookup defines where to look for the submitted token
	// Format: "header:X-CSRF-Token,form:_csrf"
	TokenLookup string

	// ErrorHandler defines the error handler
	ErrorHandler router.ErrorHandler

	// SuccessHandler defines the success handler
	SuccessHandler router.HandlerFunc

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Now is used for cookie expiry
	Now func() time.Time
}

// TokenExtractor defines a function to extract token from request
type TokenExtractor func(router.Context) (string, error)

// New creates a double submit CSRF middleware. Safe methods mint the
// cookie when it is missing, unsafe methods must echo the cookie value in
// the header or form field.
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			token := ctx.Cookies(cfg.CookieName)

			method := strings.ToUpper(ctx.Method())
			if slices.Contains(cfg.SafeMethods, method) {
				if token == "" {
					minted, err := generateToken(cfg.TokenLength)
					if err != nil {
						return cfg.ErrorHandler(ctx, err)
					}
					token = minted
					ctx.Cookie(tokenCookie(cfg, token))
				}
				storeToken(ctx, cfg, token)
				return cfg.SuccessHandler(ctx)
			}

			if err := validateToken(ctx, cfg, token); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			storeToken(ctx, cfg, token)
			return cfg.SuccessHandler(ctx)
		}
	}
}

func storeToken(ctx router.Context, cfg Config, token string) {
	ctx.Locals(cfg.ContextKey, token)
	ctx.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
	ctx.Locals(cfg.ContextKey+"_header", cfg.HeaderName)
}

// validateToken compares the submitted token with the cookie
func validateToken(ctx router.Context, cfg Config, cookieToken string) error {
	if cookieToken == "" {
		return ErrTokenMissing
	}

	receivedToken, err := extractToken(ctx, cfg)
	if err != nil {
		return err
	}

	if receivedToken == "" {
		return ErrTokenMissing
	}

	if subtle.ConstantTimeCompare([]byte(receivedToken), []byte(cookieToken)) != 1 {
		return ErrTokenMismatch
	}

	return nil
}

// generateToken generates a cryptographically secure random token
func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

func tokenCookie(cfg Config, token string) *router.Cookie {
	return &router.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		Path:     cfg.CookiePath,
		Domain:   cfg.CookieDomain,
		Expires:  cfg.Now().Add(cfg.CookieMaxAge),
		HTTPOnly: false,
		Secure:   cfg.CookieSecure,
		SameSite: cfg.CookieSameSite,
	}
}

func extractToken(ctx router.Context, cfg Config) (string, error) {
	extractors := getExtractors(cfg.TokenLookup, cfg.FormFieldName, cfg.HeaderName)

	for _, extractor := range extractors {
		token, err := extractor(ctx)
		if token != "" && err == nil {
			return token, nil
		}
	}

	return "", nil
}

// getExtractors returns token extractors based on configuration
func getExtractors(tokenLookup, formField, header string) []TokenExtractor {
	var extractors []TokenExtractor

	if tokenLookup == "" {
		extractors = append(extractors,
			extractorFromHeader(header),
			extractorFromForm(formField),
		)
		return extractors
	}

	// Parse tokenLookup: "header:X-CSRF-Token,form:_csrf"
	parts := strings.Split(tokenLookup, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "form:") {
			field := strings.TrimPrefix(part, "form:")
			extractors = append(extractors, extractorFromForm(field))
		} else if strings.HasPrefix(part, "header:") {
			headerName := strings.TrimPrefix(part, "header:")
			extractors = append(extractors, extractorFromHeader(headerName))
		}
	}

	return extractors
}

// extractorFromForm extracts token from form data
func extractorFromForm(fieldName string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		return ctx.FormValue(fieldName), nil
	}
}

// extractorFromHeader extracts token from request header
func extractorFromHeader(headerName string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		return ctx.GetString(headerName, ""), nil
	}
}

// configDefault returns a default config
func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}

	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}

	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}

	if cfg.CookieSameSite == "" {
		cfg.CookieSameSite = "Lax"
	}

	if cfg.CookieMaxAge == 0 {
		cfg.CookieMaxAge = DefaultCookieMaxAge
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	switch err {
	case ErrTokenMissing:
		return ctx.Status(router.StatusForbidden).SendString("CSRF token missing")
	case ErrTokenMismatch:
		return ctx.Status(router.StatusForbidden).SendString("CSRF token mismatch")
	default:
		return ctx.Status(router.StatusInternalServerError).SendString("CSRF validation error")
	}
}
