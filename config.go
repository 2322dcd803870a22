package auth

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

const (
	DefaultAccessTokenTTL      = 15 * time.Minute
	DefaultPendingTokenTTL     = 10 * time.Minute
	DefaultRefreshTokenTTL     = 30 * 24 * time.Hour
	DefaultRefreshTokenIdleTTL = 7 * 24 * time.Hour

	// MinSecretLength is the shortest HMAC secret accepted by TokenService.
	MinSecretLength = 32
)

// Config holds session options
type Config interface {
	GetAccessTokenSecret() string
	GetPendingTokenSecret() string
	GetAccessTokenTTL() time.Duration
	GetPendingTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetRefreshTokenIdleTTL() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetCookieSecure() bool
	GetCookieDomain() string
}

// Options is the concrete Config loaded from the environment.
type Options struct {
	AccessTokenSecret   string        `json:"-"`
	PendingTokenSecret  string        `json:"-"`
	StateSecret         string        `json:"-"`
	AccessTokenTTL      time.Duration `json:"access_token_ttl"`
	PendingTokenTTL     time.Duration `json:"pending_token_ttl"`
	RefreshTokenTTL     time.Duration `json:"refresh_token_ttl"`
	RefreshTokenIdleTTL time.Duration `json:"refresh_token_idle_ttl"`
	Issuer              string        `json:"issuer"`
	Audience            []string      `json:"audience"`
	CookieSecure        bool          `json:"cookie_secure"`
	CookieDomain        string        `json:"cookie_domain"`

	GoogleClientID     string `json:"google_client_id"`
	GoogleClientSecret string `json:"-"`
	GoogleCallbackURL  string `json:"google_callback_url"`

	GitHubClientID     string `json:"github_client_id"`
	GitHubClientSecret string `json:"-"`
	GitHubCallbackURL  string `json:"github_callback_url"`

	DatabaseDriver   string `json:"database_driver"`
	DatabaseDSN      string `json:"-"`
	HTTPAddr         string `json:"http_addr"`
	MetricsAddr      string `json:"metrics_addr"`
	SuccessRedirect  string `json:"success_redirect"`
	RegisterRedirect string `json:"register_redirect"`
}

var _ Config = (*Options)(nil)

func (o *Options) GetAccessTokenSecret() string          { return o.AccessTokenSecret }
func (o *Options) GetPendingTokenSecret() string         { return o.PendingTokenSecret }
func (o *Options) GetAccessTokenTTL() time.Duration      { return o.AccessTokenTTL }
func (o *Options) GetPendingTokenTTL() time.Duration     { return o.PendingTokenTTL }
func (o *Options) GetRefreshTokenTTL() time.Duration     { return o.RefreshTokenTTL }
func (o *Options) GetRefreshTokenIdleTTL() time.Duration { return o.RefreshTokenIdleTTL }
func (o *Options) GetIssuer() string                     { return o.Issuer }
func (o *Options) GetAudience() []string                 { return o.Audience }
func (o *Options) GetCookieSecure() bool                 { return o.CookieSecure }
func (o *Options) GetCookieDomain() string               { return o.CookieDomain }

// Validate checks that secrets are present and TTLs are usable.
func (o *Options) Validate() error {
	if len(o.AccessTokenSecret) < MinSecretLength {
		return errors.Wrap(ErrSigningMisconfigured, errors.CategoryInternal, "ACCESS_TOKEN_SECRET too short")
	}
	if len(o.PendingTokenSecret) < MinSecretLength {
		return errors.Wrap(ErrSigningMisconfigured, errors.CategoryInternal, "PENDING_TOKEN_SECRET too short")
	}
	if o.AccessTokenTTL <= 0 || o.PendingTokenTTL <= 0 || o.RefreshTokenTTL <= 0 {
		return errors.New("token TTLs must be positive", errors.CategoryValidation).
			WithTextCode("session_invalid_ttl")
	}
	return nil
}

// LoadConfig reads Options from the environment. A .env file in the
// working directory is loaded first when present.
func LoadConfig(files ...string) (*Options, error) {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load env file")
		}
	}

	var err error
	opts := &Options{
		AccessTokenSecret:  os.Getenv("ACCESS_TOKEN_SECRET"),
		PendingTokenSecret: os.Getenv("PENDING_TOKEN_SECRET"),
		StateSecret:        os.Getenv("STATE_SECRET"),
		Issuer:             getEnv("TOKEN_ISSUER", "go-auth-session"),
		Audience:           splitList(getEnv("TOKEN_AUDIENCE", "blog")),
		CookieDomain:       os.Getenv("COOKIE_DOMAIN"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:  os.Getenv("GOOGLE_CALLBACK_URL"),
		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		GitHubCallbackURL:  os.Getenv("GITHUB_CALLBACK_URL"),
		DatabaseDriver:     getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:        getEnv("DATABASE_DSN", "file:auth.db?cache=shared"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8572"),
		MetricsAddr:        os.Getenv("METRICS_ADDR"),
		SuccessRedirect:    getEnv("SUCCESS_REDIRECT", "/"),
		RegisterRedirect:   getEnv("REGISTER_REDIRECT", "/register"),
	}

	if opts.AccessTokenTTL, err = getDuration("ACCESS_TOKEN_TTL", DefaultAccessTokenTTL); err != nil {
		return nil, err
	}
	if opts.PendingTokenTTL, err = getDuration("PENDING_TOKEN_TTL", DefaultPendingTokenTTL); err != nil {
		return nil, err
	}
	if opts.RefreshTokenTTL, err = getDuration("REFRESH_TOKEN_TTL", DefaultRefreshTokenTTL); err != nil {
		return nil, err
	}
	if opts.RefreshTokenIdleTTL, err = getDuration("REFRESH_TOKEN_IDLE_TTL", DefaultRefreshTokenIdleTTL); err != nil {
		return nil, err
	}
	if opts.CookieSecure, err = getBool("COOKIE_SECURE", true); err != nil {
		return nil, err
	}

	return opts, opts.Validate()
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryValidation, "invalid duration for "+key)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryValidation, "invalid boolean for "+key)
	}
	return b, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
