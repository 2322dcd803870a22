package github

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-auth-session/social"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	defaultUserURL   = "https://api.github.com/user"
	defaultEmailsURL = "https://api.github.com/user/emails"
)

// Config holds GitHub OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL   string
	TokenURL  string
	UserURL   string
	EmailsURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the default GitHub scopes.
func DefaultScopes() []string {
	return []string{"user:email", "read:user"}
}

// Provider implements social.SocialProvider for GitHub. GitHub has no
// email_verified claim, so the primary verified address is looked up.
type Provider struct {
	oauth      *oauth2.Config
	userURL    string
	emailsURL  string
	httpClient *http.Client
}

var _ social.SocialProvider = (*Provider)(nil)

// New creates a new GitHub provider.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}
	if cfg.EmailsURL == "" {
		cfg.EmailsURL = defaultEmailsURL
	}

	endpoint := endpoints.GitHub
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		userURL:    cfg.UserURL,
		emailsURL:  cfg.EmailsURL,
		httpClient: client,
	}
}

// Name implements social.SocialProvider.
func (p *Provider) Name() string {
	return "github"
}

// AuthCodeURL implements social.SocialProvider.
func (p *Provider) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return p.oauth.AuthCodeURL(state, opts...)
}

// Exchange implements social.SocialProvider.
func (p *Provider) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	token, err := p.oauth.Exchange(p.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, social.ExchangeError(p.Name(), err)
	}
	return token, nil
}

// Profile implements social.SocialProvider.
func (p *Provider) Profile(ctx context.Context, token *oauth2.Token) (*social.SocialProfile, error) {
	client := p.oauth.Client(p.clientContext(ctx), token)

	var user githubUser
	if err := social.FetchJSON(ctx, client, p.Name(), p.userURL, &user); err != nil {
		return nil, err
	}

	var emails []githubEmail
	if err := social.FetchJSON(ctx, client, p.Name(), p.emailsURL, &emails); err != nil {
		return nil, err
	}

	profile := &social.SocialProfile{
		Provider:  p.Name(),
		SubjectID: strconv.FormatInt(user.ID, 10),
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}

	for _, email := range emails {
		if email.Primary {
			profile.Email = email.Email
			profile.EmailVerified = email.Verified
			break
		}
	}

	return profile, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}
