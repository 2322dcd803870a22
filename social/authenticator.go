package social

import (
	"context"
	"strings"

	auth "github.com/goliatone/go-auth-session"
	"golang.org/x/oauth2"
)

// SocialAuthenticator runs the provider side of a social sign in. It
// ends with a verified external identity and never touches accounts.
type SocialAuthenticator struct {
	providers            map[string]SocialProvider
	stateManager         StateManager
	requireVerifiedEmail bool
	logger               auth.Logger
}

// SocialAuthOption configures the social authenticator.
type SocialAuthOption func(*SocialAuthenticator)

// WithProvider registers a social provider.
func WithProvider(provider SocialProvider) SocialAuthOption {
	return func(sa *SocialAuthenticator) {
		if provider == nil {
			return
		}
		sa.providers[provider.Name()] = provider
	}
}

// WithRequireVerifiedEmail toggles the verified email check (default: on)
func WithRequireVerifiedEmail(required bool) SocialAuthOption {
	return func(sa *SocialAuthenticator) {
		sa.requireVerifiedEmail = required
	}
}

// WithLogger sets the logger
func WithLogger(logger auth.Logger) SocialAuthOption {
	return func(sa *SocialAuthenticator) {
		if logger != nil {
			sa.logger = logger
		}
	}
}

// NewSocialAuthenticator creates a new social authenticator.
func NewSocialAuthenticator(stateManager StateManager, opts ...SocialAuthOption) *SocialAuthenticator {
	sa := &SocialAuthenticator{
		providers:            make(map[string]SocialProvider),
		stateManager:         stateManager,
		requireVerifiedEmail: true,
		logger:               auth.NoopLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sa)
		}
	}

	return sa
}

// Provider returns the named provider.
func (sa *SocialAuthenticator) Provider(name string) (SocialProvider, error) {
	provider, ok := sa.providers[strings.ToLower(name)]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// Providers lists the configured provider names.
func (sa *SocialAuthenticator) Providers() []string {
	names := make([]string, 0, len(sa.providers))
	for name := range sa.providers {
		names = append(names, name)
	}
	return names
}

// BeginAuth returns the provider authorization URL. The state carries a
// PKCE verifier so the code can only be redeemed by this flow.
func (sa *SocialAuthenticator) BeginAuth(ctx context.Context, providerName string) (string, error) {
	provider, err := sa.Provider(providerName)
	if err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	state, err := sa.stateManager.Encode(&OAuthState{
		Provider:     provider.Name(),
		CodeVerifier: verifier,
	})
	if err != nil {
		return "", err
	}

	return provider.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// CompleteAuth verifies the state, exchanges the code and resolves the
// identity behind it.
func (sa *SocialAuthenticator) CompleteAuth(ctx context.Context, providerName, code, stateToken string) (*auth.ExternalIdentity, error) {
	provider, err := sa.Provider(providerName)
	if err != nil {
		return nil, err
	}

	state, err := sa.stateManager.Decode(stateToken)
	if err != nil {
		return nil, err
	}

	if state.Provider != provider.Name() {
		return nil, ErrInvalidState
	}

	token, err := provider.Exchange(ctx, code, oauth2.VerifierOption(state.CodeVerifier))
	if err != nil {
		sa.logger.Warn("oauth code exchange failed", "provider", provider.Name(), "error", err)
		return nil, wrapProviderError(ErrTokenExchangeFailed, provider.Name(), err)
	}

	profile, err := provider.Profile(ctx, token)
	if err != nil {
		sa.logger.Warn("oauth profile fetch failed", "provider", provider.Name(), "error", err)
		return nil, wrapProviderError(ErrUserInfoFailed, provider.Name(), err)
	}

	if profile == nil || profile.SubjectID == "" {
		return nil, ErrUserInfoFailed
	}

	if sa.requireVerifiedEmail && (profile.Email == "" || !profile.EmailVerified) {
		return nil, ErrEmailNotVerified
	}

	return &auth.ExternalIdentity{
		Provider:  provider.Name(),
		SubjectID: profile.SubjectID,
		Email:     profile.Email,
	}, nil
}
