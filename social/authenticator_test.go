package social

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type stubStateManager struct {
	states    map[string]*OAuthState
	lastToken string
	lastState *OAuthState
	seq       int
}

func (s *stubStateManager) Encode(state *OAuthState) (string, error) {
	if state == nil {
		return "", ErrInvalidState
	}
	if s.states == nil {
		s.states = map[string]*OAuthState{}
	}
	s.seq++
	token := fmt.Sprintf("state-%d", s.seq)
	s.states[token] = state
	s.lastToken = token
	s.lastState = state
	return token, nil
}

func (s *stubStateManager) Decode(token string) (*OAuthState, error) {
	state, ok := s.states[token]
	if !ok {
		return nil, ErrInvalidState
	}
	return state, nil
}

type stubProvider struct {
	name         string
	authBase     string
	profile      *SocialProfile
	exchangeErr  error
	profileErr   error
	lastState    string
	lastVerifier bool
}

func (p *stubProvider) Name() string {
	return p.name
}

func (p *stubProvider) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	p.lastState = state
	cfg := oauth2.Config{Endpoint: oauth2.Endpoint{AuthURL: p.authBase}}
	return cfg.AuthCodeURL(state, opts...)
}

func (p *stubProvider) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	p.lastVerifier = len(opts) > 0
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "provider-access"}, nil
}

func (p *stubProvider) Profile(ctx context.Context, token *oauth2.Token) (*SocialProfile, error) {
	if p.profileErr != nil {
		return nil, p.profileErr
	}
	return p.profile, nil
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		name:     "google",
		authBase: "https://auth.example/authorize",
		profile: &SocialProfile{
			Provider:      "google",
			SubjectID:     "sub-123",
			Email:         "ana@example.com",
			EmailVerified: true,
		},
	}
}

func TestAuthenticatorBeginAuthUsesPKCE(t *testing.T) {
	states := &stubStateManager{}
	provider := newStubProvider()
	sa := NewSocialAuthenticator(states, WithProvider(provider))

	authURL, err := sa.BeginAuth(context.Background(), "google")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, states.lastToken, parsed.Query().Get("state"))
	require.Equal(t, "S256", parsed.Query().Get("code_challenge_method"))
	require.NotEmpty(t, parsed.Query().Get("code_challenge"))
	require.NotEmpty(t, states.lastState.CodeVerifier)
	require.Equal(t, "google", states.lastState.Provider)
}

func TestAuthenticatorBeginAuthUnknownProvider(t *testing.T) {
	sa := NewSocialAuthenticator(&stubStateManager{})
	_, err := sa.BeginAuth(context.Background(), "myspace")
	require.ErrorIs(t, err, ErrProviderNotFound)
}

func TestAuthenticatorCompleteAuthReturnsIdentity(t *testing.T) {
	states := &stubStateManager{}
	provider := newStubProvider()
	sa := NewSocialAuthenticator(states, WithProvider(provider))

	_, err := sa.BeginAuth(context.Background(), "google")
	require.NoError(t, err)

	identity, err := sa.CompleteAuth(context.Background(), "google", "code", states.lastToken)
	require.NoError(t, err)
	require.Equal(t, "google", identity.Provider)
	require.Equal(t, "sub-123", identity.SubjectID)
	require.Equal(t, "ana@example.com", identity.Email)
	require.True(t, provider.lastVerifier)
}

func TestAuthenticatorCompleteAuthRejectsProviderMismatch(t *testing.T) {
	states := &stubStateManager{}
	states.states = map[string]*OAuthState{"forged": {Provider: "github"}}
	sa := NewSocialAuthenticator(states, WithProvider(newStubProvider()))

	_, err := sa.CompleteAuth(context.Background(), "google", "code", "forged")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAuthenticatorCompleteAuthUnverifiedEmail(t *testing.T) {
	states := &stubStateManager{}
	provider := newStubProvider()
	provider.profile.EmailVerified = false
	sa := NewSocialAuthenticator(states, WithProvider(provider))

	_, err := sa.BeginAuth(context.Background(), "google")
	require.NoError(t, err)

	_, err = sa.CompleteAuth(context.Background(), "google", "code", states.lastToken)
	require.ErrorIs(t, err, ErrEmailNotVerified)

	relaxed := NewSocialAuthenticator(states, WithProvider(provider), WithRequireVerifiedEmail(false))
	identity, err := relaxed.CompleteAuth(context.Background(), "google", "code", states.lastToken)
	require.NoError(t, err)
	require.Equal(t, "sub-123", identity.SubjectID)
}

func TestAuthenticatorCompleteAuthExchangeFailure(t *testing.T) {
	states := &stubStateManager{}
	provider := newStubProvider()
	provider.exchangeErr = &ProviderError{Provider: "google", Operation: "exchange", Code: "invalid_grant", Status: 400}
	sa := NewSocialAuthenticator(states, WithProvider(provider))

	_, err := sa.BeginAuth(context.Background(), "google")
	require.NoError(t, err)

	_, err = sa.CompleteAuth(context.Background(), "google", "code", states.lastToken)
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	require.Equal(t, TextCodeTokenExchangeFail, richErr.TextCode)
	require.Equal(t, "invalid_grant", richErr.Metadata["code"])

	var perr *ProviderError
	require.True(t, errors.As(richErr.Source, &perr))
}
