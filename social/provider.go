package social

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// SocialProvider is an OAuth2 identity provider. Implementations exchange
// an authorization code and resolve the verified profile behind it.
type SocialProvider interface {
	// Name returns the provider identifier (e.g., "google").
	Name() string

	// AuthCodeURL returns the URL to redirect users for authorization.
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string

	// Exchange trades an authorization code for an access token.
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)

	// Profile fetches the user's profile using the access token.
	Profile(ctx context.Context, token *oauth2.Token) (*SocialProfile, error)
}

// SocialProfile is the normalized identity returned by a provider.
type SocialProfile struct {
	Provider      string
	SubjectID     string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// FetchJSON GETs url with client and decodes a 200 response into out.
// Other statuses are reported as a ProviderError.
func FetchJSON(ctx context.Context, client *http.Client, provider, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &ProviderError{Provider: provider, Operation: "user_info", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderError{Provider: provider, Operation: "user_info", Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{
			Provider:    provider,
			Operation:   "user_info",
			Status:      resp.StatusCode,
			Description: string(body),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ProviderError{
			Provider:    provider,
			Operation:   "user_info",
			Status:      resp.StatusCode,
			Code:        "invalid_response",
			Description: "failed to decode response",
			Err:         err,
		}
	}
	return nil
}

// ExchangeError normalizes an oauth2 token endpoint failure.
func ExchangeError(provider string, err error) *ProviderError {
	perr := &ProviderError{Provider: provider, Operation: "exchange", Err: err}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		perr.Code = rerr.ErrorCode
		perr.Description = rerr.ErrorDescription
		if rerr.Response != nil {
			perr.Status = rerr.Response.StatusCode
		}
	}
	return perr
}
