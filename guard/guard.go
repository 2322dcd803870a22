package guard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultCSRFCookieName = "csrf_token"
	DefaultCSRFHeaderName = "X-CSRF-Token"
	DefaultRefreshPath    = "/auth/refresh"
	DefaultLogoutPath     = "/auth/logout"
	DefaultCSRFPath       = "/auth/csrf"
)

// Account is the client view of the signed in account
type Account struct {
	ID       string  `json:"id"`
	Provider string  `json:"provider"`
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Bio      *string `json:"bio"`
	Image    *string `json:"image"`
}

type sessionResponse struct {
	Account     *Account `json:"account"`
	AccessToken string   `json:"accessToken"`
}

// Guard keeps the in memory session of a client and decorates its
// requests with the credentials the server expects.
type Guard struct {
	exec        ExecutionContext
	base        *url.URL
	client      *http.Client
	logger      auth.Logger
	csrfCookie  string
	csrfHeader  string
	refreshPath string
	logoutPath  string
	csrfPath    string

	mu          sync.RWMutex
	accessToken string
	account     *Account
	generation  uint64
}

// Option customizes the guard
type Option func(*Guard)

// WithHTTPClient sets the client whose transport is decorated
func WithHTTPClient(client *http.Client) Option {
	return func(g *Guard) {
		if client != nil {
			g.client = client
		}
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithCSRFNames overrides the CSRF cookie and header names
func WithCSRFNames(cookie, header string) Option {
	return func(g *Guard) {
		if cookie != "" {
			g.csrfCookie = cookie
		}
		if header != "" {
			g.csrfHeader = header
		}
	}
}

// WithSessionPaths overrides the refresh and logout endpoints
func WithSessionPaths(refresh, logout string) Option {
	return func(g *Guard) {
		if refresh != "" {
			g.refreshPath = refresh
		}
		if logout != "" {
			g.logoutPath = logout
		}
	}
}

// WithCSRFPath overrides the endpoint that hands out the CSRF token
func WithCSRFPath(path string) Option {
	return func(g *Guard) {
		if path != "" {
			g.csrfPath = path
		}
	}
}

// New creates a guard for the API at baseURL.
func New(exec ExecutionContext, baseURL string, opts ...Option) (*Guard, error) {
	if exec == nil {
		return nil, goerrors.New("execution context is required", goerrors.CategoryBadInput)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid base url")
	}

	g := &Guard{
		exec:        exec,
		base:        base,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      auth.NoopLogger(),
		csrfCookie:  DefaultCSRFCookieName,
		csrfHeader:  DefaultCSRFHeaderName,
		refreshPath: DefaultRefreshPath,
		logoutPath:  DefaultLogoutPath,
		csrfPath:    DefaultCSRFPath,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	decorated := *g.client
	decorated.Transport = g.Transport(g.client.Transport)
	if jp, ok := exec.(interface{ Jar() http.CookieJar }); ok && decorated.Jar == nil {
		decorated.Jar = jp.Jar()
	}
	// redirects are surfaced to the caller, never followed
	decorated.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	g.client = &decorated

	return g, nil
}

// Client returns the decorated HTTP client.
func (g *Guard) Client() *http.Client {
	return g.client
}

// Transport wraps next so requests carry the bearer token and CSRF header.
func (g *Guard) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return g.roundTrip(next, req)
	})
}

// AccessToken returns the token held in memory.
func (g *Guard) AccessToken() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.accessToken
}

// CurrentAccount returns the signed in account or nil.
func (g *Guard) CurrentAccount() *Account {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.account
}

// CheckSession exchanges the refresh cookie for a session. A logout that
// lands while the call is in flight wins, and a cancelled ctx leaves the
// state untouched.
func (g *Guard) CheckSession(ctx context.Context) (*Account, error) {
	if !g.exec.Interactive() {
		return nil, nil
	}

	generation := g.currentGeneration()

	resp, err := g.post(ctx, g.refreshPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "session check failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		g.commit(generation, "", nil)
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("session check", resp)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "invalid session response")
	}

	if ctx.Err() != nil {
		return nil, nil
	}

	if !g.commit(generation, session.AccessToken, session.Account) {
		g.logger.Debug("discarding session check that raced a logout")
		return nil, nil
	}

	return session.Account, nil
}

// Logout clears the local session before telling the server, so an in
// flight CheckSession cannot restore it.
func (g *Guard) Logout(ctx context.Context) error {
	g.mu.Lock()
	g.generation++
	g.accessToken = ""
	g.account = nil
	g.mu.Unlock()

	if !g.exec.Interactive() {
		return nil
	}

	resp, err := g.post(ctx, g.logoutPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryOperation, "logout failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized {
		return statusError("logout", resp)
	}
	return nil
}

func (g *Guard) roundTrip(next http.RoundTripper, req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	if token := g.AccessToken(); token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	guarded := isMutating(req.Method) && req.Header.Get(g.csrfHeader) == ""
	if guarded {
		if value, ok := g.exec.Cookie(g.csrfCookie); ok && value != "" {
			req.Header.Set(g.csrfHeader, value)
		} else if g.exec.Interactive() {
			g.applyCSRF(req)
		}
	}

	resp, err := next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// the cookie expired or rotated under us, fetch it again and retry once
	if guarded && resp.StatusCode == http.StatusForbidden && g.exec.Interactive() && rewindable(req) {
		retry, err := g.retryWithCSRF(req)
		if err == nil {
			resp.Body.Close()
			resp, err = next.RoundTrip(retry)
			if err != nil {
				return nil, err
			}
			req = retry
		}
	}

	if resp.StatusCode == http.StatusUnauthorized && g.exec.Interactive() && !isSessionCall(req.Context()) {
		g.invalidate()
		g.exec.ShowErrorView(ErrorView{
			Path:   req.URL.Path,
			Status: resp.StatusCode,
		})
	}

	return resp, nil
}

// applyCSRF fetches a token and sets both the header and the cookie on req.
// The request cookies were resolved before the token existed.
func (g *Guard) applyCSRF(req *http.Request) bool {
	token, err := g.fetchCSRF(req.Context())
	if err != nil {
		g.logger.Warn("csrf bootstrap failed", "error", err)
		return false
	}
	req.Header.Set(g.csrfHeader, token)
	replaceCookie(req, g.csrfCookie, token)
	return true
}

func (g *Guard) retryWithCSRF(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	if !g.applyCSRF(retry) {
		return nil, goerrors.New("csrf token unavailable", goerrors.CategoryOperation)
	}
	return retry, nil
}

// fetchCSRF asks the server for the token. The server echoes the cookie it
// received or mints a new one, the client jar stores it.
func (g *Guard) fetchCSRF(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(withSessionCall(ctx), http.MethodGet, g.resolve(g.csrfPath), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("csrf bootstrap", resp)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "invalid csrf response")
	}
	if payload.Token == "" {
		return "", goerrors.New("empty csrf token", goerrors.CategoryOperation)
	}
	return payload.Token, nil
}

func (g *Guard) post(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(withSessionCall(ctx), http.MethodPost, g.resolve(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return g.client.Do(req)
}

func (g *Guard) resolve(path string) string {
	return g.base.ResolveReference(&url.URL{Path: path}).String()
}

func (g *Guard) currentGeneration() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.generation
}

func (g *Guard) commit(generation uint64, token string, account *Account) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generation != generation {
		return false
	}
	g.accessToken = token
	g.account = account
	return true
}

func (g *Guard) invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accessToken = ""
	g.account = nil
}

type sessionCallKey struct{}

// session calls report 401 to their caller instead of the error view
func withSessionCall(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionCallKey{}, true)
}

func isSessionCall(ctx context.Context) bool {
	v, _ := ctx.Value(sessionCallKey{}).(bool)
	return v
}

func rewindable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func replaceCookie(req *http.Request, name, value string) {
	cookies := req.Cookies()
	req.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name != name {
			req.AddCookie(c)
		}
	}
	req.AddCookie(&http.Cookie{Name: name, Value: value})
}

func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func statusError(action string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return goerrors.New(action+" returned "+resp.Status, goerrors.CategoryOperation).
		WithMetadata(map[string]any{
			"status": resp.StatusCode,
			"body":   string(body),
		})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
