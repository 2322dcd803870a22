package guard

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/middleware/csrf"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type sessionAPI struct {
	baseURL string
	repo    auth.RepositoryManager
}

func startSessionAPI(t *testing.T) *sessionAPI {
	t.Helper()
	ctx := context.Background()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = auth.Migrate(ctx, db)
	require.NoError(t, err)

	repo := auth.NewRepositoryManager(db)
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:    []byte("access-secret-for-guard-flow-tests-000"),
		PendingSecret:   []byte("pending-secret-for-guard-flow-tests-00"),
		AccessTokenTTL:  auth.DefaultAccessTokenTTL,
		PendingTokenTTL: auth.DefaultPendingTokenTTL,
		Issuer:          "go-auth-session",
		Audience:        []string{"blog"},
	}, auth.WithTokenLogger(auth.NoopLogger()))
	require.NoError(t, err)

	sessions := auth.NewSessionService(repo, tokens, auth.WithSessionLogger(auth.NoopLogger()))
	controller := auth.NewSessionController(sessions, tokens, auth.SessionControllerConfig{
		CSRF: &csrf.Config{},
	}, auth.WithControllerLogger(auth.NoopLogger()))

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}))
	})
	controller.RegisterRoutes(srv.Router())

	addr := freeAddr(t)
	go func() { _ = srv.Serve(addr) }()
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	api := &sessionAPI{baseURL: "http://" + addr, repo: repo}
	waitForServer(t, api.baseURL+"/auth/csrf")
	return api
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func waitForServer(t *testing.T, probeURL string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(probeURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)
}

// signedIn creates an account and stores only its refresh cookie in a new
// jar, the state a browser is in right after the provider redirect.
func (api *sessionAPI) signedIn(t *testing.T) (http.CookieJar, *auth.Account) {
	t.Helper()
	ctx := context.Background()

	account, err := api.repo.Accounts().Create(ctx, &auth.Account{
		Provider:          "google",
		ProviderSubjectID: "sub-ana",
		Email:             "ana@example.com",
		Username:          "ana",
	})
	require.NoError(t, err)

	raw, _, err := api.repo.RefreshTokens().Issue(ctx, account.ID)
	require.NoError(t, err)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse(api.baseURL)
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{{
		Name:  auth.DefaultRefreshCookieName,
		Value: raw,
		Path:  auth.DefaultRefreshCookiePath,
	}})

	return jar, account
}

func TestCheckSessionBootstrapsCSRFAgainstSessionController(t *testing.T) {
	api := startSessionAPI(t)
	jar, account := api.signedIn(t)

	exec, err := NewInteractiveContext(jar, api.baseURL, nil)
	require.NoError(t, err)
	_, ok := exec.Cookie(DefaultCSRFCookieName)
	require.False(t, ok)

	g, err := New(exec, api.baseURL)
	require.NoError(t, err)

	current, err := g.CheckSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "ana", current.Username)
	assert.Equal(t, account.PublicID.String(), current.ID)
	assert.NotEmpty(t, g.AccessToken())

	token, ok := exec.Cookie(DefaultCSRFCookieName)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	require.NoError(t, g.Logout(context.Background()))
	assert.Nil(t, g.CurrentAccount())

	again, err := g.CheckSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestCheckSessionRetriesAfterStaleCSRF(t *testing.T) {
	var refreshCalls, csrfCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/csrf", func(w http.ResponseWriter, r *http.Request) {
		csrfCalls.Add(1)
		http.SetCookie(w, &http.Cookie{Name: DefaultCSRFCookieName, Value: "fresh", Path: "/"})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "fresh"})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		cookie, err := r.Cookie(DefaultCSRFCookieName)
		if err != nil || cookie.Value != "fresh" || r.Header.Get(DefaultCSRFHeaderName) != "fresh" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeSession(w, "access-2", "ana")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse(server.URL)
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{{Name: DefaultCSRFCookieName, Value: "stale", Path: "/"}})

	exec, err := NewInteractiveContext(jar, server.URL, nil)
	require.NoError(t, err)
	g, err := New(exec, server.URL, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	current, err := g.CheckSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "ana", current.Username)
	assert.Equal(t, int32(2), refreshCalls.Load())
	assert.Equal(t, int32(1), csrfCalls.Load())
}
