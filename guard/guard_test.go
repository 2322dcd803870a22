package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionServer struct {
	*httptest.Server
	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	refreshFn    func(w http.ResponseWriter, r *http.Request)

	mu      sync.Mutex
	headers map[string]http.Header
}

func newSessionServer(t *testing.T) *sessionServer {
	t.Helper()
	s := &sessionServer{headers: map[string]http.Header{}}
	s.refreshFn = func(w http.ResponseWriter, r *http.Request) {
		writeSession(w, "access-1", "alice")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		s.record(r)
		s.refreshFn(w, r)
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		s.logoutCalls.Add(1)
		s.record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/articles", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/private", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		w.WriteHeader(http.StatusUnauthorized)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *sessionServer) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers[r.URL.Path] = r.Header.Clone()
}

func (s *sessionServer) header(path string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[path]
}

func writeSession(w http.ResponseWriter, token, username string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"account":     map[string]any{"id": "pub-1", "username": username, "email": username + "@example.com"},
		"accessToken": token,
	})
}

func newInteractive(t *testing.T, server *sessionServer, views *[]ErrorView) (*Guard, http.CookieJar) {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	base, err := url.Parse(server.URL)
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{{Name: DefaultCSRFCookieName, Value: "csrf-abc", Path: "/"}})

	exec, err := NewInteractiveContext(jar, server.URL, func(view ErrorView) {
		*views = append(*views, view)
	})
	require.NoError(t, err)

	g, err := New(exec, server.URL, WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return g, jar
}

func TestPrerenderSkipsNetwork(t *testing.T) {
	server := newSessionServer(t)

	g, err := New(PrerenderContext(), server.URL, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	account, err := g.CheckSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, account)

	require.NoError(t, g.Logout(context.Background()))

	assert.Equal(t, int32(0), server.refreshCalls.Load())
	assert.Equal(t, int32(0), server.logoutCalls.Load())
	assert.False(t, PrerenderContext().Interactive())
}

func TestCheckSessionStoresAccountAndToken(t *testing.T) {
	server := newSessionServer(t)
	var views []ErrorView
	g, _ := newInteractive(t, server, &views)

	account, err := g.CheckSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "alice", account.Username)
	assert.Equal(t, "access-1", g.AccessToken())
	assert.Equal(t, account, g.CurrentAccount())

	assert.Equal(t, "csrf-abc", server.header("/auth/refresh").Get(DefaultCSRFHeaderName))
}

func TestCheckSessionUnauthorizedIsQuiet(t *testing.T) {
	server := newSessionServer(t)
	server.refreshFn = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	var views []ErrorView
	g, _ := newInteractive(t, server, &views)

	account, err := g.CheckSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, account)
	assert.Empty(t, views)
	assert.Empty(t, g.AccessToken())
}

func TestClientAddsBearerAndCSRF(t *testing.T) {
	server := newSessionServer(t)
	var views []ErrorView
	g, _ := newInteractive(t, server, &views)

	_, err := g.CheckSession(context.Background())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/articles", nil)
	require.NoError(t, err)
	resp, err := g.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	headers := server.header("/api/articles")
	assert.Equal(t, "Bearer access-1", headers.Get("Authorization"))
	assert.Equal(t, "csrf-abc", headers.Get(DefaultCSRFHeaderName))
}

func TestClientKeepsCallerCSRFHeader(t *testing.T) {
	server := newSessionServer(t)
	var views []ErrorView
	g, _ := newInteractive(t, server, &views)

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/articles", nil)
	require.NoError(t, err)
	req.Header.Set(DefaultCSRFHeaderName, "explicit")

	resp, err := g.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "explicit", server.header("/api/articles").Get(DefaultCSRFHeaderName))
}

func TestClientSkipsCSRFOnSafeMethods(t *testing.T) {
	server := newSessionServer(t)
	var views []ErrorView
	g, _ := newInteractive(t, server, &views)

	resp, err := g.Client().Get(server.URL + "/api/articles")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, server.header("/api/articles").Get(DefaultCSRFHeaderName))
}

func TestUnauthorizedResponseShowsErrorView(t *testing.T) {
	server := newSessionServer(t)
	var views []ErrorView
	g, _ := newInteractive(t, server, &views)

	_, err := g.CheckSession(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, g.AccessToken())

	resp, err := g.Client().Get(server.URL + "/api/private")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Len(t, views, 1)
	assert.Equal(t, "/api/private", views[0].Path)
	assert.Empty(t, g.AccessToken())
	assert.Nil(t, g.CurrentAccount())
}

func TestLogoutWinsOverInFlightCheck(t *testing.T) {
	server := newSessionServer(t)
	started := make(chan struct{})
	release := make(chan struct{})
	server.refreshFn = func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		writeSession(w, "stale-access", "alice")
	}

	var views []ErrorView
	g, _ := newInteractive(t, server, &views)

	type result struct {
		account *Account
		err     error
	}
	done := make(chan result, 1)
	go func() {
		account, err := g.CheckSession(context.Background())
		done <- result{account, err}
	}()

	<-started
	require.NoError(t, g.Logout(context.Background()))
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Nil(t, res.account)
	assert.Empty(t, g.AccessToken())
	assert.Nil(t, g.CurrentAccount())
	assert.Equal(t, int32(1), server.logoutCalls.Load())
}

func TestCheckSessionCancelledIsSilent(t *testing.T) {
	server := newSessionServer(t)
	var views []ErrorView
	g, _ := newInteractive(t, server, &views)

	_, err := g.CheckSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", g.AccessToken())

	release := make(chan struct{})
	server.refreshFn = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		writeSession(w, "access-2", "alice")
	}
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	account, err := g.CheckSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, account)
	assert.Equal(t, "access-1", g.AccessToken())
	assert.Empty(t, views)
}

func TestNewInteractiveContextRequiresJar(t *testing.T) {
	_, err := NewInteractiveContext(nil, "http://localhost", nil)
	require.Error(t, err)

	_, err = New(nil, "http://localhost")
	require.Error(t, err)
}
