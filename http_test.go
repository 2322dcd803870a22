package auth

import (
	"testing"
	"time"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCookieConfigDefaults(t *testing.T) {
	cfg := CookieConfig{}.withDefaults()

	assert.Equal(t, DefaultRefreshCookieName, cfg.RefreshName)
	assert.Equal(t, DefaultRefreshCookiePath, cfg.RefreshPath)
	assert.Equal(t, DefaultPendingCookieName, cfg.PendingName)
	assert.Equal(t, DefaultRefreshCookiePath, cfg.PendingPath)
	assert.Equal(t, "Lax", cfg.SameSite)

	custom := CookieConfig{RefreshName: "rt", SameSite: "Strict", PendingPath: "/register"}.withDefaults()
	assert.Equal(t, "rt", custom.RefreshName)
	assert.Equal(t, "Strict", custom.SameSite)
	assert.Equal(t, "/register", custom.PendingPath)
}

func TestRefreshCookieIsHTTPOnlyAndScoped(t *testing.T) {
	cfg := CookieConfig{Secure: true, Domain: "blog.example.com"}.withDefaults()
	expires := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	var written []*router.Cookie
	ctx := router.NewMockContext()
	ctx.On("Cookie", mock.Anything).Run(func(args mock.Arguments) {
		written = append(written, args.Get(0).(*router.Cookie))
	}).Return()

	cfg.setRefresh(ctx, "raw-refresh", expires)
	cfg.clearRefresh(ctx)

	require.Len(t, written, 2)

	set := written[0]
	assert.Equal(t, DefaultRefreshCookieName, set.Name)
	assert.Equal(t, "raw-refresh", set.Value)
	assert.Equal(t, DefaultRefreshCookiePath, set.Path)
	assert.Equal(t, "blog.example.com", set.Domain)
	assert.True(t, set.HTTPOnly)
	assert.True(t, set.Secure)
	assert.True(t, expires.Equal(set.Expires))

	cleared := written[1]
	assert.Empty(t, cleared.Value)
	assert.True(t, cleared.Expires.Before(time.Now()))
}

func TestWantsJSON(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.On("GetString", "Accept", "").Return("application/json, text/plain")
	assert.True(t, wantsJSON(ctx))

	html := router.NewMockContext()
	html.On("GetString", "Accept", "").Return("text/html")
	assert.False(t, wantsJSON(html))
}

func TestClientInfoFromContext(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.On("IP").Return("10.0.0.9")
	ctx.On("GetString", "User-Agent", "").Return("firefox")

	info := clientInfoFromContext(ctx)
	assert.Equal(t, ClientInfo{IPAddress: "10.0.0.9", UserAgent: "firefox"}, info)
}
