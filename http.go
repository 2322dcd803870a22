package auth

import (
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

const (
	DefaultRefreshCookieName = "refresh_token"
	DefaultRefreshCookiePath = "/auth"
	DefaultPendingCookieName = "pending_registration"
)

// CookieConfig describes the session cookies written by the controllers
type CookieConfig struct {
	RefreshName string
	RefreshPath string
	PendingName string
	PendingPath string
	Secure      bool
	Domain      string
	SameSite    string
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.RefreshName == "" {
		c.RefreshName = DefaultRefreshCookieName
	}
	if c.RefreshPath == "" {
		c.RefreshPath = DefaultRefreshCookiePath
	}
	if c.PendingName == "" {
		c.PendingName = DefaultPendingCookieName
	}
	if c.PendingPath == "" {
		c.PendingPath = DefaultRefreshCookiePath
	}
	if c.SameSite == "" {
		c.SameSite = "Lax"
	}
	return c
}

func (c CookieConfig) setRefresh(ctx router.Context, token string, expires time.Time) {
	ctx.Cookie(c.cookie(c.RefreshName, c.RefreshPath, token, expires))
}

func (c CookieConfig) clearRefresh(ctx router.Context) {
	ctx.Cookie(c.cookie(c.RefreshName, c.RefreshPath, "", time.Unix(0, 0)))
}

func (c CookieConfig) setPending(ctx router.Context, token string, expires time.Time) {
	ctx.Cookie(c.cookie(c.PendingName, c.PendingPath, token, expires))
}

func (c CookieConfig) clearPending(ctx router.Context) {
	ctx.Cookie(c.cookie(c.PendingName, c.PendingPath, "", time.Unix(0, 0)))
}

func (c CookieConfig) cookie(name, path, value string, expires time.Time) *router.Cookie {
	return &router.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}

// ErrorBody is the JSON envelope for failed requests
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code     int    `json:"code"`
	TextCode string `json:"text_code,omitempty"`
	Message  string `json:"message"`
}

// StatusForError maps an error category to the HTTP status sent back.
func StatusForError(err error) int {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return router.StatusInternalServerError
	}

	switch richErr.Category {
	case goerrors.CategoryAuth:
		return router.StatusUnauthorized
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return router.StatusBadRequest
	default:
		return router.StatusInternalServerError
	}
}

// NewErrorBody builds the response envelope for err. Internal failures
// are reported with a generic message.
func NewErrorBody(status int, err error) ErrorBody {
	body := ErrorBody{Error: ErrorDetail{Code: status}}
	if status >= router.StatusInternalServerError {
		body.Error.TextCode = TextCodeInternal
		body.Error.Message = "internal error"
		return body
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		body.Error.TextCode = richErr.TextCode
		body.Error.Message = richErr.Message
	}

	if body.Error.Message == "" && err != nil {
		body.Error.Message = err.Error()
	}
	return body
}

func clientInfoFromContext(ctx router.Context) ClientInfo {
	return ClientInfo{
		IPAddress: ctx.IP(),
		UserAgent: ctx.GetString("User-Agent", ""),
	}
}

func wantsJSON(ctx router.Context) bool {
	return strings.Contains(ctx.GetString("Accept", ""), "application/json")
}
