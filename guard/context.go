package guard

import (
	"net/http"
	"net/url"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorView describes the page shown in place of a request that lost its
// session. The visible URL is left untouched.
type ErrorView struct {
	Path   string
	Status int
}

// ExecutionContext tells the guard where it runs. Pre-render contexts
// have no cookies and never navigate.
type ExecutionContext interface {
	Interactive() bool
	Cookie(name string) (string, bool)
	ShowErrorView(view ErrorView)
}

// ErrorViewer renders an ErrorView
type ErrorViewer func(view ErrorView)

type interactiveContext struct {
	jar    http.CookieJar
	base   *url.URL
	viewer ErrorViewer
}

// NewInteractiveContext builds the context of a live client. Cookies are
// read from jar for baseURL.
func NewInteractiveContext(jar http.CookieJar, baseURL string, viewer ErrorViewer) (ExecutionContext, error) {
	if jar == nil {
		return nil, goerrors.New("cookie jar is required", goerrors.CategoryBadInput)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid base url")
	}

	return &interactiveContext{
		jar:    jar,
		base:   base,
		viewer: viewer,
	}, nil
}

func (c *interactiveContext) Interactive() bool { return true }

func (c *interactiveContext) Cookie(name string) (string, bool) {
	for _, cookie := range c.jar.Cookies(c.base) {
		if cookie.Name == name {
			return cookie.Value, true
		}
	}
	return "", false
}

func (c *interactiveContext) ShowErrorView(view ErrorView) {
	if c.viewer != nil {
		c.viewer(view)
	}
}

func (c *interactiveContext) Jar() http.CookieJar { return c.jar }

type prerenderContext struct{}

// PrerenderContext is the context of a server side render pass.
func PrerenderContext() ExecutionContext { return prerenderContext{} }

func (prerenderContext) Interactive() bool { return false }

func (prerenderContext) Cookie(string) (string, bool) { return "", false }

func (prerenderContext) ShowErrorView(ErrorView) {}
