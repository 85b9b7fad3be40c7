package market

import (
	"context"
	"net/http"
	"strings"

	"github.com/goliatone/go-router"
)

// LocalsReader reads request scoped values
type LocalsReader interface {
	Locals(key any, value ...any) any
}

// RequestContext is the slice of router.Context consumed by the resolver,
// the gate and the flasher.
type RequestContext interface {
	LocalsReader
	Context() context.Context
	SetContext(ctx context.Context)
	Cookies(key string, defaultValue ...string) string
	Cookie(cookie *router.Cookie)
	OriginalURL() string
	Path() string
	Method() string
	Param(key string, defaultValue ...string) string
	Header(key string) string
	Redirect(path string, status ...int) error
}

var _ RequestContext = (router.Context)(nil)

// IsAJAX reports whether the request was made by a script expecting JSON.
func IsAJAX(req interface{ Header(string) string }) bool {
	if strings.EqualFold(req.Header("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	return strings.Contains(strings.ToLower(req.Header("Accept")), "json")
}

// redirectStatus follows the post/redirect/get convention.
func redirectStatus(method string) int {
	if method == string(router.GET) {
		return http.StatusFound
	}
	return http.StatusSeeOther
}
