package market

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// LoginPayload is what RouteAuthenticator needs from a login form
type LoginPayload interface {
	GetIdentifier() string
	GetPassword() string
}

// RouteAuthenticator glues credential checks to the session cookie
type RouteAuthenticator struct {
	users    *UserProvider
	sessions *SessionManager
	Logger   Logger
}

func NewHTTPAuthenticator(users *UserProvider, sessions *SessionManager) *RouteAuthenticator {
	return &RouteAuthenticator{
		users:    users,
		sessions: sessions,
		Logger:   defLogger{},
	}
}

// Login verifies the payload and starts a session
func (a *RouteAuthenticator) Login(ctx RequestContext, payload LoginPayload) (*User, error) {
	user, err := a.users.VerifyCredentials(ctx.Context(), payload.GetIdentifier(), payload.GetPassword())
	if err != nil {
		a.Logger.Debug("login error: %s", err)
		return nil, err
	}

	if _, err := a.sessions.Start(ctx, user); err != nil {
		a.Logger.Error("failed to start session: %s", err)
		return nil, err
	}

	return user, nil
}

// Logout ends the current session
func (a *RouteAuthenticator) Logout(ctx RequestContext) error {
	return a.sessions.End(ctx)
}

// GetRedirect returns the remembered return-to path, or def
func (a *RouteAuthenticator) GetRedirect(ctx RequestContext, def string) string {
	return a.sessions.PopReturnTo(ctx, def)
}

// Views renders templates with the shared view data
type Views struct {
	flasher *Flasher
}

func NewViews(flasher *Flasher) *Views {
	return &Views{flasher: flasher}
}

// Render merges the current user and flash into data and renders name
func (v *Views) Render(ctx router.Context, name string, data router.ViewContext) error {
	return v.RenderStatus(ctx, http.StatusOK, name, data)
}

// RenderStatus is Render with an explicit status code
func (v *Views) RenderStatus(ctx router.Context, status int, name string, data router.ViewContext) error {
	if v.flasher != nil {
		v.flasher.Consume(ctx)
	}
	return ctx.Status(status).Render(name, MergeTemplateData(ctx, data))
}

// RenderWithFlash shows flash on the rendered page only
func (v *Views) RenderWithFlash(ctx router.Context, status int, flash Flash, name string, data router.ViewContext) error {
	ctx.Locals(FlashLocalsKey, flash)
	return v.RenderStatus(ctx, status, name, data)
}

// Redirect sends the user to location with flash shown on arrival
func (v *Views) Redirect(ctx router.Context, flash Flash, location string) error {
	if v.flasher != nil && !flash.IsZero() {
		return v.flasher.Redirect(ctx, flash, location)
	}
	return ctx.Redirect(location, redirectStatus(ctx.Method()))
}

// PublicMessage returns the text shown to users for err. Validation,
// forbidden and not found errors carry their own message, everything
// else is reported generically.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindValidation:
		return rootMessage(err)
	case KindForbidden:
		return "You are not allowed to perform this action."
	case KindNotFound:
		return "The page you are looking for could not be found."
	case KindUpstream:
		return "An external service is not responding. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind ErrorKind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func rootMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}

func idParam(ctx RequestContext, name string) string {
	return strings.TrimSpace(ctx.Param(name, ""))
}

func withFragment(path, fragment string) string {
	if fragment == "" {
		return path
	}
	return fmt.Sprintf("%s#%s", path, fragment)
}
