package market

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

const textCodeSessionNotFound = "SESSION_NOT_FOUND"

// ErrSessionNotFound is returned when a session is missing, expired, or
// points at a user that no longer exists
var ErrSessionNotFound = goerrors.New("session not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeSessionNotFound).
	WithCode(goerrors.CodeNotFound)

// SessionStore keeps server side session state
type SessionStore interface {
	Create(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (*SessionRecord, error)
	// Lookup resolves a session to its user in a single store round trip.
	Lookup(ctx context.Context, sessionID string) (*User, error)
	Destroy(ctx context.Context, sessionID string) error
	DestroyForUser(ctx context.Context, userID uuid.UUID) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// NewSessionID returns a random opaque session identifier
func NewSessionID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// SessionManager starts and ends sessions and keeps the session and
// return-to cookies in sync with the store
type SessionManager struct {
	store  SessionStore
	tokens TokenService
	cfg    Config
	now    func() time.Time
	logger Logger
}

// SessionManagerOption customizes the session manager
type SessionManagerOption func(*SessionManager)

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithSessionLogger overrides the logger
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewSessionManager wires store and tokens
func NewSessionManager(store SessionStore, tokens TokenService, cfg Config, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		store:  store,
		tokens: tokens,
		cfg:    cfg,
		now:    time.Now,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Store returns the underlying session store
func (m *SessionManager) Store() SessionStore {
	return m.store
}

// Start creates a session for user and sets the session cookie
func (m *SessionManager) Start(req RequestContext, user *User) (*SessionRecord, error) {
	expiresAt := m.now().Add(m.cfg.GetSessionTTL())

	record, err := m.store.Create(req.Context(), user.ID, expiresAt)
	if err != nil {
		return nil, WrapInternal(err, "failed to create session")
	}

	token, err := m.tokens.SignSession(record.ID, expiresAt)
	if err != nil {
		if derr := m.store.Destroy(req.Context(), record.ID); derr != nil {
			m.logger.Error("failed to discard unsigned session: %v", derr)
		}
		return nil, WrapInternal(err, "failed to sign session")
	}

	req.Cookie(&router.Cookie{
		Name:     m.cfg.GetSessionCookieName(),
		Value:    token,
		Expires:  expiresAt,
		HTTPOnly: true,
		Secure:   m.cfg.IsProduction(),
		SameSite: "Lax",
	})

	return record, nil
}

// Token returns the raw session cookie, empty when absent
func (m *SessionManager) Token(req RequestContext) string {
	return req.Cookies(m.cfg.GetSessionCookieName())
}

// SessionID verifies the session cookie and returns the session id
func (m *SessionManager) SessionID(token string) (string, error) {
	return m.tokens.ParseSession(token)
}

// Lookup resolves sessionID to its user
func (m *SessionManager) Lookup(ctx context.Context, sessionID string) (*User, error) {
	return m.store.Lookup(ctx, sessionID)
}

// End destroys the current session, if any, and clears the cookie
func (m *SessionManager) End(req RequestContext) error {
	defer m.ClearCookie(req)

	token := m.Token(req)
	if token == "" {
		return nil
	}

	sessionID, err := m.tokens.ParseSession(token)
	if err != nil {
		return nil
	}

	return m.Destroy(req.Context(), sessionID)
}

// Destroy removes server side state for sessionID
func (m *SessionManager) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := m.store.Destroy(ctx, sessionID); err != nil {
		return WrapInternal(err, "failed to destroy session")
	}
	return nil
}

// DestroyForUser removes every session held by userID
func (m *SessionManager) DestroyForUser(ctx context.Context, userID uuid.UUID) error {
	if err := m.store.DestroyForUser(ctx, userID); err != nil {
		return WrapInternal(err, "failed to destroy user sessions")
	}
	return nil
}

// ClearCookie expires the session cookie
func (m *SessionManager) ClearCookie(req RequestContext) {
	m.cookieDel(req, m.cfg.GetSessionCookieName())
}

// SetReturnTo remembers the original URL so login can send the user back
func (m *SessionManager) SetReturnTo(req RequestContext) {
	target := req.OriginalURL()
	if !isLocalPath(target) {
		return
	}

	path := req.Path()
	if path == m.cfg.GetLoginRoute() || path == m.cfg.GetRegisterRoute() {
		return
	}

	m.logger.Debug("setting return-to cookie path=%s", target)

	req.Cookie(&router.Cookie{
		Name:     m.cfg.GetReturnToCookieName(),
		Value:    target,
		Expires:  m.now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   m.cfg.IsProduction(),
		SameSite: "Lax",
	})
}

// PopReturnTo returns and clears the remembered URL, or def
func (m *SessionManager) PopReturnTo(req RequestContext, def string) string {
	name := m.cfg.GetReturnToCookieName()
	target := req.Cookies(name)
	if target == "" {
		return def
	}
	m.cookieDel(req, name)
	if !isLocalPath(target) {
		return def
	}
	return target
}

func (m *SessionManager) cookieDel(req RequestContext, name string) {
	req.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  m.now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   m.cfg.IsProduction(),
		SameSite: "Lax",
	})
}

func isLocalPath(target string) bool {
	return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//")
}
