package market

import (
	"context"

	"github.com/goliatone/go-router"
)

// BannedNotice is the flash shown after a banned user's session is dropped
const BannedNotice = "Your account has been banned. Please contact support."

// ResolveOutcome describes how a session token was resolved
type ResolveOutcome string

const (
	OutcomeAnonymous     ResolveOutcome = "anonymous"
	OutcomeInvalidToken  ResolveOutcome = "invalid_token"
	OutcomeAuthenticated ResolveOutcome = "authenticated"
	OutcomeBanned        ResolveOutcome = "banned"
	OutcomeStale         ResolveOutcome = "stale"
	OutcomeStoreError    ResolveOutcome = "store_error"
)

// Resolution is the result of resolving a session token
type Resolution struct {
	Identity  *Identity
	Outcome   ResolveOutcome
	SessionID string
	Err       error
}

// InvalidatesSession reports whether the session must be destroyed
func (r Resolution) InvalidatesSession() bool {
	return r.Outcome == OutcomeBanned || r.Outcome == OutcomeStale
}

// ResolveObserver is notified of every resolution outcome
type ResolveObserver func(outcome ResolveOutcome)

// IdentityResolver turns the session cookie into a request scoped Identity
type IdentityResolver struct {
	sessions *SessionManager
	flasher  *Flasher
	observer ResolveObserver
	logger   Logger
}

// ResolverOption customizes the resolver
type ResolverOption func(*IdentityResolver)

// WithResolverFlasher sets the flasher used for the banned notice
func WithResolverFlasher(flasher *Flasher) ResolverOption {
	return func(r *IdentityResolver) {
		r.flasher = flasher
	}
}

// WithResolverObserver registers a callback for resolution outcomes
func WithResolverObserver(observer ResolveObserver) ResolverOption {
	return func(r *IdentityResolver) {
		r.observer = observer
	}
}

// WithResolverLogger overrides the logger
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *IdentityResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewIdentityResolver returns a resolver backed by sessions
func NewIdentityResolver(sessions *SessionManager, opts ...ResolverOption) *IdentityResolver {
	r := &IdentityResolver{
		sessions: sessions,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve maps token to an identity. It performs one store lookup when the
// token verifies and none otherwise; it never fails, store errors resolve to
// anonymous.
func (r *IdentityResolver) Resolve(ctx context.Context, token string) Resolution {
	if token == "" {
		return Resolution{Identity: Anonymous(), Outcome: OutcomeAnonymous}
	}

	sessionID, err := r.sessions.SessionID(token)
	if err != nil {
		return Resolution{Identity: Anonymous(), Outcome: OutcomeInvalidToken, Err: err}
	}

	user, err := r.sessions.Lookup(ctx, sessionID)
	if err != nil {
		if IsNotFound(err) || HasTextCode(err, textCodeSessionNotFound) {
			return Resolution{Identity: Anonymous(), Outcome: OutcomeStale, SessionID: sessionID, Err: err}
		}
		return Resolution{Identity: Anonymous(), Outcome: OutcomeStoreError, SessionID: sessionID, Err: err}
	}

	if user == nil {
		return Resolution{Identity: Anonymous(), Outcome: OutcomeStale, SessionID: sessionID}
	}

	if user.IsBanned {
		return Resolution{Identity: Anonymous(), Outcome: OutcomeBanned, SessionID: sessionID}
	}

	return Resolution{
		Identity:  NewIdentity(user, sessionID),
		Outcome:   OutcomeAuthenticated,
		SessionID: sessionID,
	}
}

// Handle resolves the request's session, applies invalidation side effects and
// attaches the identity to the request.
func (r *IdentityResolver) Handle(req RequestContext) Resolution {
	res := r.Resolve(req.Context(), r.sessions.Token(req))

	switch res.Outcome {
	case OutcomeBanned:
		r.invalidate(req, res)
		if r.flasher != nil {
			r.flasher.Set(req, ErrorFlash(BannedNotice))
		}
	case OutcomeStale:
		r.invalidate(req, res)
	case OutcomeInvalidToken:
		r.sessions.ClearCookie(req)
	case OutcomeStoreError:
		r.logger.Error("session store lookup failed, continuing as anonymous: %v", res.Err)
	}

	r.attach(req, res.Identity)

	if r.observer != nil {
		r.observer(res.Outcome)
	}

	return res
}

// Middleware runs Handle before every request
func (r *IdentityResolver) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			r.Handle(ctx)
			return next(ctx)
		}
	}
}

func (r *IdentityResolver) invalidate(req RequestContext, res Resolution) {
	if err := r.sessions.Destroy(req.Context(), res.SessionID); err != nil {
		r.logger.Error("failed to destroy %s session: %v", res.Outcome, err)
	}
	r.sessions.ClearCookie(req)
}

func (r *IdentityResolver) attach(req RequestContext, identity *Identity) {
	req.Locals(IdentityLocalsKey, identity)
	if !identity.IsAnonymous() {
		req.Locals(CurrentUserLocalsKey, identity.User)
	}
	req.SetContext(WithIdentity(req.Context(), identity))
}
