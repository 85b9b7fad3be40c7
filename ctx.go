package market

import (
	"context"

	"github.com/google/uuid"
)

var identityCtxKey = &contextKey{"identity"}

type contextKey struct {
	name string
}

// IdentityLocalsKey is the router locals key holding the *Identity
var IdentityLocalsKey = "current_identity"

// CurrentUserLocalsKey exposes the resolved user to views
var CurrentUserLocalsKey = "current_user"

// Identity is the per request resolved user or anonymous state
type Identity struct {
	User      *User
	SessionID string
}

// Anonymous returns an identity with no user attached
func Anonymous() *Identity {
	return &Identity{}
}

// NewIdentity returns an authenticated identity for user
func NewIdentity(user *User, sessionID string) *Identity {
	return &Identity{User: user.Sanitized(), SessionID: sessionID}
}

// IsAnonymous reports whether no user is attached
func (i *Identity) IsAnonymous() bool {
	return i == nil || i.User == nil
}

// IsAuthenticated reports whether a non banned user is attached
func (i *Identity) IsAuthenticated() bool {
	return !i.IsAnonymous() && !i.User.IsBanned
}

// IsAdmin reports whether the identity belongs to an admin
func (i *Identity) IsAdmin() bool {
	return i.IsAuthenticated() && i.User.Role == RoleAdmin
}

// HasRole reports whether the identity is authenticated with one of roles
func (i *Identity) HasRole(roles ...UserRole) bool {
	return i.IsAuthenticated() && HasAnyRole(i.User.Role, roles...)
}

// UserID returns the user id or uuid.Nil for anonymous identities
func (i *Identity) UserID() uuid.UUID {
	if i.IsAnonymous() {
		return uuid.Nil
	}
	return i.User.ID
}

// Actor converts the identity into an ActorRef for activity tracking
func (i *Identity) Actor() ActorRef {
	if i.IsAnonymous() {
		return ActorRef{Type: ActorTypeAnonymous}
	}
	return ActorFromUser(i.User)
}

// WithIdentity sets the Identity in the given context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext finds the identity in the context.
// Missing identities are reported as anonymous.
func IdentityFromContext(ctx context.Context) *Identity {
	if ctx == nil {
		return Anonymous()
	}
	raw, ok := ctx.Value(identityCtxKey).(*Identity)
	if !ok || raw == nil {
		return Anonymous()
	}
	return raw
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	identity := IdentityFromContext(ctx)
	if identity.IsAnonymous() {
		return nil, false
	}
	return identity.User, true
}

// IdentityFromRequest reads the identity stored by the resolver in router locals.
func IdentityFromRequest(req LocalsReader) *Identity {
	if req == nil {
		return Anonymous()
	}
	raw, ok := req.Locals(IdentityLocalsKey).(*Identity)
	if !ok || raw == nil {
		return Anonymous()
	}
	return raw
}
