package market

import (
	"context"
	"time"
)

const (
	ActorTypeUser      = "user"
	ActorTypeSystem    = "system"
	ActorTypeAnonymous = "anonymous"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID       string
	Type     string
	Username string
	Role     UserRole
}

// IsAdmin reports whether the actor acted with the admin role
func (a ActorRef) IsAdmin() bool {
	return a.Type == ActorTypeUser && a.Role == RoleAdmin
}

// ActorFromUser builds the ActorRef of an authenticated user
func ActorFromUser(u *User) ActorRef {
	if u == nil {
		return ActorRef{Type: ActorTypeAnonymous}
	}
	return ActorRef{
		ID:       u.ID.String(),
		Type:     ActorTypeUser,
		Username: u.Username,
		Role:     u.Role,
	}
}

// SystemActor is used for automatic transitions
func SystemActor() ActorRef {
	return ActorRef{Type: ActorTypeSystem}
}

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventProductCreated       ActivityEventType = "product.created"
	ActivityEventProductStatusChanged ActivityEventType = "product.status.changed"
	ActivityEventProductUpdated       ActivityEventType = "product.updated"
	ActivityEventProductDeleted       ActivityEventType = "product.deleted"
	ActivityEventProfileUpdated       ActivityEventType = "user.profile.updated"
	ActivityEventPasswordChanged      ActivityEventType = "user.password.changed"
	ActivityEventAvatarChanged        ActivityEventType = "user.avatar.changed"
	ActivityEventUserRegistered       ActivityEventType = "user.registered"
	ActivityEventUserBanned           ActivityEventType = "user.banned"
	ActivityEventUserUnbanned         ActivityEventType = "user.unbanned"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventDepositCreated       ActivityEventType = "wallet.deposit.created"
	ActivityEventDepositConfirmed     ActivityEventType = "wallet.deposit.confirmed"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType `json:"event_type"`
	Actor      ActorRef          `json:"actor"`
	UserID     string            `json:"user_id,omitempty"`
	ProductID  string            `json:"product_id,omitempty"`
	FromStatus ProductStatus     `json:"from_status,omitempty"`
	ToStatus   ProductStatus     `json:"to_status,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ActivitySink consumes activity events for auditing/notification purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiSink fans an event out to every sink, returning the first error.
type MultiSink []ActivitySink

// Record implements ActivitySink.
func (m MultiSink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity stamps and records event, logging sink failures.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = SystemActor()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		logger.Warn("activity sink error for %s: %v", event.EventType, err)
	}
}
