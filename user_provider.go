package market

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// BannedLoginNotice is returned when a banned user tries to sign in
const BannedLoginNotice = "Your account has been banned."

// ErrUserBanned is returned by VerifyCredentials for banned accounts
var ErrUserBanned = errors.New(BannedLoginNotice, errors.CategoryAuth).
	WithTextCode("USER_BANNED").
	WithCode(errors.CodeForbidden)

// UserFinder is a store we can use to retrieve users
type UserFinder interface {
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
}

// UserFinderFunc adapts a function into a UserFinder
type UserFinderFunc func(ctx context.Context, identifier string) (*User, error)

func (fn UserFinderFunc) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return fn(ctx, identifier)
}

// UserProvider verifies credentials
type UserProvider struct {
	store    UserFinder
	auther   PasswordAuthenticator
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserFinder) *UserProvider {
	return &UserProvider{
		store:    store,
		auther:   BcryptAuthenticator{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// NewUserProviderFromUsers adapts the Users repository
func NewUserProviderFromUsers(users Users) *UserProvider {
	return NewUserProvider(UserFinderFunc(func(ctx context.Context, identifier string) (*User, error) {
		return users.GetByIdentifier(ctx, identifier)
	}))
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	if l != nil {
		u.logger = l
	}
	return u
}

// WithActivitySink sets the sink used for login events
func (u *UserProvider) WithActivitySink(sink ActivitySink) *UserProvider {
	u.activity = normalizeActivitySink(sink)
	return u
}

// WithPasswordAuthenticator overrides the password comparer
func (u *UserProvider) WithPasswordAuthenticator(auther PasswordAuthenticator) *UserProvider {
	if auther != nil {
		u.auther = auther
	}
	return u
}

// VerifyCredentials finds the user by email or username and compares the
// password. Unknown users and wrong passwords return the same error.
func (u *UserProvider) VerifyCredentials(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, NewValidationError("Email and password are required.", map[string]any{
			"fields": map[string]string{"email": "cannot be blank", "password": "cannot be blank"},
		})
	}

	user, err := u.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if IsNotFound(err) {
			u.failure(ctx, identifier, "unknown_user")
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	if user.IsBanned {
		u.failure(ctx, identifier, "banned")
		return nil, withMetadata(ErrUserBanned, map[string]any{"user_id": user.ID.String()})
	}

	if err := u.auther.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		u.failure(ctx, identifier, "password_mismatch")
		return nil, ErrMismatchedHashAndPassword
	}

	recordActivity(ctx, u.activity, u.logger, u.now, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorFromUser(user),
		UserID:    user.ID.String(),
	})

	return user.Sanitized(), nil
}

func (u *UserProvider) failure(ctx context.Context, identifier, reason string) {
	u.logger.Debug("login failed for %s: %s", identifier, reason)
	recordActivity(ctx, u.activity, u.logger, u.now, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     ActorRef{Type: ActorTypeAnonymous},
		Metadata: map[string]any{
			"identifier": identifier,
			"reason":     reason,
		},
	})
}
