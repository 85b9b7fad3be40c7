package market_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type resolverFixture struct {
	store    *MockSessionStore
	sessions *market.SessionManager
	flasher  *market.Flasher
	resolver *market.IdentityResolver
	outcomes []market.ResolveOutcome
}

func newResolverFixture() *resolverFixture {
	f := &resolverFixture{store: new(MockSessionStore)}
	f.sessions = newTestSessions(f.store)
	f.flasher = newTestFlasher()
	f.resolver = market.NewIdentityResolver(f.sessions,
		market.WithResolverFlasher(f.flasher),
		market.WithResolverLogger(testLogger{}),
		market.WithResolverObserver(func(outcome market.ResolveOutcome) {
			f.outcomes = append(f.outcomes, outcome)
		}),
	)
	return f
}

// requestWithSession returns a request carrying a valid cookie for sessionID
func (f *resolverFixture) requestWithSession(t *testing.T, sessionID string) *fakeContext {
	t.Helper()
	tokens := market.NewTokenService([]byte(testSecret), testConfig().GetIssuer())
	token, err := tokens.SignSession(sessionID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	req := newFakeContext(http.MethodGet, "/products")
	req.cookiesIn["market_session"] = token
	return req
}

func TestIdentityResolver_NoTokenSkipsTheStore(t *testing.T) {
	f := newResolverFixture()
	req := newFakeContext(http.MethodGet, "/")

	res := f.resolver.Handle(req)

	assert.Equal(t, market.OutcomeAnonymous, res.Outcome)
	assert.True(t, market.IdentityFromRequest(req).IsAnonymous())
	assert.True(t, market.IdentityFromContext(req.Context()).IsAnonymous())
	f.store.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
	assert.Equal(t, []market.ResolveOutcome{market.OutcomeAnonymous}, f.outcomes)
}

func TestIdentityResolver_InvalidTokenIsTreatedAsAbsent(t *testing.T) {
	f := newResolverFixture()
	req := newFakeContext(http.MethodGet, "/")
	req.cookiesIn["market_session"] = "forged.token.value"

	res := f.resolver.Handle(req)

	assert.Equal(t, market.OutcomeInvalidToken, res.Outcome)
	assert.True(t, res.Identity.IsAnonymous())
	f.store.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)

	cleared := req.lastCookie("market_session")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
}

func TestIdentityResolver_Authenticated(t *testing.T) {
	f := newResolverFixture()
	user := newUser(market.RoleSeller, "sam")
	user.PasswordHash = "secret-hash"
	f.store.On("Lookup", mock.Anything, "sess-1").Return(user, nil).Once()

	req := f.requestWithSession(t, "sess-1")
	res := f.resolver.Handle(req)

	require.Equal(t, market.OutcomeAuthenticated, res.Outcome)
	f.store.AssertNumberOfCalls(t, "Lookup", 1)

	identity := market.IdentityFromRequest(req)
	require.True(t, identity.IsAuthenticated())
	assert.Equal(t, user.ID, identity.UserID())
	assert.Equal(t, "sess-1", identity.SessionID)
	assert.Empty(t, identity.User.PasswordHash, "credential hash never leaves the resolver")

	fromCtx, ok := market.UserFromContext(req.Context())
	require.True(t, ok)
	assert.Equal(t, "sam", fromCtx.Username)
	assert.Equal(t, identity.User, req.Locals(market.CurrentUserLocalsKey))
}

func TestIdentityResolver_BannedUser(t *testing.T) {
	f := newResolverFixture()
	user := newUser(market.RoleSeller, "sam")
	user.IsBanned = true
	f.store.On("Lookup", mock.Anything, "sess-1").Return(user, nil).Once()
	f.store.On("Destroy", mock.Anything, "sess-1").Return(nil).Once()

	req := f.requestWithSession(t, "sess-1")
	res := f.resolver.Handle(req)

	assert.Equal(t, market.OutcomeBanned, res.Outcome)
	assert.True(t, market.IdentityFromRequest(req).IsAnonymous())
	assert.Nil(t, req.Locals(market.CurrentUserLocalsKey))

	cleared := req.lastCookie("market_session")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	flash, ok := market.Current(req)
	require.True(t, ok)
	assert.Equal(t, market.ErrorFlash(market.BannedNotice), flash)
	assert.NotNil(t, req.lastCookie("market_flash"))

	f.store.AssertExpectations(t)
}

func TestIdentityResolver_StaleSession(t *testing.T) {
	tests := []struct {
		name string
		user *market.User
		err  error
	}{
		{"session missing", nil, market.ErrSessionNotFound},
		{"user missing", nil, nil},
		{"not found error", nil, market.NewNotFound(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newResolverFixture()
			f.store.On("Lookup", mock.Anything, "sess-1").Return(tt.user, tt.err).Once()
			f.store.On("Destroy", mock.Anything, "sess-1").Return(nil).Once()

			req := f.requestWithSession(t, "sess-1")
			res := f.resolver.Handle(req)

			assert.Equal(t, market.OutcomeStale, res.Outcome)
			assert.True(t, res.InvalidatesSession())
			assert.True(t, market.IdentityFromRequest(req).IsAnonymous())
			_, flashed := market.Current(req)
			assert.False(t, flashed)
			f.store.AssertExpectations(t)
		})
	}
}

func TestIdentityResolver_StoreErrorContinuesAnonymous(t *testing.T) {
	f := newResolverFixture()
	f.store.On("Lookup", mock.Anything, "sess-1").Return(nil, errors.New("connection refused")).Once()

	req := f.requestWithSession(t, "sess-1")
	res := f.resolver.Handle(req)

	assert.Equal(t, market.OutcomeStoreError, res.Outcome)
	assert.False(t, res.InvalidatesSession())
	assert.True(t, market.IdentityFromRequest(req).IsAnonymous())
	f.store.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
	assert.Nil(t, req.lastCookie("market_session"), "the cookie survives a store outage")
}

func TestIdentityResolver_ResolveIsSideEffectFree(t *testing.T) {
	f := newResolverFixture()
	user := newUser(market.RoleBuyer, "bob")
	user.IsBanned = true
	f.store.On("Lookup", mock.Anything, "sess-1").Return(user, nil).Once()

	tokens := market.NewTokenService([]byte(testSecret), testConfig().GetIssuer())
	token, err := tokens.SignSession("sess-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	res := f.resolver.Resolve(context.Background(), token)
	assert.Equal(t, market.OutcomeBanned, res.Outcome)
	f.store.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
	assert.Empty(t, f.outcomes)
}
