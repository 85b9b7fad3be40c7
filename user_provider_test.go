package market_test

import (
	"context"
	"errors"
	"testing"

	market "github.com/goliatone/go-market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserProvider_VerifyCredentials(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	alice := seedUser(t, repo, market.RoleBuyer, "alice")
	banned := seedUser(t, repo, market.RoleSeller, "mallory")
	_, err := repo.Users().SetBanned(ctx, banned.ID, true)
	require.NoError(t, err)

	sink := &capturingSink{}
	provider := market.NewUserProviderFromUsers(repo.Users()).
		WithPasswordAuthenticator(plainAuthenticator{}).
		WithActivitySink(sink).
		WithLogger(testLogger{})

	t.Run("by email", func(t *testing.T) {
		user, err := provider.VerifyCredentials(ctx, "alice@example.com", "secret")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, user.ID)
		assert.Empty(t, user.PasswordHash)
	})

	t.Run("by username", func(t *testing.T) {
		user, err := provider.VerifyCredentials(ctx, " alice ", "secret")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, user.ID)
	})

	t.Run("unknown user and wrong password look the same", func(t *testing.T) {
		_, errUnknown := provider.VerifyCredentials(ctx, "ghost@example.com", "secret")
		_, errWrong := provider.VerifyCredentials(ctx, "alice@example.com", "wrong")

		require.Error(t, errUnknown)
		require.Error(t, errWrong)
		assert.Equal(t, errUnknown.Error(), errWrong.Error())
		assert.True(t, market.HasTextCode(errWrong, market.TextCodeMismatchedPassword))
		assert.Equal(t, market.KindValidation, market.KindOf(errWrong))
	})

	t.Run("banned", func(t *testing.T) {
		_, err := provider.VerifyCredentials(ctx, "mallory", "secret")
		require.Error(t, err)
		assert.True(t, market.HasTextCode(err, "USER_BANNED"))
	})

	t.Run("blank input", func(t *testing.T) {
		_, err := provider.VerifyCredentials(ctx, "", "")
		assert.Equal(t, market.KindValidation, market.KindOf(err))
	})

	assert.Len(t, sink.ofType(market.ActivityEventLoginSuccess), 2)
	assert.Len(t, sink.ofType(market.ActivityEventLoginFailure), 3)
}

func TestUserProvider_StoreFailure(t *testing.T) {
	provider := market.NewUserProvider(market.UserFinderFunc(func(context.Context, string) (*market.User, error) {
		return nil, errors.New("db down")
	})).WithLogger(testLogger{})

	_, err := provider.VerifyCredentials(context.Background(), "alice", "secret")
	require.Error(t, err)
	assert.Equal(t, market.KindInternal, market.KindOf(err))
}
