package market_test

import (
	"context"
	"testing"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestUsersRepository(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	alice := seedUser(t, repo, market.RoleBuyer, "alice")

	t.Run("register applies defaults", func(t *testing.T) {
		assert.NotEqual(t, uuid.Nil, alice.ID)
		assert.Equal(t, market.DefaultAvatarURL, alice.AvatarURL)
		assert.Equal(t, "alice@example.com", alice.Email)
	})

	t.Run("get by identifier", func(t *testing.T) {
		for _, identifier := range []string{"alice", "ALICE@example.com", alice.ID.String()} {
			found, err := repo.Users().GetByIdentifier(ctx, identifier)
			require.NoError(t, err, identifier)
			assert.Equal(t, alice.ID, found.ID)
		}

		_, err := repo.Users().GetByIdentifier(ctx, "nobody")
		require.Error(t, err)
		assert.True(t, market.IsNotFound(err))
	})

	t.Run("exists by email or username", func(t *testing.T) {
		exists, err := repo.Users().ExistsByEmailOrUsername(ctx, "Alice@Example.com", "someone", uuid.Nil)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.Users().ExistsByEmailOrUsername(ctx, "new@example.com", "alice", uuid.Nil)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.Users().ExistsByEmailOrUsername(ctx, "alice@example.com", "alice", alice.ID)
		require.NoError(t, err)
		assert.False(t, exists, "the excluded user does not collide with itself")
	})

	t.Run("unique constraints", func(t *testing.T) {
		_, err := repo.Users().Register(ctx, &market.User{
			Username:     "alice",
			Email:        "other@example.com",
			PasswordHash: "plain:x",
		})
		assert.Error(t, err)
	})

	t.Run("ban flag", func(t *testing.T) {
		banned, err := repo.Users().SetBanned(ctx, alice.ID, true)
		require.NoError(t, err)
		assert.True(t, banned.IsBanned)

		unbanned, err := repo.Users().SetBanned(ctx, alice.ID, false)
		require.NoError(t, err)
		assert.False(t, unbanned.IsBanned)

		_, err = repo.Users().SetBanned(ctx, uuid.New(), true)
		assert.True(t, market.IsNotFound(err))
	})

	t.Run("credit balance never goes negative", func(t *testing.T) {
		err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return repo.Users().CreditBalanceTx(ctx, tx, alice.ID, 5000)
		})
		require.NoError(t, err)

		err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return repo.Users().CreditBalanceTx(ctx, tx, alice.ID, -6000)
		})
		require.Error(t, err)

		found, err := repo.Users().GetByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), found.Balance)
	})

	t.Run("list and count", func(t *testing.T) {
		seedUser(t, repo, market.RoleSeller, "sam")
		admin := seedUser(t, repo, market.RoleAdmin, "root")

		others, err := repo.Users().ListExcept(ctx, admin.ID)
		require.NoError(t, err)
		require.Len(t, others, 2)
		assert.Equal(t, "sam", others[0].Username, "newest first")
		assert.Empty(t, others[0].PasswordHash)

		counts, err := repo.Users().CountByRole(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[market.UserRole]int{"buyer": 1, "seller": 1, "admin": 1}, counts)
	})
}

func TestProductsRepository(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	sam := seedUser(t, repo, market.RoleSeller, "sam")
	olga := seedUser(t, repo, market.RoleSeller, "olga")

	camera := seedProduct(t, repo, sam, "camera", market.ProductStatusApproved)
	lamp := seedProduct(t, repo, sam, "lamp", market.ProductStatusPending)
	radio := seedProduct(t, repo, olga, "radio", market.ProductStatusApproved)
	seedProduct(t, repo, olga, "vase", market.ProductStatusRejected)

	t.Run("create defaults", func(t *testing.T) {
		assert.Equal(t, int64(1), camera.Version)
		assert.NotNil(t, camera.Images)
	})

	t.Run("owner lookup", func(t *testing.T) {
		owner, err := repo.Products().ProductOwner(ctx, lamp.ID)
		require.NoError(t, err)
		assert.Equal(t, sam.ID, owner)

		_, err = repo.Products().ProductOwner(ctx, uuid.New())
		assert.Equal(t, market.KindNotFound, market.KindOf(err))
	})

	t.Run("get with seller hides credentials", func(t *testing.T) {
		found, err := repo.Products().GetWithSeller(ctx, camera.ID)
		require.NoError(t, err)
		require.NotNil(t, found.Seller)
		assert.Equal(t, "sam", found.Seller.Username)
		assert.Empty(t, found.Seller.PasswordHash)
	})

	t.Run("latest approved, newest first", func(t *testing.T) {
		latest, err := repo.Products().ListLatestApproved(ctx, 12)
		require.NoError(t, err)
		require.Len(t, latest, 2)
		assert.Equal(t, radio.ID, latest[0].ID)
		assert.Equal(t, camera.ID, latest[1].ID)
	})

	t.Run("search is case insensitive and approved only", func(t *testing.T) {
		found, err := repo.Products().SearchApproved(ctx, "CAMERA")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, camera.ID, found[0].ID)

		found, err = repo.Products().SearchApproved(ctx, "lamp")
		require.NoError(t, err)
		assert.Empty(t, found)

		found, err = repo.Products().SearchApproved(ctx, "good condition")
		require.NoError(t, err)
		assert.Len(t, found, 2)

		found, err = repo.Products().SearchApproved(ctx, "100%")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("by seller and by status", func(t *testing.T) {
		mine, err := repo.Products().ListBySeller(ctx, sam.ID)
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, lamp.ID, mine[0].ID)

		pending, err := repo.Products().ListByStatus(ctx, market.ProductStatusPending)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, lamp.ID, pending[0].ID)

		counts, err := repo.Products().CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[market.ProductStatusApproved])
		assert.Equal(t, 1, counts[market.ProductStatusPending])
		assert.Equal(t, 1, counts[market.ProductStatusRejected])
	})

	t.Run("conditional status update", func(t *testing.T) {
		updated, err := repo.Products().UpdateStatus(ctx, lamp.ID, 1, market.ProductStatusApproved, "root")
		require.NoError(t, err)
		assert.Equal(t, market.ProductStatusApproved, updated.Status)
		assert.Equal(t, "root", updated.VerifiedBy)
		assert.Equal(t, int64(2), updated.Version)

		_, err = repo.Products().UpdateStatus(ctx, lamp.ID, 1, market.ProductStatusRejected, "")
		require.Error(t, err)
		assert.True(t, market.HasTextCode(err, market.TextCodeVersionConflict))

		_, err = repo.Products().UpdateStatus(ctx, uuid.New(), 1, market.ProductStatusRejected, "")
		assert.Equal(t, market.KindNotFound, market.KindOf(err))
	})

	t.Run("save edit bumps the version", func(t *testing.T) {
		product, err := repo.Products().GetByID(ctx, radio.ID)
		require.NoError(t, err)

		product.Price = 99000
		product.Images = []market.MediaAsset{{URL: "https://media.test/a.png", Handle: "a"}}
		product.Tags = []string{"vintage", "audio"}
		saved, err := repo.Products().SaveEdit(ctx, product)
		require.NoError(t, err)
		assert.Equal(t, int64(2), saved.Version)

		reloaded, err := repo.Products().GetByID(ctx, radio.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(99000), reloaded.Price)
		assert.Equal(t, []string{"https://media.test/a.png"}, reloaded.GalleryURLs())
		assert.Equal(t, []string{"vintage", "audio"}, reloaded.Tags)

		stale := *reloaded
		stale.Version = 1
		_, err = repo.Products().SaveEdit(ctx, &stale)
		assert.True(t, market.HasTextCode(err, market.TextCodeVersionConflict))
	})

	t.Run("views and removal", func(t *testing.T) {
		require.NoError(t, repo.Products().IncrementViews(ctx, camera.ID))
		require.NoError(t, repo.Products().IncrementViews(ctx, camera.ID))

		found, err := repo.Products().GetByID(ctx, camera.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), found.Views)

		require.NoError(t, repo.Products().Remove(ctx, camera.ID))
		_, err = repo.Products().GetByID(ctx, camera.ID)
		assert.Equal(t, market.KindNotFound, market.KindOf(err))
		assert.Equal(t, market.KindNotFound, market.KindOf(repo.Products().Remove(ctx, camera.ID)))
	})
}

func TestDepositsRepository(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	alice := seedUser(t, repo, market.RoleBuyer, "alice")

	past := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	stale, err := repo.Deposits().Create(ctx, &market.Deposit{
		UserID: alice.ID, ReferenceID: "DEP-1", Method: "QRIS", Amount: 10000, NetAmount: 9800, ExpiresAt: &past,
	})
	require.NoError(t, err)
	assert.Equal(t, market.DepositStatusPending, stale.Status)

	fresh, err := repo.Deposits().Create(ctx, &market.Deposit{
		UserID: alice.ID, ReferenceID: "DEP-2", Method: "QRIS", Amount: 20000, NetAmount: 19800, ExpiresAt: &future,
	})
	require.NoError(t, err)

	t.Run("list newest first", func(t *testing.T) {
		list, err := repo.Deposits().ListByUser(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, fresh.ID, list[0].ID)
	})

	t.Run("expire stale", func(t *testing.T) {
		n, err := repo.Deposits().ExpireStale(ctx, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		found, err := repo.Deposits().GetByID(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, market.DepositStatusExpired, found.Status)
	})

	t.Run("transition only from listed states", func(t *testing.T) {
		var moved bool
		err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			var err error
			moved, err = repo.Deposits().TransitionTx(ctx, tx, stale.ID, market.DepositStatusSuccess,
				market.DepositStatusPending, market.DepositStatusProcessing)
			return err
		})
		require.NoError(t, err)
		assert.False(t, moved)

		err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			var err error
			moved, err = repo.Deposits().TransitionTx(ctx, tx, fresh.ID, market.DepositStatusSuccess,
				market.DepositStatusPending, market.DepositStatusProcessing)
			return err
		})
		require.NoError(t, err)
		assert.True(t, moved)
	})

	t.Run("missing deposit", func(t *testing.T) {
		_, err := repo.Deposits().GetByID(ctx, uuid.New())
		assert.Equal(t, market.KindNotFound, market.KindOf(err))
	})
}

func TestSessionsRepository(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)
	alice := seedUser(t, repo, market.RoleBuyer, "alice")

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := market.NewSessionsRepository(db, market.WithSessionsClock(fixedClock(now)))

	live, err := store.Create(ctx, alice.ID, now.Add(time.Hour))
	require.NoError(t, err)
	expired, err := store.Create(ctx, alice.ID, now.Add(-time.Hour))
	require.NoError(t, err)

	t.Run("lookup joins the user", func(t *testing.T) {
		user, err := store.Lookup(ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, user.ID)
		assert.Empty(t, user.PasswordHash)
	})

	t.Run("expired and unknown sessions are not found", func(t *testing.T) {
		_, err := store.Lookup(ctx, expired.ID)
		assert.True(t, market.HasTextCode(err, "SESSION_NOT_FOUND"))

		_, err = store.Lookup(ctx, "missing")
		assert.True(t, market.HasTextCode(err, "SESSION_NOT_FOUND"))
	})

	t.Run("purge expired", func(t *testing.T) {
		n, err := store.PurgeExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("destroy", func(t *testing.T) {
		require.NoError(t, store.Destroy(ctx, live.ID))
		_, err := store.Lookup(ctx, live.ID)
		assert.Error(t, err)

		other, err := store.Create(ctx, alice.ID, now.Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, store.DestroyForUser(ctx, alice.ID))
		_, err = store.Lookup(ctx, other.ID)
		assert.Error(t, err)
	})
}
