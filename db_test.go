package market_test

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const migrationFile = "data/sql/migrations/0001_marketplace.up.sql"

// tickingClock returns whole second timestamps, one second apart per call,
// so rows created in sequence sort deterministically.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start.UTC().Truncate(time.Second)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

// newTestDB opens an in memory sqlite database with the marketplace schema.
// The pool holds a single connection so the memory database is shared.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	raw, err := fs.ReadFile(market.GetMigrationsFS(), migrationFile)
	require.NoError(t, err)

	for _, stmt := range strings.Split(string(raw), "---bun:split") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}

	return db
}

func newTestRepo(t *testing.T) (market.RepositoryManager, *bun.DB) {
	t.Helper()
	db := newTestDB(t)
	clock := tickingClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	return market.NewRepositoryManager(db, market.WithRepositoryClock(clock)), db
}

// seedUser stores a user whose password is "secret" under plainAuthenticator
func seedUser(t *testing.T, repo market.RepositoryManager, role market.UserRole, username string) *market.User {
	t.Helper()
	user := &market.User{
		Username:     username,
		Email:        username + "@example.com",
		Role:         role,
		PasswordHash: "plain:secret",
	}
	if role == market.RoleSeller {
		user.WhatsappNumber = "+6281234567890"
	}
	created, err := repo.Users().Register(context.Background(), user)
	require.NoError(t, err)
	return created
}

func seedProduct(t *testing.T, repo market.RepositoryManager, seller *market.User, name string, status market.ProductStatus) *market.Product {
	t.Helper()
	product := &market.Product{
		SellerID:    seller.ID,
		Name:        name,
		Description: name + " in good condition",
		Price:       250000,
		Category:    "misc",
		ImageURL:    "https://media.test/" + name + ".png",
		ImageHandle: "main/" + name,
		Stock:       1,
		Status:      status,
	}
	if status == market.ProductStatusApproved {
		product.VerifiedBy = "root"
	}
	created, err := repo.Products().Create(context.Background(), product)
	require.NoError(t, err)
	return created
}
