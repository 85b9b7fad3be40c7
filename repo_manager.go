package market

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Products() Products
	Deposits() Deposits
	Sessions() SessionStore
}

type mngr struct {
	db       *bun.DB
	users    Users
	products Products
	deposits Deposits
	sessions SessionStore
}

// RepositoryOption customizes the repository manager
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	now func() time.Time
}

// WithRepositoryClock sets the clock every store uses for timestamps
func WithRepositoryClock(clock func() time.Time) RepositoryOption {
	return func(o *repositoryOptions) {
		if clock != nil {
			o.now = clock
		}
	}
}

// NewRepositoryManager wires every bun backed store
func NewRepositoryManager(db *bun.DB, opts ...RepositoryOption) RepositoryManager {
	o := &repositoryOptions{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return &mngr{
		db:       db,
		users:    NewUsersRepository(db, WithUsersClock(o.now)),
		products: NewProductsRepository(db, WithProductsClock(o.now)),
		deposits: NewDepositsRepository(db, WithDepositsClock(o.now)),
		sessions: NewSessionsRepository(db, WithSessionsClock(o.now)),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.products == nil {
		return errors.New("repository products should be initialized")
	}

	if m.deposits == nil {
		return errors.New("repository deposits should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Products() Products {
	return m.products
}

func (m mngr) Deposits() Deposits {
	return m.deposits
}

func (m mngr) Sessions() SessionStore {
	return m.sessions
}
