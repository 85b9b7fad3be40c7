package market

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Deposits is the wallet transaction store
type Deposits interface {
	Create(ctx context.Context, deposit *Deposit) (*Deposit, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Deposit, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Deposit, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Deposit, error)
	// TransitionTx moves a deposit to status when it is currently in one of from.
	TransitionTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status DepositStatus, from ...DepositStatus) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type deposits struct {
	repo repository.Repository[*Deposit]
	db   *bun.DB
	now  func() time.Time
}

var _ Deposits = (*deposits)(nil)

// DepositsOption customizes the deposits repository
type DepositsOption func(*deposits)

// WithDepositsClock injects a custom clock (useful for tests).
func WithDepositsClock(clock func() time.Time) DepositsOption {
	return func(d *deposits) {
		if clock != nil {
			d.now = clock
		}
	}
}

// NewDepositsRepository returns a bun backed Deposits store
func NewDepositsRepository(db *bun.DB, opts ...DepositsOption) Deposits {
	repo := repository.NewRepository[*Deposit](db, repository.ModelHandlers[*Deposit]{
		NewRecord: func() *Deposit { return &Deposit{} },
		GetID: func(d *Deposit) uuid.UUID {
			if d == nil {
				return uuid.Nil
			}
			return d.ID
		},
		SetID: func(d *Deposit, id uuid.UUID) {
			if d != nil {
				d.ID = id
			}
		},
		GetIdentifier: func() string {
			return "reference_id"
		},
	})

	d := &deposits{
		repo: repo,
		db:   db,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *deposits) Create(ctx context.Context, deposit *Deposit) (*Deposit, error) {
	if deposit.ID == uuid.Nil {
		deposit.ID = uuid.New()
	}
	if deposit.Status == "" {
		deposit.Status = DepositStatusPending
	}
	now := d.now().UTC()
	deposit.CreatedAt = &now
	deposit.UpdatedAt = &now
	return d.repo.CreateTx(ctx, d.db, deposit)
}

func (d *deposits) GetByID(ctx context.Context, id uuid.UUID) (*Deposit, error) {
	return d.GetByIDTx(ctx, d.db, id)
}

func (d *deposits) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Deposit, error) {
	record := &Deposit{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, NewNotFound(map[string]any{"deposit_id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

// ListByUser returns the user's deposits, newest first
func (d *deposits) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Deposit, error) {
	var records []*Deposit
	err := d.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	return records, err
}

func (d *deposits) TransitionTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status DepositStatus, from ...DepositStatus) (bool, error) {
	q := tx.NewUpdate().
		Model((*Deposit)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", d.now().UTC()).
		Where("?TableAlias.id = ?", id)
	if len(from) > 0 {
		q = q.Where("?TableAlias.status IN (?)", bun.In(from))
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ExpireStale marks unpaid deposits past their expiry as expired
func (d *deposits) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.NewUpdate().
		Model((*Deposit)(nil)).
		Set("status = ?", DepositStatusExpired).
		Set("updated_at = ?", now.UTC()).
		Where("?TableAlias.status IN (?)", bun.In([]DepositStatus{DepositStatusPending, DepositStatusProcessing})).
		Where("?TableAlias.expires_at IS NOT NULL").
		Where("?TableAlias.expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
