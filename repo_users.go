package market

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the identity store
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error)
	GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error)
	ExistsByEmailOrUsername(ctx context.Context, email, username string, exclude uuid.UUID) (bool, error)
	ExistsByEmailOrUsernameTx(ctx context.Context, tx bun.IDB, email, username string, exclude uuid.UUID) (bool, error)

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	UpdateProfile(ctx context.Context, user *User) (*User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateAvatar(ctx context.Context, id uuid.UUID, url, handle string) error
	SetBanned(ctx context.Context, id uuid.UUID, banned bool) (*User, error)
	CreditBalanceTx(ctx context.Context, tx bun.IDB, id uuid.UUID, amount int64) error

	ListExcept(ctx context.Context, id uuid.UUID) ([]*User, error)
	CountByRole(ctx context.Context) (map[UserRole]int, error)
}

type users struct {
	repo repository.Repository[*User]
	db   *bun.DB
	now  func() time.Time
}

var _ Users = (*users)(nil)

// UsersOption customizes the users repository
type UsersOption func(*users)

// WithUsersClock injects a custom clock (useful for tests).
func WithUsersClock(clock func() time.Time) UsersOption {
	return func(u *users) {
		if clock != nil {
			u.now = clock
		}
	}
}

// NewUsersRepository returns a bun backed Users store
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoUsers := &users{
		repo: repo,
		db:   db,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}
	return repoUsers
}

func (a *users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"id": id.String(),
			})
		}
		return nil, err
	}
	return record, nil
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

// GetByIdentifierTx looks a user up by id, email or username
func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	for _, opt := range resolveUserIdentifier(identifier) {
		record := &User{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) ExistsByEmailOrUsername(ctx context.Context, email, username string, exclude uuid.UUID) (bool, error) {
	return a.ExistsByEmailOrUsernameTx(ctx, a.db, email, username, exclude)
}

func (a *users) ExistsByEmailOrUsernameTx(ctx context.Context, tx bun.IDB, email, username string, exclude uuid.UUID) (bool, error) {
	q := tx.NewSelect().
		Model((*User)(nil)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("LOWER(?TableAlias.email) = ?", strings.ToLower(strings.TrimSpace(email))).
				WhereOr("?TableAlias.username = ?", strings.TrimSpace(username))
		})
	if exclude != uuid.Nil {
		q = q.Where("?TableAlias.id != ?", exclude)
	}
	return q.Exists(ctx)
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user, a.now())
	return a.repo.CreateTx(ctx, tx, user)
}

func (a *users) UpdateProfile(ctx context.Context, user *User) (*User, error) {
	now := a.now().UTC()
	user.UpdatedAt = &now
	_, err := a.db.NewUpdate().
		Model(user).
		Column("username", "email", "whatsapp_number", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return a.GetByID(ctx, user.ID)
}

func (a *users) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	now := a.now().UTC()
	record := &User{ID: id, PasswordHash: passwordHash, UpdatedAt: &now}
	return a.updateColumns(ctx, record, "password_hash", "updated_at")
}

func (a *users) UpdateAvatar(ctx context.Context, id uuid.UUID, url, handle string) error {
	now := a.now().UTC()
	record := &User{ID: id, AvatarURL: url, AvatarHandle: handle, UpdatedAt: &now}
	return a.updateColumns(ctx, record, "avatar_url", "avatar_handle", "updated_at")
}

func (a *users) SetBanned(ctx context.Context, id uuid.UUID, banned bool) (*User, error) {
	now := a.now().UTC()
	record := &User{ID: id, IsBanned: banned, UpdatedAt: &now}
	if err := a.updateColumns(ctx, record, "is_banned", "updated_at"); err != nil {
		return nil, err
	}
	return a.GetByID(ctx, id)
}

func (a *users) CreditBalanceTx(ctx context.Context, tx bun.IDB, id uuid.UUID, amount int64) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("balance = balance + ?", amount).
		Set("updated_at = ?", a.now().UTC()).
		Where("?TableAlias.id = ?", id).
		Where("balance + ? >= 0", amount).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.NewRecordNotFound().WithMetadata(map[string]any{
			"id":     id.String(),
			"amount": amount,
		})
	}
	return nil
}

func (a *users) ListExcept(ctx context.Context, id uuid.UUID) ([]*User, error) {
	var records []*User
	err := a.db.NewSelect().
		Model(&records).
		ExcludeColumn("password_hash").
		Where("?TableAlias.id != ?", id).
		Order("created_at DESC").
		Scan(ctx)
	return records, err
}

func (a *users) CountByRole(ctx context.Context) (map[UserRole]int, error) {
	var rows []struct {
		Role  UserRole `bun:"user_role"`
		Count int      `bun:"count"`
	}
	err := a.db.NewSelect().
		Model((*User)(nil)).
		Column("user_role").
		ColumnExpr("COUNT(*) AS count").
		Group("user_role").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[UserRole]int, len(rows))
	for _, row := range rows {
		out[row.Role] = row.Count
	}
	return out, nil
}

func (a *users) updateColumns(ctx context.Context, record *User, columns ...string) error {
	res, err := a.db.NewUpdate().
		Model(record).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.NewRecordNotFound().WithMetadata(map[string]any{
			"id": record.ID.String(),
		})
	}
	return nil
}

func prepareUserDefaults(user *User, now time.Time) {
	if user == nil {
		return
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = RoleBuyer
	}
	if user.AvatarURL == "" {
		user.AvatarURL = DefaultAvatarURL
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.Username = strings.TrimSpace(user.Username)
	ts := now.UTC()
	if user.CreatedAt == nil {
		user.CreatedAt = &ts
	}
	if user.UpdatedAt == nil {
		user.UpdatedAt = &ts
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  strings.ToLower(trimmed),
		})
	}

	options = append(options, identifierOption{
		column: "username",
		value:  trimmed,
	})

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
