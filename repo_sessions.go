package market

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type sessions struct {
	db  *bun.DB
	now func() time.Time
}

var _ SessionStore = (*sessions)(nil)

// SessionsOption customizes the sessions repository
type SessionsOption func(*sessions)

// WithSessionsClock injects a custom clock (useful for tests).
func WithSessionsClock(clock func() time.Time) SessionsOption {
	return func(s *sessions) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewSessionsRepository returns a SessionStore backed by the sessions table
func NewSessionsRepository(db *bun.DB, opts ...SessionsOption) SessionStore {
	s := &sessions{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *sessions) Create(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (*SessionRecord, error) {
	now := s.now().UTC()
	record := &SessionRecord{
		ID:        NewSessionID(),
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: &now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// Lookup joins the session with its user, skipping credentials
func (s *sessions) Lookup(ctx context.Context, sessionID string) (*User, error) {
	user := &User{}
	err := s.db.NewSelect().
		Model(user).
		ExcludeColumn("password_hash").
		Join("JOIN sessions AS ses ON ses.user_id = ?TableAlias.id").
		Where("ses.id = ?", sessionID).
		Where("ses.expires_at > ?", s.now().UTC()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, withMetadata(ErrSessionNotFound, map[string]any{"session_id": sessionID})
		}
		return nil, err
	}
	return user, nil
}

func (s *sessions) Destroy(ctx context.Context, sessionID string) error {
	_, err := s.db.NewDelete().
		Model((*SessionRecord)(nil)).
		Where("?TableAlias.id = ?", sessionID).
		Exec(ctx)
	return err
}

func (s *sessions) DestroyForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.NewDelete().
		Model((*SessionRecord)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Exec(ctx)
	return err
}

func (s *sessions) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*SessionRecord)(nil)).
		Where("?TableAlias.expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
