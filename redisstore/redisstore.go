// Package redisstore keeps marketplace sessions in redis.
//
// Every session is a key holding the user id with the session TTL, and every
// user has a set indexing their session keys so all of them can be dropped at
// once.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "market:session:"

// UserLookup resolves the user a session points at
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*market.User, error)
}

type Store struct {
	client *redis.Client
	users  UserLookup
	prefix string
	now    func() time.Time
	logger market.Logger
}

var _ market.SessionStore = (*Store)(nil)

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithLogger(logger market.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(client *redis.Client, users UserLookup, opts ...Option) *Store {
	s := &Store{
		client: client,
		users:  users,
		prefix: DefaultPrefix,
		now:    time.Now,
		logger: nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) sessionKey(id string) string      { return s.prefix + id }
func (s *Store) userKey(userID uuid.UUID) string { return s.prefix + "user:" + userID.String() }

func (s *Store) Create(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (*market.SessionRecord, error) {
	now := s.now().UTC()
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil, fmt.Errorf("redisstore: session expiry %s is in the past", expiresAt)
	}

	record := &market.SessionRecord{
		ID:        market.NewSessionID(),
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: &now,
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(record.ID), userID.String(), ttl)
	pipe.SAdd(ctx, s.userKey(userID), record.ID)
	pipe.ExpireGT(ctx, s.userKey(userID), ttl)
	pipe.ExpireNX(ctx, s.userKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisstore: create session: %w", err)
	}

	s.logger.Debug("session created for user %s, ttl %s", userID, ttl)
	return record, nil
}

// Lookup resolves sessionID to its user. Credentials are never returned.
func (s *Store) Lookup(ctx context.Context, sessionID string) (*market.User, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: lookup session: %w", err)
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Warn("session %s holds an invalid user id", sessionID)
		return nil, notFound(sessionID)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if market.IsNotFound(err) {
			return nil, notFound(sessionID)
		}
		return nil, err
	}
	return user.Sanitized(), nil
}

func (s *Store) Destroy(ctx context.Context, sessionID string) error {
	key := s.sessionKey(sessionID)

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redisstore: destroy session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if userID, err := uuid.Parse(raw); err == nil {
		pipe.SRem(ctx, s.userKey(userID), sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: destroy session: %w", err)
	}
	return nil
}

func (s *Store) DestroyForUser(ctx context.Context, userID uuid.UUID) error {
	setKey := s.userKey(userID)

	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("redisstore: list user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}
	keys = append(keys, setKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redisstore: destroy user sessions: %w", err)
	}
	return nil
}

// PurgeExpired drops index entries whose session key already expired. Redis
// expires the session keys themselves.
func (s *Store) PurgeExpired(ctx context.Context, _ time.Time) (int64, error) {
	var (
		cursor uint64
		purged int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"user:*", 100).Result()
		if err != nil {
			return purged, fmt.Errorf("redisstore: scan user indexes: %w", err)
		}
		for _, setKey := range keys {
			n, err := s.pruneIndex(ctx, setKey)
			if err != nil {
				return purged, err
			}
			purged += n
		}
		cursor = next
		if cursor == 0 {
			return purged, nil
		}
	}
}

func (s *Store) pruneIndex(ctx context.Context, setKey string) (int64, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: list %s: %w", setKey, err)
	}

	var stale []any
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, s.sessionKey(id)).Result()
		if err != nil {
			return 0, fmt.Errorf("redisstore: check session: %w", err)
		}
		if exists == 0 {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	return s.client.SRem(ctx, setKey, stale...).Result()
}

func notFound(sessionID string) error {
	clone := market.ErrSessionNotFound.Clone()
	clone.Source = market.ErrSessionNotFound
	clone.WithMetadata(map[string]any{"session_id": sessionID})
	return clone
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
