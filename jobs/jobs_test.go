package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(string, ...any)  {}
func (l *recordingLogger) Error(format string, args ...any) {
	l.errors = append(l.errors, format)
}

type purgeStore struct {
	calls int
}

func (s *purgeStore) Create(context.Context, uuid.UUID, time.Time) (*market.SessionRecord, error) {
	return nil, nil
}
func (s *purgeStore) Lookup(context.Context, string) (*market.User, error) { return nil, nil }
func (s *purgeStore) Destroy(context.Context, string) error              { return nil }
func (s *purgeStore) DestroyForUser(context.Context, uuid.UUID) error    { return nil }
func (s *purgeStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	s.calls++
	return 2, nil
}

func TestAddRejectsInvalidSpec(t *testing.T) {
	s := New()
	err := s.Add("broken", "every now and then", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, 0, s.Entries())
}

func TestRegisterSkipsEmptySpecs(t *testing.T) {
	s := New()
	store := &purgeStore{}

	require.NoError(t, s.Register(Specs{PurgeSessions: "@hourly"}, nil, market.NewPurgeSessionsHandler(store)))
	assert.Equal(t, 1, s.Entries())
}

func TestRunLogsFailuresAndPanics(t *testing.T) {
	logger := &recordingLogger{}
	s := New(WithLogger(logger), WithTimeout(time.Second))

	s.run("fails", func(context.Context) error { return errors.New("boom") })
	s.run("panics", func(context.Context) error { panic("bad") })

	assert.Len(t, logger.errors, 2)
}

func TestRunExecutesHandler(t *testing.T) {
	s := New()
	store := &purgeStore{}
	purge := market.NewPurgeSessionsHandler(store)

	s.run("purge-sessions", func(ctx context.Context) error {
		return purge.Execute(ctx, market.PurgeSessionsMessage{})
	})
	assert.Equal(t, 1, store.calls)
}

func TestStartStop(t *testing.T) {
	s := New(WithLocation(time.UTC))
	require.NoError(t, s.Add("tick", "@every 1h", func(context.Context) error { return nil }))

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
