// Package jobs schedules the marketplace maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Specs holds the cron expression of every task. An empty spec disables the
// task.
type Specs struct {
	ExpireDeposits string
	PurgeSessions  string
}

type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  market.Logger
}

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.cron = cron.New(cron.WithLocation(loc), cron.WithParser(parser))
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger market.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		timeout: time.Minute,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register adds the deposit expiry and session purge tasks
func (s *Scheduler) Register(specs Specs, expire *market.ExpireDepositsHandler, purge *market.PurgeSessionsHandler) error {
	if specs.ExpireDeposits != "" && expire != nil {
		if err := s.Add("expire-deposits", specs.ExpireDeposits, func(ctx context.Context) error {
			return expire.Execute(ctx, market.ExpireDepositsMessage{})
		}); err != nil {
			return err
		}
	}
	if specs.PurgeSessions != "" && purge != nil {
		if err := s.Add("purge-sessions", specs.PurgeSessions, func(ctx context.Context) error {
			return purge.Execute(ctx, market.PurgeSessionsMessage{})
		}); err != nil {
			return err
		}
	}
	return nil
}

// Add schedules task under name. Each run gets its own timeout and a
// panic in task is logged, not propagated.
func (s *Scheduler) Add(name, spec string, task func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.run(name, task)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.logger.Info("scheduled %s at %q", name, spec)
	return nil
}

func (s *Scheduler) run(name string, task func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job %s panicked: %v", name, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := task(ctx); err != nil {
		s.logger.Error("job %s failed: %v", name, err)
		return
	}
	s.logger.Debug("job %s done in %s", name, time.Since(start))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("stopping scheduler: %v", ctx.Err())
	}
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
