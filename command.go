package market

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// commandBase holds the collaborators every command handler shares
type commandBase struct {
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// CommandOption customizes a command handler
type CommandOption func(*commandBase)

// WithCommandActivitySink sets the sink used to emit activity events
func WithCommandActivitySink(sink ActivitySink) CommandOption {
	return func(b *commandBase) {
		b.activity = normalizeActivitySink(sink)
	}
}

// WithCommandLogger overrides the logger used by the handler
func WithCommandLogger(logger Logger) CommandOption {
	return func(b *commandBase) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithCommandClock injects a custom clock (useful for tests).
func WithCommandClock(clock func() time.Time) CommandOption {
	return func(b *commandBase) {
		if clock != nil {
			b.now = clock
		}
	}
}

func newCommandBase(opts ...CommandOption) commandBase {
	b := commandBase{
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

func (b commandBase) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, b.activity, b.logger, b.now, event)
}

// guard returns an error when ctx is already done
func guard(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during "+operation,
		)
	default:
		return nil
	}
}

// asRichError returns go-errors errors untouched and wraps anything else as internal
func asRichError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return WrapInternal(err, message)
}

func requireActor(user *User) error {
	if user == nil || user.IsBanned {
		return NewForbidden(map[string]any{"reason": "authentication required"})
	}
	return nil
}
