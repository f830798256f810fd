package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/intake-cli/internal/model"
)

// Guard wraps one external collaborator. Every attempt runs under Timeout;
// transient failures are retried; repeated failures open the breaker.
type Guard struct {
	Name    string
	Timeout time.Duration
	Retry   RetryConfig
	Breaker *Breaker
}

// NewGuard creates a Guard with default retry settings.
func NewGuard(name string, timeout time.Duration) *Guard {
	return &Guard{
		Name:    name,
		Timeout: timeout,
		Retry:   DefaultRetryConfig(),
		Breaker: NewBreaker(name, 5, 30*time.Second),
	}
}

// Call invokes fn through the guard. Timeouts, an open breaker and
// exhausted transient failures come back as
// *model.CollaboratorUnavailableError; other errors, such as a
// *model.MalformedResponseError, are returned unchanged. Cancellation of
// the parent context is returned as is.
func Call[T any](ctx context.Context, g *Guard, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.Breaker.allow(); err != nil {
		return zero, &model.CollaboratorUnavailableError{Collaborator: g.Name, Err: err}
	}

	v, err := DoVal(ctx, g.Retry, g.Name, func(ctx context.Context) (T, error) {
		if g.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.Timeout)
			defer cancel()
		}
		return fn(ctx)
	})

	var malformed *model.MalformedResponseError
	unavailable := err != nil && !errors.As(err, &malformed) && ctx.Err() == nil
	if ctx.Err() != nil {
		g.Breaker.release()
	} else {
		g.Breaker.record(unavailable)
	}

	switch {
	case err == nil:
		return v, nil
	case ctx.Err() != nil:
		return zero, ctx.Err()
	case unavailable:
		var cu *model.CollaboratorUnavailableError
		if errors.As(err, &cu) {
			return zero, err
		}
		return zero, &model.CollaboratorUnavailableError{Collaborator: g.Name, Err: err}
	}
	return zero, err
}
