package action

import (
	"context"
	"io"
	"log/slog"

	"github.com/eugenetaranov/devagent/internal/invocation"
	"github.com/eugenetaranov/devagent/internal/outcome"
)

// Dispatcher runs actions against one target.
type Dispatcher struct {
	target Target
	logger *slog.Logger
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a dispatcher for target.
func NewDispatcher(target Target, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		target: target,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs action with params. The whole dispatch runs inside the
// target's session scope, so the session is closed on return whichever branch
// is taken. Unknown actions and invalid parameters are rejected before any
// connection is made. A ctx without an invocation ID is given a fresh one.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, params map[string]any) outcome.Outcome {
	ctx, _ = invocation.Ensure(ctx)
	return d.target.Scoped(ctx, func(ctx context.Context) outcome.Outcome {
		def, ok := Get(Kind(action))
		if !ok {
			d.logger.WarnContext(ctx, "unknown action", "action", action)
			return outcome.Errorf("%v", &UnknownActionError{Action: action})
		}

		d.logger.DebugContext(ctx, "dispatching", "action", action)
		res := def.run(ctx, d.target, params)
		d.logger.DebugContext(ctx, "dispatched", "action", action, "status", res.Status)
		return res
	})
}
