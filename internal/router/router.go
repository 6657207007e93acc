// Package router sends resolved intents to the dispatcher registered for
// their agent.
package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/eugenetaranov/devagent/internal/intent"
	"github.com/eugenetaranov/devagent/internal/invocation"
	"github.com/eugenetaranov/devagent/internal/outcome"
)

// Dispatcher runs one action. *action.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, action string, params map[string]any) outcome.Outcome
}

// Router maps agent names to dispatchers.
type Router struct {
	agents map[intent.Agent]Dispatcher
	logger *slog.Logger
}

// Option configures the router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty router.
func New(opts ...Option) *Router {
	r := &Router{
		agents: make(map[intent.Agent]Dispatcher),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register makes d handle intents for agent, replacing any earlier registration.
func (r *Router) Register(agent intent.Agent, d Dispatcher) {
	r.agents[agent] = d
}

// Agents returns the registered agent names, sorted.
func (r *Router) Agents() []intent.Agent {
	names := make([]intent.Agent, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Route dispatches in to its agent. Unknown agents, and known agents with no
// configured device, yield an error outcome.
func (r *Router) Route(ctx context.Context, in intent.Intent) outcome.Outcome {
	ctx, _ = invocation.Ensure(ctx)
	logger := r.logger.With("agent", in.Agent, "action", in.Action)

	d, ok := r.agents[in.Agent]
	if !ok {
		logger.WarnContext(ctx, "no agent for intent")
		switch in.Agent {
		case intent.RaspberryPi, intent.ESPDevice:
			return outcome.Errorf("Agent not configured: %s", in.Agent)
		default:
			return outcome.Errorf("Unknown agent")
		}
	}

	start := time.Now()
	logger.InfoContext(ctx, "dispatching")

	res := safeDispatch(ctx, d, in)

	logger.InfoContext(ctx, "finished", "status", res.Status, "duration", time.Since(start).Round(time.Millisecond))
	return res
}

func safeDispatch(ctx context.Context, d Dispatcher, in intent.Intent) (res outcome.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			res = outcome.Errorf("%s", fmt.Sprint(r))
		}
	}()
	return d.Dispatch(ctx, in.Action, in.Parameters)
}

// Handle resolves text into an intent and routes it. The returned intent is
// the one that was dispatched, which is the fallback intent when text held
// no usable payload.
func (r *Router) Handle(ctx context.Context, text string) (intent.Intent, outcome.Outcome) {
	ctx, _ = invocation.Ensure(ctx)

	in, fellBack := intent.Resolve(text)
	if fellBack {
		r.logger.WarnContext(ctx, "no intent found in classifier output, falling back", "agent", in.Agent, "action", in.Action)
	}
	return in, r.Route(ctx, in)
}
