package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// gateway is the concrete Gateway: it owns a named set of backends and a
// retry policy, and never lets an error cross the SendMessage boundary —
// failures come back as a Response with StopReason set, per §4.1.
type gateway struct {
	backends map[string]Backend
	policy   RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration)
}

// Option configures a Gateway at construction.
type Option func(*gateway)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *gateway) { g.policy = p }
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *gateway) { g.now = now }
}

// WithSleeper overrides how the gateway waits out backoff; used by tests to
// avoid real sleeps.
func WithSleeper(sleep func(context.Context, time.Duration)) Option {
	return func(g *gateway) { g.sleep = sleep }
}

// NewGateway constructs a Gateway over the given named backends. backends
// maps a provider name (as referenced from config.Tiers) to its Backend.
func NewGateway(backends map[string]Backend, logger *slog.Logger, opts ...Option) Gateway {
	g := &gateway{
		backends: backends,
		policy:   DefaultRetryPolicy(),
		logger:   logger,
		now:      time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewSingleBackendGateway is a convenience constructor for callers (Wyrm,
// Wyvern, Kobold, Dragon) that resolve one backend ahead of time via tier
// selection and just need retry wrapped around it.
func NewSingleBackendGateway(b Backend, logger *slog.Logger, opts ...Option) Gateway {
	return NewGateway(map[string]Backend{b.Name(): b}, logger, opts...)
}

// SendMessage implements Gateway. It never returns an error: exhaustion,
// misconfiguration, and backend failures all surface as a Response with
// StopReason set, per §4.1's "never throws across the interface" contract.
func (g *gateway) SendMessage(ctx context.Context, messages []Message, tools []ToolSpec, systemPrompt string) Response {
	backend := g.pickBackend()
	if backend == nil {
		return errorResponse("no provider backend configured")
	}
	if !backend.Configured() {
		return Response{StopReason: StopNotConfigured}
	}

	var lastErr error
	for attempt := 0; attempt <= g.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := transientRetryAfter(lastErr)
			if delay == 0 {
				delay = g.policy.delayForAttempt(attempt)
			}
			g.logger.Warn("retrying provider call", "backend", backend.Name(), "attempt", attempt, "delay", delay)
			g.sleep(ctx, delay)
			if ctx.Err() != nil {
				return errorResponse(ctx.Err().Error())
			}
		}

		resp, err := backend.Send(ctx, messages, tools, systemPrompt)
		if err == nil {
			return resp
		}
		lastErr = err

		if !IsTransient(err) {
			g.logger.Error("provider call failed (not retryable)", "backend", backend.Name(), "error", err)
			return errorResponse(err.Error())
		}
		g.logger.Warn("provider call failed (transient)", "backend", backend.Name(), "attempt", attempt, "error", err)
	}

	return errorResponse(fmt.Sprintf("exhausted %d retries: %v", g.policy.MaxRetries, lastErr))
}

// pickBackend returns an arbitrary configured backend when the gateway
// wraps exactly one (the common case via NewSingleBackendGateway); callers
// that need tier-ordered fallback across several backends should construct
// one gateway per tier member and try each in turn (see TierGateway).
func (g *gateway) pickBackend() Backend {
	for _, b := range g.backends {
		return b
	}
	return nil
}

func errorResponse(text string) Response {
	return Response{
		StopReason: StopError,
		Content:    []ContentBlock{{Text: text}},
	}
}
