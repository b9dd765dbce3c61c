package llm

import (
	"context"
	"log/slog"
)

// Tier is a purpose tier: fast/balanced/premium, resolved to an ordered
// list of provider names by configuration (§9 "Provider purpose tiers").
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierPremium  Tier = "premium"
)

// Escalate returns the next tier up, or the same tier if already premium.
func (t Tier) Escalate() Tier {
	switch t {
	case TierFast:
		return TierBalanced
	case TierBalanced:
		return TierPremium
	default:
		return t
	}
}

// TierGateway resolves a purpose tier to an ordered list of backends and
// tries each in turn: a backend that returns NotConfigured or Error is not
// retried itself (the inner Gateway already retried transient failures)
// but the tier gateway falls through to the next provider in the list.
type TierGateway struct {
	tiers    map[Tier][]string
	backends map[string]Backend
	logger   *slog.Logger
	opts     []Option
}

// NewTierGateway builds a tier-aware gateway. tiers maps a tier name to an
// ordered provider-name list (config.Tiers); backends maps provider name to
// its Backend implementation.
func NewTierGateway(tiers map[Tier][]string, backends map[string]Backend, logger *slog.Logger, opts ...Option) *TierGateway {
	return &TierGateway{tiers: tiers, backends: backends, logger: logger, opts: opts}
}

// SendForTier tries each provider configured for tier, in order, returning
// the first response whose StopReason is not NotConfigured/Error. If every
// provider in the tier is exhausted or unconfigured, the last response is
// returned (per §9's tie-break: no silent fallback across tiers — the
// caller decides whether to escalate to the next tier).
func (tg *TierGateway) SendForTier(ctx context.Context, tier Tier, messages []Message, tools []ToolSpec, systemPrompt string) Response {
	names := tg.tiers[tier]
	if len(names) == 0 {
		return Response{StopReason: StopNotConfigured}
	}

	var last Response
	for _, name := range names {
		backend, ok := tg.backends[name]
		if !ok {
			tg.logger.Warn("tier references unknown provider", "tier", tier, "provider", name)
			continue
		}
		gw := NewGateway(map[string]Backend{name: backend}, tg.logger, tg.opts...)
		last = gw.SendMessage(ctx, messages, tools, systemPrompt)
		if last.StopReason != StopNotConfigured && last.StopReason != StopError {
			return last
		}
	}
	return last
}
