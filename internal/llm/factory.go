package llm

import (
	"fmt"

	"github.com/antigravity-dev/cortex/internal/config"
)

// BuildBackends constructs one Backend per configured provider, dispatching
// on Provider.Kind. Unknown kinds are skipped with an error collected for
// the caller to log; a single bad entry in config should not prevent the
// rest of the providers from loading.
func BuildBackends(cfg *config.Config) (map[string]Backend, []error) {
	backends := make(map[string]Backend, len(cfg.Providers))
	var errs []error

	for name, p := range cfg.Providers {
		timeout := cfg.General.ProviderTimeout.Duration
		if p.IsOllama {
			timeout = cfg.General.OllamaTimeout.Duration
		}

		switch p.Kind {
		case "anthropic":
			backends[name] = NewAnthropicBackend(name, p, timeout)
		case "openai", "openai-compatible", "google":
			backends[name] = NewOpenAICompatibleBackend(name, p, timeout)
		default:
			errs = append(errs, fmt.Errorf("provider %s: unknown kind %q", name, p.Kind))
		}
	}

	return backends, errs
}

// TiersFromConfig converts config.Tiers into the map shape NewTierGateway
// expects.
func TiersFromConfig(t config.Tiers) map[Tier][]string {
	return map[Tier][]string{
		TierFast:     t.Fast,
		TierBalanced: t.Balanced,
		TierPremium:  t.Premium,
	}
}
