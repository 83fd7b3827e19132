package llm

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/markai/markai/pkg/types"
)

// NewProvider creates a provider by name. A nil config gets the provider's
// defaults; Gemini API keys fall back to the GEMINI_API_KEY environment
// variable when the config leaves them empty.
func NewProvider(name string, cfg *ProviderConfig) (Provider, error) {
	switch name {
	case "ollama":
		return NewOllamaProvider(cfg), nil
	case "gemini":
		if cfg == nil {
			cfg = DefaultConfig("gemini")
		}
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		return NewGeminiProvider(cfg), nil
	default:
		return nil, providerErrorf("unknown provider: %s", name)
	}
}

// SelectProvider returns the first available provider from the ordered list,
// falling back to the first entry when none report available. This mirrors how
// ProcessMessage picks a backend: prefer what is configured and reachable,
// but never refuse to construct when everything is offline (the call itself
// will surface the real error).
func SelectProvider(order []string, configs map[string]*ProviderConfig) (Provider, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", types.ErrValidation)
	}

	var first Provider
	for _, name := range order {
		p, err := NewProvider(name, configs[name])
		if err != nil {
			log.Warn().Str("provider", name).Err(err).Msg("Skipping provider")
			continue
		}
		if first == nil {
			first = p
		}
		if p.Available() {
			log.Debug().Str("provider", p.Name()).Msg("Selected LLM provider")
			return p, nil
		}
	}

	if first == nil {
		return nil, providerErrorf("no usable providers in %v", order)
	}
	log.Warn().Str("provider", first.Name()).Msg("No provider reports available, using first configured")
	return first, nil
}
