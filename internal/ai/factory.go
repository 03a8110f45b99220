package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/album-suggester/internal/config"
)

// ProviderNone disables the vision model; enrichment then uses the default texts.
const ProviderNone = "none"

// NewProvider builds the named provider from cfg. It returns a nil provider
// and no error for ProviderNone.
func NewProvider(ctx context.Context, cfg *config.Config, name string) (VisionProvider, error) {
	switch name {
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		pricing := cfg.GetModelPricing(chatModel)
		return NewOpenAIProvider(cfg.OpenAI.Token, RequestPricing{Input: pricing.Input, Output: pricing.Output}), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		pricing := cfg.GetModelPricing(geminiModel)
		p, err := NewGeminiProvider(ctx, cfg.Gemini.APIKey, RequestPricing{Input: pricing.Input, Output: pricing.Output})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini provider: %w", err)
		}
		return p, nil
	case "ollama":
		return NewOllamaProvider(cfg.Ollama.URL, cfg.Ollama.Model), nil
	case ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: openai, gemini, ollama, none)", name)
	}
}
