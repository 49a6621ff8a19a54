package inference

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/oralscan/internal/config"
)

// New builds the Client selected by cfg.Provider.
func New(ctx context.Context, cfg config.Inference, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIClient(OpenAIOptions{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}, logger), nil
	case config.ProviderGemini:
		return NewGeminiClient(ctx, GeminiOptions{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}
