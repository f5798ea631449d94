// Package provider builds the image generator selected by configuration.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"pastelflow/internal/config"
	"pastelflow/internal/editor"
	"pastelflow/internal/gemini"
	"pastelflow/internal/openaiimage"
)

func New(ctx context.Context, cfg config.Config, httpClient *http.Client, logger *slog.Logger) (editor.Generator, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		gen, err := gemini.New(ctx, gemini.Options{
			APIKey:      cfg.GeminiAPIKey,
			BaseURL:     cfg.GeminiBaseURL,
			APIVersion:  cfg.GeminiAPIVersion,
			Model:       cfg.GeminiImageModel,
			AspectRatio: cfg.GeminiAspectRatio,
			HTTPClient:  httpClient,
			Logger:      logger.With("provider", config.ProviderGemini),
		})
		if err != nil {
			return nil, err
		}
		return gen, nil
	case config.ProviderOpenAI:
		return openaiimage.New(openaiimage.Options{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIImageModel,
			Size:       cfg.OpenAIImageSize,
			HTTPClient: httpClient,
			Logger:     logger.With("provider", config.ProviderOpenAI),
		}), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.Provider)
	}
}
