package embedding

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

// New builds the validating embedding service selected by cfg.Provider.
// The OpenAI key falls back to OPENAI_API_KEY when the config leaves it empty.
func New(cfg config.EmbeddingConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// The local model name means nothing to remote backends.
	model := cfg.Model
	if model == DefaultHashingModel {
		model = ""
	}

	var backend domain.Embedder
	switch cfg.Provider {
	case "", "local":
		backend = NewHashing(HashingConfig{Model: cfg.Model, Dimensions: cfg.Dimensions, MaxTokens: cfg.MaxTokens})
	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("embedding provider openai: no API key (set embedding.apiKey or OPENAI_API_KEY)")
		}
		backend = NewOpenAI(OpenAIConfig{APIKey: key, APIBase: cfg.APIBase, Model: model, Dimensions: cfg.Dimensions})
	case "ollama":
		backend = NewOllama(OllamaConfig{BaseURL: cfg.APIBase, Model: model, Dimensions: cfg.Dimensions})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	logger.Info("embedding backend ready",
		"provider", cfg.Provider, "model", backend.ModelName(), "dimensions", backend.Dimensions())
	return NewService(ServiceConfig{Backend: backend, MaxTokens: cfg.MaxTokens, Logger: logger}), nil
}
