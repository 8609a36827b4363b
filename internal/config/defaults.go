package config

const (
	// DefaultSystemPrompt constrains answers to the retrieved context.
	DefaultSystemPrompt = "You are a helpful AI assistant. Answer questions based on the provided context from uploaded documents. " +
		"If the context doesn't contain relevant information, say so politely. Keep answers concise and helpful."

	// DefaultFallbackMessage is sent when retrieval finds nothing.
	DefaultFallbackMessage = "I don't have any relevant information in my knowledge base to answer your question. " +
		"Please make sure documents have been uploaded through the admin interface, or try rephrasing your question."

	// DefaultErrorMessage is sent when the answer could not be generated.
	DefaultErrorMessage = "Sorry, something went wrong while preparing your answer. Please try again in a moment."
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeoutSeconds: 30,
		},
		Embedding: EmbeddingConfig{
			Provider:   "local",
			Model:      "hashing-v1",
			Dimensions: 384,
			MaxTokens:  512,
		},
		Index: IndexConfig{
			Backend:          "sqlite",
			DBPath:           "~/.ragbot/index.db",
			DefaultNamespace: "default",
			Qdrant: QdrantConfig{
				Collection:     "rag-whatsapp-bot",
				TimeoutSeconds: 15,
			},
		},
		DefaultProvider: "claude",
		Providers: map[string]ProviderConfig{
			"claude": {
				Enabled:      true,
				DefaultModel: "claude-3-5-sonnet-20240620",
			},
			"openai": {
				Enabled:      false,
				DefaultModel: "gpt-4o-mini",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Answer: AnswerConfig{
			TopK:            3,
			MaxTokens:       400,
			SystemPrompt:    DefaultSystemPrompt,
			FallbackMessage: DefaultFallbackMessage,
			ErrorMessage:    DefaultErrorMessage,
			TimeoutSeconds:  60,
		},
		Ingest: IngestConfig{
			MaxUploadMB:      20,
			EmbedConcurrency: 4,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:           false,
				APIBase:           "https://graph.facebook.com/v21.0",
				WebhookPath:       "/webhook",
				SendRatePerSecond: 20,
			},
		},
		Admin: AdminConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
