package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for ragbot.
type Config struct {
	General         GeneralConfig             `json:"general" yaml:"general" toml:"general"`
	Server          ServerConfig              `json:"server" yaml:"server" toml:"server"`
	Embedding       EmbeddingConfig           `json:"embedding" yaml:"embedding" toml:"embedding"`
	Index           IndexConfig               `json:"index" yaml:"index" toml:"index"`
	DefaultProvider string                    `json:"defaultProvider" yaml:"defaultProvider" toml:"defaultProvider"`
	FailoverChain   []string                  `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty" toml:"failoverChain,omitempty"`
	Providers       map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	Answer          AnswerConfig              `json:"answer" yaml:"answer" toml:"answer"`
	Ingest          IngestConfig              `json:"ingest" yaml:"ingest" toml:"ingest"`
	Channels        ChannelsConfig            `json:"channels" yaml:"channels" toml:"channels"`
	Admin           AdminConfig               `json:"admin" yaml:"admin" toml:"admin"`
	Metrics         MetricsConfig             `json:"metrics" yaml:"metrics" toml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel" toml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty" toml:"logFile,omitempty"` // optional log file path
}

type ServerConfig struct {
	Host               string `json:"host" yaml:"host" toml:"host"`
	Port               int    `json:"port" yaml:"port" toml:"port"`
	ReadTimeoutSeconds int    `json:"readTimeoutSeconds" yaml:"readTimeoutSeconds" toml:"readTimeoutSeconds"`
}

// EmbeddingConfig fixes the embedding model for the process lifetime.
// Changing Model or Dimensions requires a fresh index.
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider" toml:"provider"` // "local" | "openai" | "ollama"
	Model      string `json:"model" yaml:"model" toml:"model"`
	Dimensions int    `json:"dimensions" yaml:"dimensions" toml:"dimensions"`
	MaxTokens  int    `json:"maxTokens" yaml:"maxTokens" toml:"maxTokens"` // input is truncated beyond this many tokens
	APIBase    string `json:"apiBase,omitempty" yaml:"apiBase,omitempty" toml:"apiBase,omitempty"`
	APIKey     string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
}

type IndexConfig struct {
	Backend          string       `json:"backend" yaml:"backend" toml:"backend"` // "sqlite" | "memory" | "qdrant"
	DBPath           string       `json:"dbPath" yaml:"dbPath" toml:"dbPath"`
	DefaultNamespace string       `json:"defaultNamespace" yaml:"defaultNamespace" toml:"defaultNamespace"`
	Qdrant           QdrantConfig `json:"qdrant,omitempty" yaml:"qdrant,omitempty" toml:"qdrant,omitempty"`
}

type QdrantConfig struct {
	URL            string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	Collection     string `json:"collection,omitempty" yaml:"collection,omitempty" toml:"collection,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty" toml:"timeoutSeconds,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty" toml:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty" toml:"defaultModel,omitempty"`
}

// AnswerConfig holds the retrieval and answer-composition policy.
type AnswerConfig struct {
	TopK            int    `json:"topK" yaml:"topK" toml:"topK"`
	MaxTokens       int    `json:"maxTokens" yaml:"maxTokens" toml:"maxTokens"`
	SystemPrompt    string `json:"systemPrompt" yaml:"systemPrompt" toml:"systemPrompt"`
	FallbackMessage string `json:"fallbackMessage" yaml:"fallbackMessage" toml:"fallbackMessage"`
	ErrorMessage    string `json:"errorMessage" yaml:"errorMessage" toml:"errorMessage"`
	TimeoutSeconds  int    `json:"timeoutSeconds" yaml:"timeoutSeconds" toml:"timeoutSeconds"`
}

type IngestConfig struct {
	MaxUploadMB      int    `json:"maxUploadMB" yaml:"maxUploadMB" toml:"maxUploadMB"`
	EmbedConcurrency int    `json:"embedConcurrency" yaml:"embedConcurrency" toml:"embedConcurrency"`
	InboxDir         string `json:"inboxDir,omitempty" yaml:"inboxDir,omitempty" toml:"inboxDir,omitempty"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp" yaml:"whatsapp" toml:"whatsapp"`
}

type WhatsAppConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	APIBase           string  `json:"apiBase,omitempty" yaml:"apiBase,omitempty" toml:"apiBase,omitempty"`
	AppSecret         string  `json:"appSecret,omitempty" yaml:"appSecret,omitempty" toml:"appSecret,omitempty"`
	AccessToken       string  `json:"accessToken,omitempty" yaml:"accessToken,omitempty" toml:"accessToken,omitempty"`
	VerifyToken       string  `json:"verifyToken,omitempty" yaml:"verifyToken,omitempty" toml:"verifyToken,omitempty"`
	PhoneNumberID     string  `json:"phoneNumberId,omitempty" yaml:"phoneNumberId,omitempty" toml:"phoneNumberId,omitempty"`
	WebhookPath       string  `json:"webhookPath,omitempty" yaml:"webhookPath,omitempty" toml:"webhookPath,omitempty"`
	SendRatePerSecond float64 `json:"sendRatePerSecond,omitempty" yaml:"sendRatePerSecond,omitempty" toml:"sendRatePerSecond,omitempty"`
}

// AdminConfig configures the document upload / search API.
type AdminConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"` // bearer token; empty disables auth
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.ragbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ragbot"
	}
	return filepath.Join(home, ".ragbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path. The format is picked from the extension:
// .yaml/.yml, .toml, anything else is JSON.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := unmarshal(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Index.DBPath = ExpandPath(cfg.Index.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Ingest.InboxDir = ExpandPath(cfg.Ingest.InboxDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func marshal(path string, cfg *Config) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	case ".toml":
		return toml.Marshal(cfg)
	default:
		return json.MarshalIndent(cfg, "", "  ")
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := marshal(path, cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	switch cfg.Embedding.Provider {
	case "local", "openai", "ollama":
		// valid
	default:
		errs = append(errs, "embedding.provider must be one of: local, openai, ollama")
	}
	if cfg.Embedding.Dimensions < 1 {
		errs = append(errs, "embedding.dimensions must be >= 1")
	}
	if cfg.Embedding.MaxTokens < 1 {
		errs = append(errs, "embedding.maxTokens must be >= 1")
	}

	switch cfg.Index.Backend {
	case "sqlite", "memory":
		// valid
	case "qdrant":
		if cfg.Index.Qdrant.URL == "" {
			errs = append(errs, "index.qdrant.url is required for the qdrant backend")
		}
	default:
		errs = append(errs, "index.backend must be one of: sqlite, memory, qdrant")
	}
	if strings.TrimSpace(cfg.Index.DefaultNamespace) == "" {
		errs = append(errs, "index.defaultNamespace must not be empty")
	}

	if cfg.Answer.TopK < 1 || cfg.Answer.TopK > 50 {
		errs = append(errs, "answer.topK must be between 1 and 50")
	}
	if cfg.Answer.MaxTokens < 1 {
		errs = append(errs, "answer.maxTokens must be >= 1")
	}
	if strings.TrimSpace(cfg.Answer.FallbackMessage) == "" {
		errs = append(errs, "answer.fallbackMessage must not be empty")
	}
	if cfg.Answer.TimeoutSeconds < 1 {
		errs = append(errs, "answer.timeoutSeconds must be >= 1")
	}

	if cfg.Ingest.EmbedConcurrency < 1 || cfg.Ingest.EmbedConcurrency > 64 {
		errs = append(errs, "ingest.embedConcurrency must be between 1 and 64")
	}
	if cfg.Ingest.MaxUploadMB < 1 {
		errs = append(errs, "ingest.maxUploadMB must be >= 1")
	}

	if cfg.Channels.WhatsApp.Enabled {
		if cfg.Channels.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, "channels.whatsapp.phoneNumberId is required when whatsapp is enabled")
		}
		if cfg.Channels.WhatsApp.VerifyToken == "" {
			errs = append(errs, "channels.whatsapp.verifyToken is required when whatsapp is enabled")
		}
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("failoverChain references unknown provider: %s", provName))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
