package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

// ProviderConstructor builds a provider from its config entry.
type ProviderConstructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// builtin maps provider names to constructors. Names without an entry are
// served by the OpenAI-compatible client when they set apiBase.
var builtin = map[string]ProviderConstructor{
	"ollama": func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Logger: logger})
	},
	"openai": openAICompatible("openai"),
	"claude": func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	},
}

// openAICompatible builds OpenAI-protocol clients that report name, so
// several compatible entries stay distinguishable in logs and failover.
func openAICompatible(name string) ProviderConstructor {
	return func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{Name: name, APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
}

// apiKeyEnv names the environment variable read when an entry has no apiKey.
var apiKeyEnv = map[string]string{
	"claude": "ANTHROPIC_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// Factory builds completion providers from config and hands out one
// instance per name.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger

	mu    sync.Mutex
	ctors map[string]ProviderConstructor
	built map[string]domain.Provider
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	ctors := make(map[string]ProviderConstructor, len(builtin))
	for name, ctor := range builtin {
		ctors[name] = ctor
	}
	return &Factory{cfg: cfg, logger: logger, ctors: ctors, built: make(map[string]domain.Provider)}
}

// RegisterConstructor adds or replaces the constructor for name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[name] = ctor
}

// entry returns the enabled config entry for name with env keys applied.
func (f *Factory) entry(name string) (config.ProviderConfig, error) {
	pc, ok := f.cfg.Providers[name]
	switch {
	case !ok:
		return pc, fmt.Errorf("unknown provider: %s", name)
	case !pc.Enabled:
		return pc, fmt.Errorf("provider %s is disabled", name)
	}
	if env := apiKeyEnv[name]; pc.APIKey == "" && env != "" {
		pc.APIKey = os.Getenv(env)
	}
	return pc, nil
}

// Get returns the provider called name, or the default provider when name
// is empty. Repeated calls return the same instance.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.DefaultProvider
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.built[name]; ok {
		return p, nil
	}

	pc, err := f.entry(name)
	if err != nil {
		return nil, err
	}
	ctor, ok := f.ctors[name]
	if !ok {
		if pc.APIBase == "" {
			return nil, fmt.Errorf("provider %s: no constructor registered and no apiBase configured", name)
		}
		ctor = openAICompatible(name)
	}
	p := ctor(pc, f.logger)
	f.built[name] = p
	return p, nil
}

// DefaultProvider returns the provider named by defaultProvider.
func (f *Factory) DefaultProvider() (domain.Provider, error) {
	return f.Get("")
}

// Completer returns what answers are generated with: a failover chain when
// failoverChain is set, the default provider otherwise. Chain entries that
// cannot be built are logged and left out.
func (f *Factory) Completer() (domain.Provider, error) {
	if len(f.cfg.FailoverChain) == 0 {
		return f.DefaultProvider()
	}
	chain := make([]domain.Provider, 0, len(f.cfg.FailoverChain))
	for _, name := range f.cfg.FailoverChain {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("failover chain entry skipped", "provider", name, "err", err)
			continue
		}
		chain = append(chain, p)
	}
	switch len(chain) {
	case 0:
		return nil, fmt.Errorf("no usable provider in failover chain %v", f.cfg.FailoverChain)
	case 1:
		return chain[0], nil
	}
	return NewFailover(FailoverConfig{Providers: chain, Logger: f.logger}), nil
}

// HealthyProvider returns the first enabled provider that passes its health
// check, trying the default first and the rest by name, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		if name != f.cfg.DefaultProvider {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = append([]string{f.cfg.DefaultProvider}, names...)
	for _, name := range names {
		p, err := f.Get(name)
		if err == nil && p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
