package provider

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"standin/internal/config"
	"standin/internal/domain"
)

// Constructor builds a provider from its config entry.
type Constructor func(pc config.ProviderConfig, maxTokens int, logger *slog.Logger) domain.Provider

var builtins = map[string]Constructor{
	"claude": func(pc config.ProviderConfig, maxTokens int, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, MaxTokens: maxTokens, Timeout: timeoutOf(pc), Logger: logger})
	},
	"openai": func(pc config.ProviderConfig, maxTokens int, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, MaxTokens: maxTokens, Timeout: timeoutOf(pc), Logger: logger})
	},
	"gemini": func(pc config.ProviderConfig, maxTokens int, logger *slog.Logger) domain.Provider {
		return NewGemini(GeminiConfig{APIKey: pc.APIKey, Model: pc.DefaultModel, MaxTokens: maxTokens, Logger: logger})
	},
	"ollama": func(pc config.ProviderConfig, maxTokens int, logger *slog.Logger) domain.Provider {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, MaxTokens: maxTokens, Timeout: timeoutOf(pc), Logger: logger})
	},
}

// openAICompatible handles any provider name without a builtin, as long as
// it points at an API base. Most self-hosted gateways speak this dialect.
func openAICompatible(name string) Constructor {
	return func(pc config.ProviderConfig, maxTokens int, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{Name: name, APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, MaxTokens: maxTokens, Timeout: timeoutOf(pc), Logger: logger})
	}
}

func timeoutOf(pc config.ProviderConfig) time.Duration {
	if pc.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(pc.TimeoutSeconds) * time.Second
}

// Factory builds providers from config and keeps one instance per name.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger

	mu    sync.Mutex
	ctors map[string]Constructor
	built map[string]domain.Provider
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:    cfg,
		logger: logger,
		ctors:  make(map[string]Constructor, len(builtins)),
		built:  map[string]domain.Provider{},
	}
	for name, c := range builtins {
		f.ctors[name] = c
	}
	return f
}

// Register adds or replaces the constructor for name. Tests use it to swap
// in fakes.
func (f *Factory) Register(name string, c Constructor) {
	f.mu.Lock()
	f.ctors[name] = c
	delete(f.built, name)
	f.mu.Unlock()
}

// Get returns the named provider, or the default provider when name is empty.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.built[name]; ok {
		return p, nil
	}

	pc, ok := f.cfg.Providers[name]
	switch {
	case !ok:
		return nil, fmt.Errorf("unknown provider: %s", name)
	case !pc.Enabled:
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	ctor, ok := f.ctors[name]
	if !ok {
		if pc.APIBase == "" {
			return nil, fmt.Errorf("provider %s: not a builtin and no apiBase set", name)
		}
		ctor = openAICompatible(name)
	}
	p := ctor(pc, f.cfg.Persona.MaxTokens, f.logger.With("provider", name))
	f.built[name] = p
	return p, nil
}

// Chain builds the reply provider. Without a failover chain it is the
// default provider; otherwise usable members are wrapped in a
// FailoverProvider in chain order.
func (f *Factory) Chain() (domain.Provider, error) {
	names := f.cfg.General.FailoverChain
	if len(names) == 0 {
		return f.Get("")
	}
	var members []domain.Provider
	for _, name := range names {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping provider in failover chain", "provider", name, "err", err)
			continue
		}
		members = append(members, p)
	}
	switch len(members) {
	case 0:
		return nil, fmt.Errorf("no usable provider in failover chain %v", names)
	case 1:
		return members[0], nil
	}
	return NewFailoverProvider(FailoverConfig{Providers: members, Logger: f.logger}), nil
}

// HealthyProvider returns the first enabled provider that answers a health
// check, trying the failover chain before the rest in name order.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	names := slices.Clone(f.cfg.General.FailoverChain)
	rest := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		if !slices.Contains(names, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	for _, name := range append(names, rest...) {
		p, err := f.Get(name)
		if err != nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
