package provider

import (
	"context"
	"log/slog"
	"testing"

	"standin/internal/config"
	"standin/internal/domain"
)

func TestFactory_ChainWrapsEnabledProviders(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["claude"] = config.ProviderConfig{Enabled: true, APIKey: "sk-ant-test"}
	cfg.Providers["gemini"] = config.ProviderConfig{Enabled: true, APIKey: "gm-test"}
	cfg.General.FailoverChain = []string{"claude", "gemini"}

	p, err := NewFactory(cfg, testLogger()).Chain()
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if p.Name() != "failover(claude→gemini)" {
		t.Fatalf("unexpected chain name %q", p.Name())
	}
}

func TestFactory_ChainSkipsDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["gemini"] = config.ProviderConfig{Enabled: false}
	cfg.General.FailoverChain = []string{"claude", "gemini"}

	p, err := NewFactory(cfg, testLogger()).Chain()
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if p.Name() != "claude" {
		t.Fatalf("single usable member should be returned unwrapped, got %q", p.Name())
	}
}

func TestFactory_ChainNoneUsable(t *testing.T) {
	cfg := config.Defaults()
	cfg.General.FailoverChain = []string{"openai", "ollama"} // both disabled by default

	if _, err := NewFactory(cfg, testLogger()).Chain(); err == nil {
		t.Fatal("expected error when no chain member is enabled")
	}
}

func TestFactory_GetCachesInstances(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	a, err := f.Get("claude")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := f.Get("claude")
	if a != b {
		t.Fatal("expected cached provider instance")
	}
}

func TestFactory_UnknownCompatibleProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{
		Enabled: true,
		APIBase: "https://api.groq.com/openai/v1",
		APIKey:  "gsk-test",
	}

	p, err := NewFactory(cfg, testLogger()).Get("groq")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Name() != "groq" {
		t.Fatalf("expected OpenAI-compatible provider named groq, got %q", p.Name())
	}
}

func TestFactory_DisabledProvider(t *testing.T) {
	cfg := config.Defaults()
	if _, err := NewFactory(cfg, testLogger()).Get("ollama"); err == nil {
		t.Fatal("expected error for disabled provider")
	}
}

func TestFactory_HealthyProviderPrefersChain(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["claude"] = config.ProviderConfig{Enabled: true}
	cfg.Providers["gemini"] = config.ProviderConfig{Enabled: true}
	cfg.General.FailoverChain = []string{"gemini"}

	f := NewFactory(cfg, testLogger())
	for _, name := range []string{"claude", "gemini"} {
		f.Register(name, func(pc config.ProviderConfig, _ int, _ *slog.Logger) domain.Provider {
			return &mockProvider{name: name, healthy: true}
		})
	}

	p := f.HealthyProvider(context.Background())
	if p == nil || p.Name() != "gemini" {
		t.Fatalf("expected chain member gemini first, got %v", p)
	}
}
