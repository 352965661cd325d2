package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.RateLimit.HardLimit != 5000 || cfg.RateLimit.ApproachingThreshold != 100 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Ingestion.Topic != TopicGitHubEvents {
		t.Fatalf("expected ingestion topic %q, got %q", TopicGitHubEvents, cfg.Ingestion.Topic)
	}
}

func TestConfigValidate_RejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"hard limit":      func(c *Config) { c.RateLimit.HardLimit = 0 },
		"threshold":       func(c *Config) { c.RateLimit.ApproachingThreshold = c.RateLimit.HardLimit },
		"failure":         func(c *Config) { c.Resilience.FailureThreshold = 0 },
		"bulkhead":        func(c *Config) { c.Resilience.MaxConcurrent = 0 },
		"delivery budget": func(c *Config) { c.Delivery.DefaultMaxRetries = MaxSubscriptionRetries + 1 },
		"merge method":    func(c *Config) { c.Orchestrator.MergeMethod = "octopus" },
		"service name":    func(c *Config) { c.ServiceName = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestGoOptionsResolver_RuntimeOverridesFileLayer(t *testing.T) {
	defaults := DefaultConfig()
	loaded := DefaultConfig()
	loaded.ServiceName = "from-file"
	loaded.RateLimit.HardLimit = 1000

	runtime := Config{ServiceName: "from-runtime"}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime service name, got %q", resolved.ServiceName)
	}
	if resolved.RateLimit.HardLimit != 1000 {
		t.Fatalf("expected file hard limit 1000, got %d", resolved.RateLimit.HardLimit)
	}
	if resolved.Orchestrator.MergeMethod != defaults.Orchestrator.MergeMethod {
		t.Fatalf("expected default merge method to survive")
	}
}

func TestResolveConfig_UsesProvider(t *testing.T) {
	loaded := DefaultConfig()
	loaded.ServiceName = "provided"

	cfg, err := ResolveConfig(context.Background(), &fixedConfigProvider{cfg: loaded}, nil, Config{})
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.ServiceName != "provided" {
		t.Fatalf("expected provided service name, got %q", cfg.ServiceName)
	}
}

func TestCfgxConfigProvider_StaticValues(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticRawConfigLoader{Values: map[string]any{
		"service_name": "static",
		"rate_limit": map[string]any{
			"hard_limit": 2000,
		},
	}})
	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "static" || cfg.RateLimit.HardLimit != 2000 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.RateLimit.ApproachingThreshold != 100 {
		t.Fatalf("expected default threshold to be kept")
	}
}

func TestYAMLConfigLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "integrations.yaml")
	body := "service_name: yaml-service\norchestrator:\n  merge_method: rebase\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	raw, err := YAMLConfigLoader{Path: path}.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if raw["service_name"] != "yaml-service" {
		t.Fatalf("unexpected raw map: %+v", raw)
	}

	missing, err := YAMLConfigLoader{Path: filepath.Join(dir, "missing.yaml")}.LoadRaw(context.Background())
	if err != nil || len(missing) != 0 {
		t.Fatalf("expected empty map for optional missing file, got %v %v", missing, err)
	}
	if _, err := (YAMLConfigLoader{Path: filepath.Join(dir, "missing.yaml"), Required: true}).LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected error for required missing file")
	}
}
