package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return CopyAnyMap(l.Values), nil
}

// YAMLConfigLoader reads a YAML document into the raw map consumed by cfgx.
// A missing file yields an empty map unless Required is set.
type YAMLConfigLoader struct {
	Path     string
	Required bool
}

func (l YAMLConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !l.Required {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config %q: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: decode config %q: %w", path, err)
	}
	return raw, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ResolveConfig loads the file layer through provider and merges
// defaults < file < runtime overrides.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

type layer struct {
	values      map[string]any
	includeZero bool
}

func (l layer) set(key string, value any, zero bool) {
	if l.includeZero || !zero {
		l.values[key] = value
	}
}

func (l layer) section(key string, fill func(layer)) {
	child := layer{values: map[string]any{}, includeZero: l.includeZero}
	fill(child)
	if len(child.values) > 0 {
		l.values[key] = child.values
	}
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	root := layer{values: map[string]any{}, includeZero: includeZero}
	root.set("service_name", cfg.ServiceName, strings.TrimSpace(cfg.ServiceName) == "")

	root.section("rate_limit", func(l layer) {
		l.set("hard_limit", cfg.RateLimit.HardLimit, cfg.RateLimit.HardLimit == 0)
		l.set("window", cfg.RateLimit.Window, cfg.RateLimit.Window == 0)
		l.set("approaching_threshold", cfg.RateLimit.ApproachingThreshold, cfg.RateLimit.ApproachingThreshold == 0)
	})
	root.section("resilience", func(l layer) {
		r := cfg.Resilience
		l.set("max_retries", r.MaxRetries, r.MaxRetries == 0)
		l.set("initial_backoff", r.InitialBackoff, r.InitialBackoff == 0)
		l.set("max_backoff", r.MaxBackoff, r.MaxBackoff == 0)
		l.set("failure_threshold", r.FailureThreshold, r.FailureThreshold == 0)
		l.set("failure_window", r.FailureWindow, r.FailureWindow == 0)
		l.set("cooldown", r.Cooldown, r.Cooldown == 0)
		l.set("call_timeout", r.CallTimeout, r.CallTimeout == 0)
		l.set("max_concurrent", r.MaxConcurrent, r.MaxConcurrent == 0)
	})
	root.section("ingestion", func(l layer) {
		i := cfg.Ingestion
		l.set("webhook_secret", i.WebhookSecret, strings.TrimSpace(i.WebhookSecret) == "")
		l.set("throttle_per_minute", i.ThrottlePerMinute, i.ThrottlePerMinute == 0)
		l.set("throttle_burst", i.ThrottleBurst, i.ThrottleBurst == 0)
		l.set("topic", i.Topic, strings.TrimSpace(i.Topic) == "")
	})
	root.section("github", func(l layer) {
		g := cfg.GitHub
		l.set("api_base_url", g.APIBaseURL, strings.TrimSpace(g.APIBaseURL) == "")
		l.set("client_id", g.ClientID, strings.TrimSpace(g.ClientID) == "")
		l.set("client_secret", g.ClientSecret, strings.TrimSpace(g.ClientSecret) == "")
		l.set("redirect_url", g.RedirectURL, strings.TrimSpace(g.RedirectURL) == "")
		l.set("scopes", append([]string(nil), g.Scopes...), len(g.Scopes) == 0)
	})
	root.section("orchestrator", func(l layer) {
		o := cfg.Orchestrator
		l.set("branch_prefix", o.BranchPrefix, strings.TrimSpace(o.BranchPrefix) == "")
		l.set("merge_method", o.MergeMethod, strings.TrimSpace(o.MergeMethod) == "")
		l.set("ci_poll_interval", o.CIPollInterval, o.CIPollInterval == 0)
		l.set("auto_merge_timeout", o.AutoMergeTimeout, o.AutoMergeTimeout == 0)
	})
	root.section("delivery", func(l layer) {
		d := cfg.Delivery
		l.set("timeout", d.Timeout, d.Timeout == 0)
		l.set("default_max_retries", d.DefaultMaxRetries, d.DefaultMaxRetries == 0)
		l.set("initial_backoff", d.InitialBackoff, d.InitialBackoff == 0)
		l.set("max_backoff", d.MaxBackoff, d.MaxBackoff == 0)
		l.set("allow_http", d.AllowHTTP, !d.AllowHTTP)
		l.set("blocked_hosts", append([]string(nil), d.BlockedHosts...), len(d.BlockedHosts) == 0)
	})
	root.section("consumer", func(l layer) {
		c := cfg.Consumer
		l.set("poll_timeout", c.PollTimeout, c.PollTimeout == 0)
		l.set("idle_backoff", c.IdleBackoff, c.IdleBackoff == 0)
		l.set("message_timeout", c.MessageTimeout, c.MessageTimeout == 0)
	})
	root.section("outbox", func(l layer) {
		l.set("batch_size", cfg.Outbox.BatchSize, cfg.Outbox.BatchSize == 0)
		l.set("max_attempts", cfg.Outbox.MaxAttempts, cfg.Outbox.MaxAttempts == 0)
	})
	return root.values
}
