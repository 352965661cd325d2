package core

import (
	"fmt"
	"strings"
	"time"
)

type RateLimitConfig struct {
	HardLimit            int           `koanf:"hard_limit" mapstructure:"hard_limit" yaml:"hard_limit"`
	Window               time.Duration `koanf:"window" mapstructure:"window" yaml:"window"`
	ApproachingThreshold int           `koanf:"approaching_threshold" mapstructure:"approaching_threshold" yaml:"approaching_threshold"`
}

type ResilienceConfig struct {
	MaxRetries       int           `koanf:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff   time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff       time.Duration `koanf:"max_backoff" mapstructure:"max_backoff" yaml:"max_backoff"`
	FailureThreshold int           `koanf:"failure_threshold" mapstructure:"failure_threshold" yaml:"failure_threshold"`
	FailureWindow    time.Duration `koanf:"failure_window" mapstructure:"failure_window" yaml:"failure_window"`
	Cooldown         time.Duration `koanf:"cooldown" mapstructure:"cooldown" yaml:"cooldown"`
	CallTimeout      time.Duration `koanf:"call_timeout" mapstructure:"call_timeout" yaml:"call_timeout"`
	MaxConcurrent    int           `koanf:"max_concurrent" mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

type IngestionConfig struct {
	WebhookSecret     string `koanf:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`
	ThrottlePerMinute int    `koanf:"throttle_per_minute" mapstructure:"throttle_per_minute" yaml:"throttle_per_minute"`
	ThrottleBurst     int    `koanf:"throttle_burst" mapstructure:"throttle_burst" yaml:"throttle_burst"`
	Topic             string `koanf:"topic" mapstructure:"topic" yaml:"topic"`
}

type GitHubConfig struct {
	APIBaseURL   string   `koanf:"api_base_url" mapstructure:"api_base_url" yaml:"api_base_url"`
	ClientID     string   `koanf:"client_id" mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `koanf:"client_secret" mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURL  string   `koanf:"redirect_url" mapstructure:"redirect_url" yaml:"redirect_url"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes" yaml:"scopes"`
}

type OrchestratorConfig struct {
	BranchPrefix     string        `koanf:"branch_prefix" mapstructure:"branch_prefix" yaml:"branch_prefix"`
	MergeMethod      string        `koanf:"merge_method" mapstructure:"merge_method" yaml:"merge_method"`
	CIPollInterval   time.Duration `koanf:"ci_poll_interval" mapstructure:"ci_poll_interval" yaml:"ci_poll_interval"`
	AutoMergeTimeout time.Duration `koanf:"auto_merge_timeout" mapstructure:"auto_merge_timeout" yaml:"auto_merge_timeout"`
}

type DeliveryConfig struct {
	Timeout           time.Duration `koanf:"timeout" mapstructure:"timeout" yaml:"timeout"`
	DefaultMaxRetries int           `koanf:"default_max_retries" mapstructure:"default_max_retries" yaml:"default_max_retries"`
	InitialBackoff    time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff" mapstructure:"max_backoff" yaml:"max_backoff"`
	AllowHTTP         bool          `koanf:"allow_http" mapstructure:"allow_http" yaml:"allow_http"`
	BlockedHosts      []string      `koanf:"blocked_hosts" mapstructure:"blocked_hosts" yaml:"blocked_hosts"`
}

type ConsumerConfig struct {
	PollTimeout    time.Duration `koanf:"poll_timeout" mapstructure:"poll_timeout" yaml:"poll_timeout"`
	IdleBackoff    time.Duration `koanf:"idle_backoff" mapstructure:"idle_backoff" yaml:"idle_backoff"`
	MessageTimeout time.Duration `koanf:"message_timeout" mapstructure:"message_timeout" yaml:"message_timeout"`
}

type OutboxConfig struct {
	BatchSize   int `koanf:"batch_size" mapstructure:"batch_size" yaml:"batch_size"`
	MaxAttempts int `koanf:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`
}

type Config struct {
	ServiceName  string             `koanf:"service_name" mapstructure:"service_name" yaml:"service_name"`
	RateLimit    RateLimitConfig    `koanf:"rate_limit" mapstructure:"rate_limit" yaml:"rate_limit"`
	Resilience   ResilienceConfig   `koanf:"resilience" mapstructure:"resilience" yaml:"resilience"`
	Ingestion    IngestionConfig    `koanf:"ingestion" mapstructure:"ingestion" yaml:"ingestion"`
	GitHub       GitHubConfig       `koanf:"github" mapstructure:"github" yaml:"github"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator" mapstructure:"orchestrator" yaml:"orchestrator"`
	Delivery     DeliveryConfig     `koanf:"delivery" mapstructure:"delivery" yaml:"delivery"`
	Consumer     ConsumerConfig     `koanf:"consumer" mapstructure:"consumer" yaml:"consumer"`
	Outbox       OutboxConfig       `koanf:"outbox" mapstructure:"outbox" yaml:"outbox"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "integrations",
		RateLimit: RateLimitConfig{
			HardLimit:            5000,
			Window:               time.Hour,
			ApproachingThreshold: 100,
		},
		Resilience: ResilienceConfig{
			MaxRetries:       3,
			InitialBackoff:   200 * time.Millisecond,
			MaxBackoff:       10 * time.Second,
			FailureThreshold: 5,
			FailureWindow:    time.Minute,
			Cooldown:         30 * time.Second,
			CallTimeout:      30 * time.Second,
			MaxConcurrent:    8,
		},
		Ingestion: IngestionConfig{
			ThrottlePerMinute: 600,
			ThrottleBurst:     60,
			Topic:             TopicGitHubEvents,
		},
		GitHub: GitHubConfig{
			APIBaseURL: "https://api.github.com",
			Scopes:     []string{"repo", "read:user"},
		},
		Orchestrator: OrchestratorConfig{
			BranchPrefix:     "autonomous",
			MergeMethod:      "squash",
			CIPollInterval:   15 * time.Second,
			AutoMergeTimeout: 30 * time.Minute,
		},
		Delivery: DeliveryConfig{
			Timeout:           10 * time.Second,
			DefaultMaxRetries: 3,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			AllowHTTP:         true,
		},
		Consumer: ConsumerConfig{
			PollTimeout:    time.Second,
			IdleBackoff:    100 * time.Millisecond,
			MessageTimeout: time.Minute,
		},
		Outbox: OutboxConfig{
			BatchSize:   50,
			MaxAttempts: 5,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.RateLimit.HardLimit <= 0 {
		return fmt.Errorf("core: rate_limit.hard_limit must be positive")
	}
	if c.RateLimit.ApproachingThreshold < 0 || c.RateLimit.ApproachingThreshold >= c.RateLimit.HardLimit {
		return fmt.Errorf("core: rate_limit.approaching_threshold must be between 0 and hard_limit")
	}
	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("core: resilience.max_retries must not be negative")
	}
	if c.Resilience.FailureThreshold <= 0 {
		return fmt.Errorf("core: resilience.failure_threshold must be positive")
	}
	if c.Resilience.MaxConcurrent <= 0 {
		return fmt.Errorf("core: resilience.max_concurrent must be positive")
	}
	if c.Delivery.DefaultMaxRetries < 0 || c.Delivery.DefaultMaxRetries > MaxSubscriptionRetries {
		return fmt.Errorf("core: delivery.default_max_retries must be between 0 and %d", MaxSubscriptionRetries)
	}
	method := strings.ToLower(strings.TrimSpace(c.Orchestrator.MergeMethod))
	if method != "" && method != "merge" && method != "squash" && method != "rebase" {
		return fmt.Errorf("core: orchestrator.merge_method %q is not supported", c.Orchestrator.MergeMethod)
	}
	return nil
}
