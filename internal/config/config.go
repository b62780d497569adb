// Package config loads runtime configuration from an optional YAML file
// and ONBOARDD_-prefixed environment variables, with defaults registered
// in code. Viper never leaks past this package.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Debounce DebounceConfig `mapstructure:"debounce"`
	Turn     TurnConfig     `mapstructure:"turn"`
	FollowUp FollowUpConfig `mapstructure:"followup"`
	Expiry   ExpiryConfig   `mapstructure:"expiry"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
}

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// RedisConfig configures the backing store.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DebounceConfig configures the input coalescer.
type DebounceConfig struct {
	Window    time.Duration `mapstructure:"window"`
	ExitToken string        `mapstructure:"exit_token"`
}

// TurnConfig configures turn routing.
type TurnConfig struct {
	Marker              string        `mapstructure:"marker"`
	Deadline            time.Duration `mapstructure:"deadline"`
	ConversationTimeout time.Duration `mapstructure:"conversation_timeout"`
}

// FollowUpConfig configures idle-session escalation.
type FollowUpConfig struct {
	IdleWindow  time.Duration `mapstructure:"idle_window"`
	GraceWindow time.Duration `mapstructure:"grace_window"`
	Text        string        `mapstructure:"text"`
	ClosingText string        `mapstructure:"closing_text"`
}

// ExpiryConfig configures the periodic sweep.
type ExpiryConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxIdle  time.Duration `mapstructure:"max_idle"`
}

// DeliveryConfig configures the outbound delivery loop and transport.
type DeliveryConfig struct {
	Tick       time.Duration `mapstructure:"tick"`
	WebhookURL string        `mapstructure:"webhook_url"`
}

// OpenAIConfig configures the turn-generator adapter.
type OpenAIConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	PlannerPrompt   string `mapstructure:"planner_prompt"`
	ResponderPrompt string `mapstructure:"responder_prompt"`
	FinalizerPrompt string `mapstructure:"finalizer_prompt"`
}

// Load resolves configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":7000")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("debounce.window", 6*time.Second)
	v.SetDefault("debounce.exit_token", "exit")
	v.SetDefault("turn.marker", "TERMINATE")
	v.SetDefault("turn.deadline", 5*time.Minute)
	v.SetDefault("turn.conversation_timeout", 15*time.Minute)
	v.SetDefault("followup.idle_window", 10*time.Minute)
	v.SetDefault("followup.grace_window", 30*time.Second)
	v.SetDefault("followup.text", "")
	v.SetDefault("followup.closing_text", "")
	v.SetDefault("expiry.interval", time.Hour)
	v.SetDefault("expiry.max_idle", 168*time.Hour)
	v.SetDefault("delivery.tick", 60*time.Second)
	v.SetDefault("delivery.webhook_url", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.planner_prompt", "")
	v.SetDefault("openai.responder_prompt", "")
	v.SetDefault("openai.finalizer_prompt", "")

	v.SetEnvPrefix("onboardd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
