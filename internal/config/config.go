// Package config loads runtime configuration from an optional YAML file and
// REPORTAGENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Gurpartap/reportagent/tooling/servers"
)

const envPrefix = "REPORTAGENT"

type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
	ProviderGemini    Provider = "gemini"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config is the full runtime configuration.
type Config struct {
	Provider        Provider `mapstructure:"provider"`
	Model           string   `mapstructure:"model"`
	MaxOutputTokens int      `mapstructure:"max_output_tokens"`
	MaxTurns        int      `mapstructure:"max_turns"`
	SystemPrompt    string   `mapstructure:"system_prompt"`
	AgentsDir       string   `mapstructure:"agents_dir"`

	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Bedrock   BedrockConfig   `mapstructure:"bedrock"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`

	Log       LogConfig        `mapstructure:"log"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Context   ContextConfig    `mapstructure:"context"`
	Tools     ToolsConfig      `mapstructure:"tools"`
	Servers   []servers.Config `mapstructure:"servers"`
}

type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type BedrockConfig struct {
	Region string `mapstructure:"region"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type LogConfig struct {
	Level  string    `mapstructure:"level"`
	Format LogFormat `mapstructure:"format"`
}

type RateLimitConfig struct {
	MaxTokensPerMinute   int           `mapstructure:"max_tokens_per_minute"`
	MinDelayBetweenCalls time.Duration `mapstructure:"min_delay_between_calls"`
	MaxRetries           int           `mapstructure:"max_retries"`
	BaseBackoff          time.Duration `mapstructure:"base_backoff"`
}

type ContextConfig struct {
	PromptTokenBudget     int `mapstructure:"prompt_token_budget"`
	AggressiveTokenBudget int `mapstructure:"aggressive_token_budget"`
	MinRecentMessages     int `mapstructure:"min_recent_messages"`
	CharsPerToken         int `mapstructure:"chars_per_token"`
	PerToolOverhead       int `mapstructure:"per_tool_overhead"`
}

type ToolsConfig struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	ResultThreshold int           `mapstructure:"result_threshold"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	TurnDelay       time.Duration `mapstructure:"turn_delay"`
	SandboxRoot     string        `mapstructure:"sandbox_root"`
	MaxReadBytes    int64         `mapstructure:"max_read_bytes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", string(ProviderAnthropic))
	v.SetDefault("model", "claude-sonnet-4-20250514")
	v.SetDefault("max_output_tokens", 4096)
	v.SetDefault("max_turns", 50)
	v.SetDefault("system_prompt", "")
	v.SetDefault("agents_dir", "agents")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("gemini.api_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", string(LogFormatText))

	v.SetDefault("rate_limit.max_tokens_per_minute", 30000)
	v.SetDefault("rate_limit.min_delay_between_calls", 3*time.Second)
	v.SetDefault("rate_limit.max_retries", 5)
	v.SetDefault("rate_limit.base_backoff", 2*time.Second)

	v.SetDefault("context.prompt_token_budget", 100000)
	v.SetDefault("context.aggressive_token_budget", 60000)
	v.SetDefault("context.min_recent_messages", 4)
	v.SetDefault("context.chars_per_token", 4)
	v.SetDefault("context.per_tool_overhead", 100)

	v.SetDefault("tools.connect_timeout", 30*time.Second)
	v.SetDefault("tools.max_retries", 3)
	v.SetDefault("tools.retry_delay", 2*time.Second)
	v.SetDefault("tools.result_threshold", 50000)
	v.SetDefault("tools.max_parallel", 8)
	v.SetDefault("tools.turn_delay", time.Second)
	v.SetDefault("tools.sandbox_root", ".")
	v.SetDefault("tools.max_read_bytes", 1<<20)

	v.SetDefault("servers", []any{})
}

// Load reads path (optional) and the environment, then validates the result.
// Environment variables take precedence over the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path = strings.TrimSpace(path); path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("load config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Provider keys also come from the variables the vendors document.
	if err := v.BindEnv("anthropic.api_key", envPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := v.BindEnv("gemini.api_key", envPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config: decode: %w", err)
	}
	if path != "" {
		list, err := readServers(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg.Servers = list
	}
	cfg.Provider = Provider(strings.ToLower(strings.TrimSpace(string(cfg.Provider))))
	cfg.Log.Format = LogFormat(strings.ToLower(strings.TrimSpace(string(cfg.Log.Format))))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readServers decodes the servers list straight from the file. Viper folds
// map keys to lower case, which would corrupt environment variable names.
func readServers(path string) ([]servers.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Servers []servers.Config `yaml:"servers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode servers in %s: %w", path, err)
	}
	return doc.Servers, nil
}

// Validate checks provider requirements and that every limit is positive.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic:
		if strings.TrimSpace(c.Anthropic.APIKey) == "" {
			return errors.New("validate config: anthropic provider requires anthropic.api_key")
		}
		if strings.TrimSpace(c.Anthropic.BaseURL) == "" {
			return errors.New("validate config: anthropic provider requires anthropic.base_url")
		}
	case ProviderBedrock:
		if strings.TrimSpace(c.Bedrock.Region) == "" {
			return errors.New("validate config: bedrock provider requires bedrock.region")
		}
	case ProviderGemini:
		if strings.TrimSpace(c.Gemini.APIKey) == "" {
			return errors.New("validate config: gemini provider requires gemini.api_key")
		}
	default:
		return fmt.Errorf(
			"validate config: unsupported provider %q (allowed: %q, %q, %q)",
			c.Provider,
			ProviderAnthropic,
			ProviderBedrock,
			ProviderGemini,
		)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("validate config: model is required")
	}

	positive := []struct {
		key   string
		value int64
	}{
		{"max_output_tokens", int64(c.MaxOutputTokens)},
		{"max_turns", int64(c.MaxTurns)},
		{"rate_limit.max_tokens_per_minute", int64(c.RateLimit.MaxTokensPerMinute)},
		{"rate_limit.max_retries", int64(c.RateLimit.MaxRetries)},
		{"rate_limit.base_backoff", int64(c.RateLimit.BaseBackoff)},
		{"context.prompt_token_budget", int64(c.Context.PromptTokenBudget)},
		{"context.aggressive_token_budget", int64(c.Context.AggressiveTokenBudget)},
		{"context.min_recent_messages", int64(c.Context.MinRecentMessages)},
		{"context.chars_per_token", int64(c.Context.CharsPerToken)},
		{"tools.connect_timeout", int64(c.Tools.ConnectTimeout)},
		{"tools.max_retries", int64(c.Tools.MaxRetries)},
		{"tools.retry_delay", int64(c.Tools.RetryDelay)},
		{"tools.result_threshold", int64(c.Tools.ResultThreshold)},
		{"tools.max_parallel", int64(c.Tools.MaxParallel)},
		{"tools.max_read_bytes", c.Tools.MaxReadBytes},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return fmt.Errorf("validate config: %s must be > 0", field.key)
		}
	}
	if c.RateLimit.MinDelayBetweenCalls < 0 {
		return errors.New("validate config: rate_limit.min_delay_between_calls must be >= 0")
	}
	if c.Context.PerToolOverhead < 0 {
		return errors.New("validate config: context.per_tool_overhead must be >= 0")
	}
	if c.Tools.TurnDelay < 0 {
		return errors.New("validate config: tools.turn_delay must be >= 0")
	}
	if strings.TrimSpace(c.Tools.SandboxRoot) == "" {
		return errors.New("validate config: tools.sandbox_root is required")
	}
	if strings.TrimSpace(c.AgentsDir) == "" {
		return errors.New("validate config: agents_dir is required")
	}

	seen := make(map[string]struct{}, len(c.Servers))
	for i, server := range c.Servers {
		if strings.TrimSpace(server.Name) == "" {
			return fmt.Errorf("validate config: servers[%d] requires a name", i)
		}
		if _, dup := seen[server.Name]; dup {
			return fmt.Errorf("validate config: server %q is configured more than once", server.Name)
		}
		seen[server.Name] = struct{}{}
		if strings.TrimSpace(server.Command) == "" {
			return fmt.Errorf("validate config: server %q requires a command", server.Name)
		}
	}

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf(
			"validate config: unsupported log.format %q (allowed: %q, %q)",
			c.Log.Format,
			LogFormatText,
			LogFormatJSON,
		)
	}
	return nil
}

func ParseLogLevel(input string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf(
			"unsupported log.level %q (allowed: %q, %q, %q, %q)",
			input,
			slog.LevelDebug.String(),
			slog.LevelInfo.String(),
			slog.LevelWarn.String(),
			slog.LevelError.String(),
		)
	}
}
