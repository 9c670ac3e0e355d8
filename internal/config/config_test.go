package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gurpartap/reportagent/tooling/servers"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY",
		"GEMINI_API_KEY",
		"GOOGLE_API_KEY",
		"REPORTAGENT_ANTHROPIC_API_KEY",
		"REPORTAGENT_GEMINI_API_KEY",
		"REPORTAGENT_PROVIDER",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reportagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() Config {
	return Config{
		Provider:        ProviderAnthropic,
		Model:           "claude-sonnet-4-20250514",
		MaxOutputTokens: 4096,
		MaxTurns:        50,
		AgentsDir:       "agents",
		Anthropic:       AnthropicConfig{APIKey: "k", BaseURL: "https://api.anthropic.com"},
		Log:             LogConfig{Level: "info", Format: LogFormatText},
		RateLimit: RateLimitConfig{
			MaxTokensPerMinute:   30000,
			MinDelayBetweenCalls: 3 * time.Second,
			MaxRetries:           5,
			BaseBackoff:          2 * time.Second,
		},
		Context: ContextConfig{
			PromptTokenBudget:     100000,
			AggressiveTokenBudget: 60000,
			MinRecentMessages:     4,
			CharsPerToken:         4,
			PerToolOverhead:       100,
		},
		Tools: ToolsConfig{
			ConnectTimeout:  30 * time.Second,
			MaxRetries:      3,
			RetryDelay:      2 * time.Second,
			ResultThreshold: 50000,
			MaxParallel:     8,
			TurnDelay:       time.Second,
			SandboxRoot:     ".",
			MaxReadBytes:    1 << 20,
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "vendor-key")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ProviderAnthropic, cfg.Provider)
	require.Equal(t, "vendor-key", cfg.Anthropic.APIKey)
	require.Equal(t, "agents", cfg.AgentsDir)
	require.Equal(t, RateLimitConfig{
		MaxTokensPerMinute:   30000,
		MinDelayBetweenCalls: 3 * time.Second,
		MaxRetries:           5,
		BaseBackoff:          2 * time.Second,
	}, cfg.RateLimit)
	require.Equal(t, validConfig().Context, cfg.Context)
	require.Equal(t, validConfig().Tools, cfg.Tools)
	require.Empty(t, cfg.Servers)
}

func TestLoad_PrefixedKeyWins(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "vendor-key")
	t.Setenv("REPORTAGENT_ANTHROPIC_API_KEY", "own-key")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "own-key", cfg.Anthropic.APIKey)
}

func TestLoad_FileWithEnvOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("REPORTAGENT_RATE_LIMIT_MAX_TOKENS_PER_MINUTE", "20000")
	t.Setenv("REPORTAGENT_TOOLS_TURN_DELAY", "250ms")

	path := writeFile(t, strings.Join([]string{
		"provider: Gemini",
		"model: gemini-2.5-pro",
		"gemini:",
		"  api_key: file-key",
		"rate_limit:",
		"  max_tokens_per_minute: 10000",
		"  min_delay_between_calls: 1s",
		"servers:",
		"  - name: reports",
		"    command: reports-server",
		"    args: [--stdio]",
		"    env:",
		"      API_TOKEN: abc",
		"",
	}, "\n"))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ProviderGemini, cfg.Provider)
	require.Equal(t, "gemini-2.5-pro", cfg.Model)
	require.Equal(t, "file-key", cfg.Gemini.APIKey)
	require.Equal(t, 20000, cfg.RateLimit.MaxTokensPerMinute)
	require.Equal(t, time.Second, cfg.RateLimit.MinDelayBetweenCalls)
	require.Equal(t, 250*time.Millisecond, cfg.Tools.TurnDelay)
	require.Equal(t, []servers.Config{{
		Name:    "reports",
		Command: "reports-server",
		Args:    []string{"--stdio"},
		Env:     map[string]string{"API_TOKEN": "abc"},
	}}, cfg.Servers)
}

func TestLoad_MissingFile(t *testing.T) {
	clearProviderEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_RequiresProviderKey(t *testing.T) {
	clearProviderEnv(t)

	_, err := Load("")
	require.ErrorContains(t, err, "anthropic provider requires anthropic.api_key")
}

func TestLoad_InvalidFileValue(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("REPORTAGENT_ANTHROPIC_API_KEY", "k")

	path := writeFile(t, "tools:\n  max_parallel: 0\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "tools.max_parallel must be > 0")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown provider", mutate: func(c *Config) { c.Provider = "openai" }, want: `unsupported provider "openai"`},
		{name: "bedrock needs region", mutate: func(c *Config) { c.Provider = ProviderBedrock; c.Bedrock.Region = "" }, want: "bedrock.region"},
		{name: "bedrock without api key", mutate: func(c *Config) { c.Provider = ProviderBedrock; c.Anthropic.APIKey = ""; c.Bedrock.Region = "eu-west-1" }},
		{name: "gemini needs key", mutate: func(c *Config) { c.Provider = ProviderGemini }, want: "gemini.api_key"},
		{name: "model", mutate: func(c *Config) { c.Model = " " }, want: "model is required"},
		{name: "tokens per minute", mutate: func(c *Config) { c.RateLimit.MaxTokensPerMinute = 0 }, want: "rate_limit.max_tokens_per_minute must be > 0"},
		{name: "negative delay", mutate: func(c *Config) { c.RateLimit.MinDelayBetweenCalls = -time.Second }, want: "min_delay_between_calls must be >= 0"},
		{name: "zero turn delay", mutate: func(c *Config) { c.Tools.TurnDelay = 0 }},
		{name: "budget", mutate: func(c *Config) { c.Context.PromptTokenBudget = -1 }, want: "context.prompt_token_budget"},
		{name: "server without command", mutate: func(c *Config) { c.Servers = []servers.Config{{Name: "a"}} }, want: `server "a" requires a command`},
		{name: "duplicate server", mutate: func(c *Config) {
			c.Servers = []servers.Config{{Name: "a", Command: "x"}, {Name: "a", Command: "y"}}
		}, want: "configured more than once"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "loud" }, want: `unsupported log.level "loud"`},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, want: `unsupported log.format "xml"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	level, err := ParseLogLevel("WARNING")
	require.NoError(t, err)
	require.Equal(t, "WARN", level.String())

	_, err = ParseLogLevel("trace")
	require.Error(t, err)
}
