package runtimewire

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/Gurpartap/reportagent/adapters/inmem"
	"github.com/Gurpartap/reportagent/adapters/modeltest"
	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/internal/config"
	"github.com/Gurpartap/reportagent/llm/anthropic"
	"github.com/Gurpartap/reportagent/llm/gemini"
	"github.com/Gurpartap/reportagent/tooling/servers"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Provider:        config.ProviderAnthropic,
		Model:           "claude-test",
		MaxOutputTokens: 1024,
		MaxTurns:        10,
		SystemPrompt:    "You write reports.",
		AgentsDir:       "agents",
		Anthropic:       config.AnthropicConfig{APIKey: "k", BaseURL: "https://api.anthropic.com"},
		Gemini:          config.GeminiConfig{APIKey: "g"},
		Log:             config.LogConfig{Level: "info", Format: config.LogFormatText},
		RateLimit: config.RateLimitConfig{
			MaxTokensPerMinute: 30000,
			MaxRetries:         2,
			BaseBackoff:        time.Millisecond,
		},
		Context: config.ContextConfig{
			PromptTokenBudget:     100000,
			AggressiveTokenBudget: 60000,
			MinRecentMessages:     4,
			CharsPerToken:         4,
			PerToolOverhead:       100,
		},
		Tools: config.ToolsConfig{
			ConnectTimeout:  time.Second,
			MaxRetries:      1,
			RetryDelay:      time.Millisecond,
			ResultThreshold: 50000,
			MaxParallel:     4,
			SandboxRoot:     t.TempDir(),
			MaxReadBytes:    1 << 20,
		},
		Servers: []servers.Config{{Name: "reports", Command: "reports-server"}},
	}
}

func reportsDialer() servers.Dialer {
	return servers.DialerFunc(func(ctx context.Context, cfg servers.Config) (servers.Session, error) {
		s := server.NewMCPServer(cfg.Name, "1.0.0", server.WithToolCapabilities(false))
		s.AddTool(
			mcp.NewTool("reports_total", mcp.WithDescription("Total revenue for a quarter")),
			func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return mcp.NewToolResultText("42"), nil
			},
		)
		c, err := client.NewInProcessClient(s)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		return c, nil
	})
}

func TestNew_RunsAgentEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Tools.SandboxRoot, "notes.txt"), []byte("EMEA grew"), 0o600))

	model := modeltest.NewScriptedModel(
		modeltest.Response{
			Message: agent.Message{Content: []agent.ContentBlock{
				agent.ToolRequestBlock(agent.ToolCall{ID: "c1", Name: "reports_total"}),
				agent.ToolRequestBlock(agent.ToolCall{ID: "c2", Name: "read_file", Arguments: map[string]any{"path": "notes.txt"}}),
			}},
			Usage: agent.Usage{InputTokens: 100, OutputTokens: 10},
		},
		modeltest.Response{
			Message: agent.Message{Content: []agent.ContentBlock{agent.TextBlock("Revenue is 42; EMEA grew.")}},
			Usage:   agent.Usage{InputTokens: 150, OutputTokens: 12},
		},
	)

	runtime, err := New(context.Background(), cfg, nil,
		WithModel(model),
		WithDialer(reportsDialer()),
		WithIDGenerator(inmem.NewSequenceGenerator("run")),
	)
	require.NoError(t, err)

	result := runtime.Engine.RunAgent(context.Background(), agent.AgentRequest{
		Name:         "revenue",
		Instructions: "Summarize revenue.",
	})
	require.True(t, result.Success, result.Error)
	require.Equal(t, agent.RunID("run-0001"), result.RunID)
	require.Equal(t, "Revenue is 42; EMEA grew.", result.Output)
	require.Equal(t, 2, result.Turns)
	require.Equal(t, agent.Usage{InputTokens: 250, OutputTokens: 22}, result.Usage)

	requests := model.Requests()
	require.Len(t, requests, 2)
	require.Equal(t, "You write reports.", requests[0].System)
	require.Equal(t, 1024, requests[0].MaxTokens)
	var names []string
	for _, def := range requests[0].Tools {
		names = append(names, def.Name)
	}
	require.Equal(t, []string{"list_files", "read_file", "reports_total"}, names)

	last := requests[1].Messages[len(requests[1].Messages)-1]
	require.Equal(t, agent.RoleUser, last.Role)
	require.Len(t, last.Content, 2)
	require.Equal(t, "42", last.Content[0].Content)
	require.Equal(t, "EMEA grew", last.Content[1].Content)

	stored, err := runtime.Results.Load(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Equal(t, result.Output, stored.Output)

	require.Len(t, runtime.Events.OfType(agent.EventTypeRunStarted), 1)
	require.Len(t, runtime.Events.OfType(agent.EventTypeToolResult), 2)
	require.Len(t, runtime.Events.OfType(agent.EventTypeRunCompleted), 1)
}

func TestNew_RejectsBadSandbox(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Tools.SandboxRoot = filepath.Join(cfg.Tools.SandboxRoot, "missing")

	_, err := New(context.Background(), cfg, nil, WithModel(modeltest.NewScriptedModel()))
	require.ErrorContains(t, err, "new runtime tools")
}

func TestNewModel_SelectsProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	model, err := NewModel(context.Background(), cfg)
	require.NoError(t, err)
	require.IsType(t, &anthropic.Adapter{}, model)

	cfg.Provider = config.ProviderGemini
	model, err = NewModel(context.Background(), cfg)
	require.NoError(t, err)
	require.IsType(t, &gemini.Adapter{}, model)

	cfg.Provider = "openai"
	_, err = NewModel(context.Background(), cfg)
	require.ErrorContains(t, err, `unsupported provider "openai"`)

	cfg.Provider = config.ProviderAnthropic
	cfg.Anthropic.APIKey = ""
	model, err = NewModel(context.Background(), cfg)
	require.Error(t, err)
	require.Nil(t, model)
}

func TestLoopConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Tools.TurnDelay = 250 * time.Millisecond

	require.Equal(t, agent.LoopConfig{
		MaxOutputTokens:       1024,
		System:                "You write reports.",
		PromptTokenBudget:     100000,
		AggressiveTokenBudget: 60000,
		MaxRateLimitRetries:   2,
		MaxTurns:              10,
		MaxParallelTools:      4,
		TurnDelay:             250 * time.Millisecond,
	}, LoopConfig(cfg))
}

type failingSink struct{ err error }

func (s failingSink) Publish(context.Context, agent.Event) error { return s.err }

func TestFanoutSink_JoinsErrors(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	second := errors.New("second")
	sink := newFanoutSink(failingSink{err: first}, nil, failingSink{}, failingSink{err: second})

	err := sink.Publish(context.Background(), agent.Event{Type: agent.EventTypeRunStarted})
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
}
