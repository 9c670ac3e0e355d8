// Package runtimewire composes the engine from configuration.
package runtimewire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Gurpartap/reportagent/adapters/inmem"
	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/contextwindow"
	eventinginmem "github.com/Gurpartap/reportagent/eventing/inmem"
	"github.com/Gurpartap/reportagent/eventing/slogsink"
	"github.com/Gurpartap/reportagent/internal/config"
	"github.com/Gurpartap/reportagent/llm/anthropic"
	"github.com/Gurpartap/reportagent/llm/bedrock"
	"github.com/Gurpartap/reportagent/llm/gemini"
	"github.com/Gurpartap/reportagent/policy/ratelimit"
	runstoreinmem "github.com/Gurpartap/reportagent/runstore/inmem"
	"github.com/Gurpartap/reportagent/tooling/builtin"
	"github.com/Gurpartap/reportagent/tooling/dispatch"
	"github.com/Gurpartap/reportagent/tooling/overflow"
	"github.com/Gurpartap/reportagent/tooling/servers"
)

const clientName = "reportagent"

// Version is reported to tool servers during initialization.
var Version = "dev"

// Runtime contains the composed runtime dependencies. One Runtime serves
// any number of sequential or concurrent runs; the limiter is shared.
type Runtime struct {
	Engine  *agent.Engine
	Tools   *dispatch.Factory
	Limiter *ratelimit.Limiter
	Results *runstoreinmem.Store
	Events  *eventinginmem.Sink
}

type options struct {
	model  agent.Model
	dialer servers.Dialer
	ids    agent.IDGenerator
}

type Option func(*options)

// WithModel bypasses provider selection.
func WithModel(model agent.Model) Option {
	return func(o *options) { o.model = model }
}

// WithDialer replaces the stdio transport for tool servers.
func WithDialer(dialer servers.Dialer) Option {
	return func(o *options) { o.dialer = dialer }
}

func WithIDGenerator(ids agent.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Runtime, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	model := o.model
	if model == nil {
		var err error
		model, err = NewModel(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("new runtime model: %w", err)
		}
	}
	ids := o.ids
	if ids == nil {
		ids = inmem.NewUUIDGenerator("run")
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		MaxTokensPerMinute:   cfg.RateLimit.MaxTokensPerMinute,
		MinDelayBetweenCalls: cfg.RateLimit.MinDelayBetweenCalls,
		BaseBackoff:          cfg.RateLimit.BaseBackoff,
	}, ratelimit.WithLogger(logger.With("component", "ratelimit")))
	if err != nil {
		return nil, fmt.Errorf("new runtime limiter: %w", err)
	}

	truncator, err := contextwindow.New(contextwindow.Config{
		CharsPerToken:     cfg.Context.CharsPerToken,
		PerToolOverhead:   cfg.Context.PerToolOverhead,
		MinRecentMessages: cfg.Context.MinRecentMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("new runtime truncator: %w", err)
	}

	tools, err := NewToolFactory(cfg, logger, o.dialer)
	if err != nil {
		return nil, fmt.Errorf("new runtime tools: %w", err)
	}

	store := runstoreinmem.New()
	events := eventinginmem.New()
	sink := newFanoutSink(events, slogsink.New(logger, cfg.Log.Format == config.LogFormatJSON))

	engine, err := agent.NewEngine(agent.EngineDependencies{
		Model:     model,
		Tools:     tools,
		Limiter:   limiter,
		Truncator: truncator,
		Shrinker:  overflow.New(cfg.Tools.ResultThreshold),
		IDs:       ids,
		Results:   store,
		Events:    sink,
		Logger:    logger,
	}, LoopConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("new runtime engine: %w", err)
	}

	return &Runtime{
		Engine:  engine,
		Tools:   tools,
		Limiter: limiter,
		Results: store,
		Events:  events,
	}, nil
}

func LoopConfig(cfg config.Config) agent.LoopConfig {
	return agent.LoopConfig{
		MaxOutputTokens:       cfg.MaxOutputTokens,
		System:                cfg.SystemPrompt,
		PromptTokenBudget:     cfg.Context.PromptTokenBudget,
		AggressiveTokenBudget: cfg.Context.AggressiveTokenBudget,
		MaxRateLimitRetries:   cfg.RateLimit.MaxRetries,
		MaxTurns:              cfg.MaxTurns,
		MaxParallelTools:      cfg.Tools.MaxParallel,
		TurnDelay:             cfg.Tools.TurnDelay,
	}
}

// NewModel builds the adapter for cfg.Provider.
func NewModel(ctx context.Context, cfg config.Config) (agent.Model, error) {
	var (
		model agent.Model
		err   error
	)
	switch cfg.Provider {
	case config.ProviderAnthropic:
		model, err = anthropic.New(anthropic.Config{
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.Anthropic.BaseURL,
		})
	case config.ProviderBedrock:
		model, err = bedrock.New(ctx, bedrock.Config{
			Region:  cfg.Bedrock.Region,
			ModelID: cfg.Model,
		})
	case config.ProviderGemini:
		model, err = gemini.New(ctx, gemini.Config{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return model, nil
}

// NewToolFactory builds the per-run tool surface: the sandboxed built-ins
// plus the configured tool servers. A nil dialer launches stdio servers.
func NewToolFactory(cfg config.Config, logger *slog.Logger, dialer servers.Dialer) (*dispatch.Factory, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	policy, err := builtin.NewPolicy(cfg.Tools.SandboxRoot, cfg.Tools.MaxReadBytes)
	if err != nil {
		return nil, err
	}
	toolbox, err := builtin.New(policy)
	if err != nil {
		return nil, err
	}
	return &dispatch.Factory{
		Local:   toolbox,
		Servers: cfg.Servers,
		Options: servers.Options{
			ConnectTimeout: cfg.Tools.ConnectTimeout,
			RetryDelay:     cfg.Tools.RetryDelay,
			MaxRetries:     cfg.Tools.MaxRetries,
			ClientName:     clientName,
			ClientVersion:  Version,
			Dialer:         dialer,
			Logger:         logger.With("component", "servers"),
		},
		Logger: logger,
	}, nil
}

type fanoutSink struct {
	sinks []agent.EventSink
}

func newFanoutSink(sinks ...agent.EventSink) fanoutSink {
	filtered := make([]agent.EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return fanoutSink{sinks: filtered}
}

func (s fanoutSink) Publish(ctx context.Context, event agent.Event) error {
	var result error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			result = errors.Join(result, err)
		}
	}
	return result
}
