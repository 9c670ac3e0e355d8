package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// EngineDependencies wires the per-run collaborators. Tools opens a fresh
// tool session (registry and connections) for every run.
type EngineDependencies struct {
	Model     Model
	Tools     ToolSessionFactory
	Limiter   Limiter
	Truncator Truncator
	Shrinker  Shrinker
	IDs       IDGenerator
	Results   ResultStore
	Events    EventSink
	Logger    *slog.Logger
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Engine is the upstream entry point: one RunAgent call is one agent run.
type Engine struct {
	deps EngineDependencies
	cfg  LoopConfig
}

func NewEngine(deps EngineDependencies, cfg LoopConfig) (*Engine, error) {
	var errs []error
	if deps.Model == nil {
		errs = append(errs, errors.New("model is required"))
	}
	if deps.Tools == nil {
		errs = append(errs, errors.New("tool session factory is required"))
	}
	if deps.Limiter == nil {
		errs = append(errs, errors.New("limiter is required"))
	}
	if deps.Truncator == nil {
		errs = append(errs, errors.New("truncator is required"))
	}
	if deps.IDs == nil {
		errs = append(errs, errors.New("id generator is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("new engine: %w", errors.Join(errs...))
	}
	if deps.Events == nil {
		deps.Events = noopEventSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{deps: deps, cfg: cfg}, nil
}

// RunAgent executes one agent. Failures are reported on the result, never
// returned separately.
func (e *Engine) RunAgent(ctx context.Context, request AgentRequest) RunResult {
	startedAt := e.deps.Now()
	result := RunResult{AgentName: request.Name, StartedAt: startedAt}

	runID, err := e.deps.IDs.NewRunID(ctx)
	if err != nil {
		return e.finish(ctx, result, NewError(KindFatal, "new run id", err))
	}
	result.RunID = runID
	logger := e.deps.Logger.With("agent", request.Name, "run_id", runID)

	if strings.TrimSpace(request.Instructions) == "" {
		return e.finish(ctx, result, NewError(KindFatal, "run agent", errors.New("instructions are required")))
	}

	_ = e.deps.Events.Publish(ctx, Event{
		RunID:       runID,
		Type:        EventTypeRunStarted,
		Description: request.Name,
	})
	logger.InfoContext(ctx, "agent run started")

	session, err := e.deps.Tools.Open(ctx)
	if err != nil {
		return e.finish(ctx, result, NewError(KindFatal, "open tool session", err))
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.WarnContext(ctx, "tool session close failed", "error", closeErr)
		}
	}()

	loop, err := NewLoop(LoopDependencies{
		Model:     e.deps.Model,
		Tools:     session,
		Limiter:   e.deps.Limiter,
		Truncator: e.deps.Truncator,
		Shrinker:  e.deps.Shrinker,
		Events:    e.deps.Events,
		Logger:    logger,
		Sleep:     e.deps.Sleep,
	}, e.cfg)
	if err != nil {
		return e.finish(ctx, result, NewError(KindFatal, "run agent", err))
	}

	loopResult, err := loop.Run(ctx, RunInput{
		RunID:    runID,
		Messages: []Message{UserText(BuildPrompt(request.Instructions, request.Parameters))},
		Tools:    session.Definitions(),
	})
	result.Output = loopResult.Output
	result.Usage = loopResult.Usage
	result.Turns = loopResult.Turns
	return e.finish(ctx, result, err)
}

func (e *Engine) finish(ctx context.Context, result RunResult, err error) RunResult {
	result.Duration = e.deps.Now().Sub(result.StartedAt)
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = KindOf(err)
	}

	logger := e.deps.Logger.With("agent", result.AgentName, "run_id", result.RunID)
	if result.Success {
		logger.InfoContext(ctx, "agent run completed",
			"turns", result.Turns,
			"input_tokens", result.Usage.InputTokens,
			"output_tokens", result.Usage.OutputTokens,
			"duration", result.Duration,
		)
	} else {
		logger.ErrorContext(ctx, "agent run failed", "kind", result.ErrorKind, "error", err)
	}

	if e.deps.Results != nil && result.RunID != "" {
		if saveErr := e.deps.Results.Save(context.WithoutCancel(ctx), result); saveErr != nil {
			logger.WarnContext(ctx, "saving run result failed", "error", saveErr)
		}
	}
	return result
}

// BuildPrompt renders the initial user message: the instructions followed by
// the parameters in key order.
func BuildPrompt(instructions string, parameters map[string]string) string {
	instructions = strings.TrimSpace(instructions)
	if len(parameters) == 0 {
		return instructions
	}

	keys := make([]string, 0, len(parameters))
	for key := range parameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nParameters:\n")
	for _, key := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", key, parameters[key])
	}
	return strings.TrimRight(b.String(), "\n")
}
