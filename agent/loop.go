package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxTurns            = 50
	DefaultMaxRateLimitRetries = 5
	DefaultMaxParallelTools    = 8
	DefaultTurnDelay           = time.Second
	DefaultMaxOutputTokens     = 4096
)

// LoopConfig bounds one tool-use loop.
type LoopConfig struct {
	ModelID         string
	MaxOutputTokens int
	System          string

	// PromptTokenBudget is applied after every tool turn.
	PromptTokenBudget int
	// AggressiveTokenBudget caps the retry budget after a prompt-too-long
	// error; each retry also halves the current estimate.
	AggressiveTokenBudget int

	MaxRateLimitRetries int
	MaxTurns            int
	MaxParallelTools    int
	TurnDelay           time.Duration
}

// LoopDependencies are the collaborators of a Loop. Model, Tools, Limiter and
// Truncator are required.
type LoopDependencies struct {
	Model     Model
	Tools     ToolExecutor
	Limiter   Limiter
	Truncator Truncator
	Shrinker  Shrinker
	Events    EventSink
	Logger    *slog.Logger
	Sleep     func(ctx context.Context, d time.Duration) error
}

// RunInput seeds one loop execution.
type RunInput struct {
	RunID    RunID
	Messages []Message
	Tools    []ToolDefinition
}

// LoopResult is the outcome of Run. It is populated on failure too.
type LoopResult struct {
	State    LoopState
	Output   string
	Messages []Message
	Turns    int
	Usage    Usage
}

// Loop drives the model -> concurrent tool calls -> model cycle until the
// model stops requesting tools or a fatal error occurs.
type Loop struct {
	model     Model
	tools     ToolExecutor
	limiter   Limiter
	truncator Truncator
	shrinker  Shrinker
	events    EventSink
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	cfg       LoopConfig
}

func NewLoop(deps LoopDependencies, cfg LoopConfig) (*Loop, error) {
	var errs []error
	if deps.Model == nil {
		errs = append(errs, errors.New("model is required"))
	}
	if deps.Tools == nil {
		errs = append(errs, errors.New("tool executor is required"))
	}
	if deps.Limiter == nil {
		errs = append(errs, errors.New("limiter is required"))
	}
	if deps.Truncator == nil {
		errs = append(errs, errors.New("truncator is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("new loop: %w", errors.Join(errs...))
	}

	if deps.Shrinker == nil {
		deps.Shrinker = noopShrinker{}
	}
	if deps.Events == nil {
		deps.Events = noopEventSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}

	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.MaxRateLimitRetries <= 0 {
		cfg.MaxRateLimitRetries = DefaultMaxRateLimitRetries
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = DefaultMaxParallelTools
	}
	if cfg.TurnDelay < 0 {
		cfg.TurnDelay = 0
	}

	return &Loop{
		model:     deps.Model,
		tools:     deps.Tools,
		limiter:   deps.Limiter,
		truncator: deps.Truncator,
		shrinker:  deps.Shrinker,
		events:    deps.Events,
		logger:    deps.Logger,
		sleep:     deps.Sleep,
		cfg:       cfg,
	}, nil
}

func (l *Loop) Run(ctx context.Context, input RunInput) (LoopResult, error) {
	result := LoopResult{Messages: CloneMessages(input.Messages)}
	if len(result.Messages) == 0 {
		return l.fail(ctx, input.RunID, &result, NewError(KindFatal, "run", errors.New("conversation is empty")))
	}
	if err := transitionLoopState(&result.State, LoopStateAwaitingModel); err != nil {
		return result, err
	}

	tools := CloneToolDefinitions(input.Tools)
	definitions := indexToolDefinitions(tools)

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return l.fail(ctx, input.RunID, &result, NewError(KindFatal, "run", ctxErr))
		}
		if result.Turns >= l.cfg.MaxTurns {
			return l.fail(ctx, input.RunID, &result, NewError(KindFatal, "run", ErrMaxTurnsExceeded))
		}
		result.Turns++

		response, err := l.generate(ctx, input.RunID, &result, tools)
		if err != nil {
			return l.fail(ctx, input.RunID, &result, err)
		}
		result.Usage = result.Usage.Add(response.Usage)

		assistant := CloneMessage(response.Message)
		if assistant.Role == "" {
			assistant.Role = RoleAssistant
		}
		usage := response.Usage
		l.publish(ctx, Event{
			RunID:   input.RunID,
			Step:    result.Turns,
			Type:    EventTypeAssistantMessage,
			Message: &assistant,
			Usage:   &usage,
		})

		calls := assistant.ToolCalls()
		if response.StopReason != StopReasonToolUse || len(calls) == 0 {
			result.Messages = append(result.Messages, assistant)
			result.Output = assistant.Text()
			if err := transitionLoopState(&result.State, LoopStateDone); err != nil {
				return result, err
			}
			l.publish(ctx, Event{
				RunID:       input.RunID,
				Step:        result.Turns,
				Type:        EventTypeRunCompleted,
				Usage:       &result.Usage,
				Description: "assistant returned a final answer",
			})
			return result, nil
		}

		if err := transitionLoopState(&result.State, LoopStateExecutingTools); err != nil {
			return result, err
		}
		toolResults := l.executeTools(ctx, calls, definitions)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return l.fail(ctx, input.RunID, &result, NewError(KindFatal, "execute tools", ctxErr))
		}

		result.Messages = append(result.Messages, assistant, ToolResultMessage(toolResults))
		for i := range toolResults {
			toolResult := toolResults[i]
			l.publish(ctx, Event{
				RunID:      input.RunID,
				Step:       result.Turns,
				Type:       EventTypeToolResult,
				ToolResult: &toolResult,
			})
		}
		if err := transitionLoopState(&result.State, LoopStateAwaitingModel); err != nil {
			return result, err
		}

		if l.cfg.TurnDelay > 0 {
			if err := l.sleep(ctx, l.cfg.TurnDelay); err != nil {
				return l.fail(ctx, input.RunID, &result, NewError(KindFatal, "turn delay", err))
			}
		}
		if l.cfg.PromptTokenBudget > 0 {
			estimate := l.truncator.EstimateTokens(result.Messages, tools)
			if estimate > l.cfg.PromptTokenBudget {
				l.truncate(ctx, input.RunID, &result, l.cfg.PromptTokenBudget, tools, estimate)
			}
		}
	}
}

// generate performs one model call, absorbing rate-limit retries and
// prompt-too-long truncation. result.Messages is replaced when truncated.
func (l *Loop) generate(ctx context.Context, runID RunID, result *LoopResult, tools []ToolDefinition) (ModelResponse, error) {
	attempt := 0
	for {
		estimate := l.truncator.EstimateTokens(result.Messages, tools)
		if err := l.limiter.WaitForBudget(ctx, estimate); err != nil {
			return ModelResponse{}, NewError(KindFatal, "wait for budget", err)
		}

		response, err := l.model.Generate(ctx, ModelRequest{
			ModelID:   l.cfg.ModelID,
			MaxTokens: l.cfg.MaxOutputTokens,
			System:    l.cfg.System,
			Tools:     CloneToolDefinitions(tools),
			Messages:  CloneMessages(result.Messages),
		})
		if err == nil {
			l.limiter.RecordUsage(response.Usage.InputTokens)
			return response, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ModelResponse{}, NewError(KindFatal, "generate", errors.Join(err, ctxErr))
		}

		switch KindOf(err) {
		case KindRateLimit:
			l.logger.WarnContext(ctx, "model rate limited",
				"run_id", runID,
				"attempt", attempt+1,
				"max_retries", l.cfg.MaxRateLimitRetries,
				"error", err,
			)
			l.publish(ctx, Event{
				RunID:       runID,
				Step:        result.Turns,
				Type:        EventTypeRateLimited,
				Description: fmt.Sprintf("attempt %d/%d: %v", attempt+1, l.cfg.MaxRateLimitRetries, err),
			})
			if waitErr := l.limiter.OnRateLimitError(ctx, attempt, l.cfg.MaxRateLimitRetries); waitErr != nil {
				return ModelResponse{}, NewError(KindRateLimit, "generate", errors.Join(err, waitErr))
			}
			attempt++
		case KindPromptTooLong:
			budget := estimate / 2
			if l.cfg.AggressiveTokenBudget > 0 {
				budget = min(budget, l.cfg.AggressiveTokenBudget)
			}
			before := len(result.Messages)
			l.truncate(ctx, runID, result, budget, tools, estimate)
			if len(result.Messages) >= before {
				return ModelResponse{}, NewError(KindPromptTooLong, "generate", errors.Join(err, ErrCannotShrink))
			}
		default:
			return ModelResponse{}, NewError(KindFatal, "generate", err)
		}
	}
}

func (l *Loop) truncate(ctx context.Context, runID RunID, result *LoopResult, budget int, tools []ToolDefinition, estimate int) {
	before := len(result.Messages)
	result.Messages = l.truncator.Truncate(result.Messages, budget, tools)
	if len(result.Messages) == before {
		return
	}
	l.logger.InfoContext(ctx, "conversation truncated",
		"run_id", runID,
		"tokens", estimate,
		"budget", budget,
		"messages_before", before,
		"messages_after", len(result.Messages),
	)
	l.publish(ctx, Event{
		RunID:       runID,
		Step:        result.Turns,
		Type:        EventTypeTruncated,
		Description: fmt.Sprintf("messages %d -> %d for budget %d tokens", before, len(result.Messages), budget),
	})
}

// executeTools runs every call of one turn concurrently and waits for all of
// them. Results keep call order; per-call failures become error results.
func (l *Loop) executeTools(ctx context.Context, calls []ToolCall, definitions map[string]ToolDefinition) []ToolResult {
	results := make([]ToolResult, len(calls))

	var group errgroup.Group
	group.SetLimit(l.cfg.MaxParallelTools)
	for i := range calls {
		call := CloneToolCall(calls[i])
		group.Go(func() error {
			results[i] = l.executeTool(ctx, call, definitions)
			return nil
		})
	}
	_ = group.Wait()

	return results
}

func (l *Loop) executeTool(ctx context.Context, call ToolCall, definitions map[string]ToolDefinition) (result ToolResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = normalizedToolErrorResult(call, ToolFailureReasonExecutorError, fmt.Errorf("tool panicked: %v", recovered))
		}
		result.Content = l.shrinker.Shrink(result.Content)
	}()

	definition, defined := definitions[call.Name]
	if !defined {
		return normalizedToolErrorResult(call, ToolFailureReasonUnknownTool, fmt.Errorf("tool %q is not defined", call.Name))
	}
	if err := validateToolCallArguments(call, definition); err != nil {
		return normalizedToolErrorResult(call, ToolFailureReasonInvalidArguments, err)
	}

	executed, err := l.tools.Execute(ctx, call)
	if err != nil {
		l.logger.DebugContext(ctx, "tool call failed", "tool", call.Name, "error", err)
		if IsKind(err, KindToolNotFound) {
			return normalizedToolErrorResult(call, ToolFailureReasonUnknownTool, err)
		}
		return normalizedToolErrorResult(call, ToolFailureReasonExecutorError, err)
	}
	if executed.CallID == "" {
		executed.CallID = call.ID
	}
	if executed.Name == "" {
		executed.Name = call.Name
	}
	return executed
}

func (l *Loop) fail(ctx context.Context, runID RunID, result *LoopResult, err error) (LoopResult, error) {
	if transitionErr := transitionLoopState(&result.State, LoopStateFailed); transitionErr != nil {
		return *result, errors.Join(err, transitionErr)
	}
	l.logger.ErrorContext(ctx, "run failed", "run_id", runID, "kind", KindOf(err), "error", err)
	l.publish(context.WithoutCancel(ctx), Event{
		RunID:       runID,
		Step:        result.Turns,
		Type:        EventTypeRunFailed,
		Usage:       &result.Usage,
		Description: err.Error(),
	})
	return *result, err
}

func (l *Loop) publish(ctx context.Context, event Event) {
	if err := l.events.Publish(ctx, event); err != nil {
		l.logger.DebugContext(ctx, "event publish failed", "type", event.Type, "error", err)
	}
}

// ToolResultMessage packs one turn's results into a single user message.
func ToolResultMessage(results []ToolResult) Message {
	content := make([]ContentBlock, len(results))
	for i := range results {
		content[i] = ToolResultBlock(results[i])
	}
	return Message{Role: RoleUser, Content: content}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
