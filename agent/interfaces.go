package agent

import "context"

// Usage counts provider tokens for one call or, summed, for a whole run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// StopReason is the provider's reason for ending a turn, normalized.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// ModelRequest is one "generate next turn" call.
type ModelRequest struct {
	ModelID   string
	MaxTokens int
	System    string
	Tools     []ToolDefinition
	Messages  []Message
}

// ModelResponse is the assistant turn plus usage for the call.
type ModelResponse struct {
	Message    Message
	StopReason StopReason
	Usage      Usage
}

// Model produces assistant messages that may include tool requests.
// Adapters return *Error with KindRateLimit or KindPromptTooLong for the
// provider conditions the loop recovers from.
type Model interface {
	Generate(ctx context.Context, request ModelRequest) (ModelResponse, error)
}

// ToolExecutor resolves and executes tool calls.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (ToolResult, error)
}

// ToolSession is a per-run tool surface: the definitions offered to the
// model and the executor that serves them.
type ToolSession interface {
	ToolExecutor
	Definitions() []ToolDefinition
	Close() error
}

// ToolSessionFactory opens one ToolSession per run.
type ToolSessionFactory interface {
	Open(ctx context.Context) (ToolSession, error)
}

// Limiter gates model calls against a provider token ceiling.
type Limiter interface {
	WaitForBudget(ctx context.Context, estimatedTokens int) error
	RecordUsage(actualTokens int)
	OnRateLimitError(ctx context.Context, attempt, maxRetries int) error
}

// Truncator estimates and trims a conversation against a token budget.
type Truncator interface {
	EstimateTokens(messages []Message, tools []ToolDefinition) int
	Truncate(messages []Message, maxTokens int, tools []ToolDefinition) []Message
}

// Shrinker reduces oversized tool result content.
type Shrinker interface {
	Shrink(content string) string
}

// EventSink receives normalized runtime events.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// IDGenerator creates run IDs at the runtime boundary.
type IDGenerator interface {
	NewRunID(ctx context.Context) (RunID, error)
}

// ResultStore keeps finished runs for the report generator.
type ResultStore interface {
	Save(ctx context.Context, result RunResult) error
	Load(ctx context.Context, runID RunID) (RunResult, error)
}
