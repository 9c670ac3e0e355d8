package agent

// EventType is emitted by the engine and loop for observability and streaming.
type EventType string

const (
	EventTypeRunStarted       EventType = "run_started"
	EventTypeAssistantMessage EventType = "assistant_message"
	EventTypeToolResult       EventType = "tool_result"
	EventTypeRunCompleted     EventType = "run_completed"
	EventTypeRunFailed        EventType = "run_failed"
	EventTypeRateLimited      EventType = "rate_limited"
	EventTypeTruncated        EventType = "truncated"
)

// Event is intentionally compact so adapters can map it to logs, metrics, or streams.
type Event struct {
	RunID       RunID       `json:"run_id"`
	Step        int         `json:"step"`
	Type        EventType   `json:"type"`
	Message     *Message    `json:"message,omitempty"`
	ToolResult  *ToolResult `json:"tool_result,omitempty"`
	Usage       *Usage      `json:"usage,omitempty"`
	Description string      `json:"description,omitempty"`
}

// CloneEvent returns a deep copy of the event payload.
func CloneEvent(in Event) Event {
	out := in
	if in.Message != nil {
		msg := CloneMessage(*in.Message)
		out.Message = &msg
	}
	if in.ToolResult != nil {
		result := *in.ToolResult
		out.ToolResult = &result
	}
	if in.Usage != nil {
		usage := *in.Usage
		out.Usage = &usage
	}
	return out
}
