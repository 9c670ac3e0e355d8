package agent

import (
	"encoding/json"
	"maps"
)

// ToolDefinition declares a callable capability exposed to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToolCall is requested by the assistant message and executed by a ToolExecutor.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolFailureReason classifies a per-call failure that was turned into a result.
type ToolFailureReason string

const (
	ToolFailureReasonUnknownTool      ToolFailureReason = "tool_not_found"
	ToolFailureReasonInvalidArguments ToolFailureReason = "invalid_arguments"
	ToolFailureReasonExecutorError    ToolFailureReason = "tool_invocation_error"
)

// ToolResult is the normalized output produced by a tool execution.
type ToolResult struct {
	CallID        string            `json:"call_id"`
	Name          string            `json:"name"`
	Content       string            `json:"content"`
	IsError       bool              `json:"is_error,omitempty"`
	FailureReason ToolFailureReason `json:"failure_reason,omitempty"`
}

// CloneToolCall returns a deep copy of a tool call.
func CloneToolCall(in ToolCall) ToolCall {
	out := in
	if in.Arguments != nil {
		out.Arguments = cloneArguments(in.Arguments)
	}
	return out
}

// CloneToolDefinitions returns deep copies of tool definitions.
func CloneToolDefinitions(in []ToolDefinition) []ToolDefinition {
	out := make([]ToolDefinition, len(in))
	for i := range in {
		out[i] = in[i]
		if in[i].InputSchema != nil {
			out[i].InputSchema = cloneArguments(in[i].InputSchema)
		}
	}
	return out
}

// cloneArguments deep-copies JSON-shaped maps. Values that do not survive a
// JSON round trip fall back to a shallow copy.
func cloneArguments(in map[string]any) map[string]any {
	encoded, err := json.Marshal(in)
	if err != nil {
		return maps.Clone(in)
	}
	out := make(map[string]any, len(in))
	if err := json.Unmarshal(encoded, &out); err != nil {
		return maps.Clone(in)
	}
	return out
}
