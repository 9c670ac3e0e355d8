package modeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Gurpartap/reportagent/agent"
)

// Response configures one model turn in a scripted sequence. A zero
// StopReason is derived from the message: tool_use when it carries tool
// requests, end_turn otherwise.
type Response struct {
	Message    agent.Message
	StopReason agent.StopReason
	Usage      agent.Usage
	Err        error
}

// ScriptedModel is a deterministic model adapter for runtime tests.
type ScriptedModel struct {
	mu        sync.Mutex
	index     int
	responses []Response
	requests  []agent.ModelRequest
}

func NewScriptedModel(responses ...Response) *ScriptedModel {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedModel{
		responses: cloned,
	}
}

var _ agent.Model = (*ScriptedModel)(nil)

func (m *ScriptedModel) Generate(_ context.Context, request agent.ModelRequest) (agent.ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, agent.ModelRequest{
		ModelID:   request.ModelID,
		MaxTokens: request.MaxTokens,
		System:    request.System,
		Tools:     agent.CloneToolDefinitions(request.Tools),
		Messages:  agent.CloneMessages(request.Messages),
	})

	if m.index >= len(m.responses) {
		return agent.ModelResponse{}, fmt.Errorf("script exhausted at step %d", m.index+1)
	}
	current := m.responses[m.index]
	m.index++
	if current.Err != nil {
		return agent.ModelResponse{}, current.Err
	}

	msg := agent.CloneMessage(current.Message)
	if msg.Role == "" {
		msg.Role = agent.RoleAssistant
	}
	stop := current.StopReason
	if stop == "" {
		stop = agent.StopReasonEndTurn
		if len(msg.ToolCalls()) > 0 {
			stop = agent.StopReasonToolUse
		}
	}
	return agent.ModelResponse{Message: msg, StopReason: stop, Usage: current.Usage}, nil
}

// Requests returns copies of every request received so far.
func (m *ScriptedModel) Requests() []agent.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.ModelRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls reports how many Generate calls were made.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Text is a convenience for a final-answer response.
func Text(text string) Response {
	return Response{Message: agent.Message{
		Role:    agent.RoleAssistant,
		Content: []agent.ContentBlock{agent.TextBlock(text)},
	}}
}

// ToolUse is a convenience for a tool-request response with optional lead-in text.
func ToolUse(text string, calls ...agent.ToolCall) Response {
	msg := agent.Message{Role: agent.RoleAssistant}
	if text != "" {
		msg.Content = append(msg.Content, agent.TextBlock(text))
	}
	for _, call := range calls {
		msg.Content = append(msg.Content, agent.ToolRequestBlock(call))
	}
	return Response{Message: msg, StopReason: agent.StopReasonToolUse}
}
