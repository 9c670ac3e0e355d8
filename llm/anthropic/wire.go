package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Gurpartap/reportagent/agent"
)

// Request is the Messages API request body. Bedrock uses the same body with
// AnthropicVersion set and Model left empty.
type Request struct {
	AnthropicVersion string    `json:"anthropic_version,omitempty"`
	Model            string    `json:"model,omitempty"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Messages         []Message `json:"messages"`
	Tools            []Tool    `json:"tools,omitempty"`
}

type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock covers the text, tool_use and tool_result block types.
type ContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type Response struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// BuildRequest converts a model request. Orphaned tool results are dropped
// first because the API rejects them.
func BuildRequest(model string, request agent.ModelRequest) (Request, error) {
	normalized := agent.PairToolBlocks(request.Messages)
	if len(normalized) == 0 {
		return Request{}, fmt.Errorf("build request: no messages")
	}

	messages := make([]Message, 0, len(normalized))
	for i := range normalized {
		converted, err := toWireMessage(normalized[i])
		if err != nil {
			return Request{}, fmt.Errorf("build request: message %d: %w", i, err)
		}
		messages = append(messages, converted)
	}

	tools := make([]Tool, len(request.Tools))
	for i, def := range request.Tools {
		schema := def.InputSchema
		if len(schema) == 0 {
			schema = map[string]any{"type": "object"}
		}
		tools[i] = Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		}
	}

	return Request{
		Model:     model,
		MaxTokens: request.MaxTokens,
		System:    request.System,
		Messages:  messages,
		Tools:     tools,
	}, nil
}

func toWireMessage(message agent.Message) (Message, error) {
	var role string
	switch message.Role {
	case agent.RoleUser:
		role = "user"
	case agent.RoleAssistant:
		role = "assistant"
	default:
		return Message{}, fmt.Errorf("unsupported message role %q", message.Role)
	}

	content := make([]ContentBlock, 0, len(message.Content))
	for _, block := range message.Content {
		switch block.Type {
		case agent.BlockTypeText:
			if block.Text == "" {
				continue
			}
			content = append(content, ContentBlock{Type: "text", Text: block.Text})
		case agent.BlockTypeToolRequest:
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, ContentBlock{Type: "tool_use", ID: block.ID, Name: block.Name, Input: input})
		case agent.BlockTypeToolResult:
			content = append(content, ContentBlock{Type: "tool_result", ToolUseID: block.ID, Content: block.Content, IsError: block.IsError})
		default:
			return Message{}, fmt.Errorf("unsupported content block %q", block.Type)
		}
	}
	return Message{Role: role, Content: content}, nil
}

// ParseResponse decodes a Messages API response body.
func ParseResponse(body []byte) (agent.ModelResponse, error) {
	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return agent.ModelResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Role != "" && parsed.Role != "assistant" {
		return agent.ModelResponse{}, fmt.Errorf("decode response: expected assistant role, got %q", parsed.Role)
	}

	message := agent.Message{Role: agent.RoleAssistant}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			message.Content = append(message.Content, agent.TextBlock(block.Text))
		case "tool_use":
			arguments, err := toolInput(block.Input)
			if err != nil {
				return agent.ModelResponse{}, fmt.Errorf("decode tool input for %q: %w", block.Name, err)
			}
			message.Content = append(message.Content, agent.ToolRequestBlock(agent.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: arguments,
			}))
		}
	}

	return agent.ModelResponse{
		Message:    message,
		StopReason: stopReason(parsed.StopReason),
		Usage: agent.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

func toolInput(input any) (map[string]any, error) {
	switch value := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return value, nil
	default:
		return nil, fmt.Errorf("input is %T, want object", input)
	}
}

func stopReason(raw string) agent.StopReason {
	switch raw {
	case "tool_use":
		return agent.StopReasonToolUse
	case "max_tokens":
		return agent.StopReasonMaxTokens
	default:
		return agent.StopReasonEndTurn
	}
}

// IsPromptTooLong reports whether a provider error message says the prompt
// exceeds the model's context window.
func IsPromptTooLong(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "input is too long") ||
		strings.Contains(lower, "too many input tokens")
}
