package agent

import (
	"maps"
	"strings"
)

// Role identifies the author of a message in the conversation transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags the variant carried by a ContentBlock.
type BlockType string

const (
	BlockTypeText        BlockType = "text"
	BlockTypeToolRequest BlockType = "tool_request"
	BlockTypeToolResult  BlockType = "tool_result"
)

// ContentBlock is one element of a message body. Only the fields of the
// variant named by Type are meaningful.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_request and tool_result share the call id; Name is carried on
	// results too because some providers correlate by function name.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message is the shared transport object passed between the loop, the model and tools.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

func ToolRequestBlock(call ToolCall) ContentBlock {
	input := call.Arguments
	if input == nil {
		input = map[string]any{}
	}
	return ContentBlock{
		Type:  BlockTypeToolRequest,
		ID:    call.ID,
		Name:  call.Name,
		Input: maps.Clone(input),
	}
}

func ToolResultBlock(result ToolResult) ContentBlock {
	return ContentBlock{
		Type:    BlockTypeToolResult,
		ID:      result.CallID,
		Name:    result.Name,
		Content: result.Content,
		IsError: result.IsError,
	}
}

// UserText builds a single-block user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// Text concatenates the text blocks of the message in order.
func (m Message) Text() string {
	var parts []string
	for _, block := range m.Content {
		if block.Type == BlockTypeText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolCalls returns the tool requests carried by the message in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range m.Content {
		if block.Type != BlockTypeToolRequest {
			continue
		}
		calls = append(calls, ToolCall{
			ID:        block.ID,
			Name:      block.Name,
			Arguments: maps.Clone(block.Input),
		})
	}
	return calls
}

// CloneMessage returns a deep copy suitable for isolation across component boundaries.
func CloneMessage(in Message) Message {
	out := in
	if in.Content != nil {
		out.Content = make([]ContentBlock, len(in.Content))
		for i := range in.Content {
			out.Content[i] = in.Content[i]
			if in.Content[i].Input != nil {
				out.Content[i].Input = cloneArguments(in.Content[i].Input)
			}
		}
	}
	return out
}

// CloneMessages returns deep copies of all messages.
func CloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i := range in {
		out[i] = CloneMessage(in[i])
	}
	return out
}

// PairToolBlocks prepares a (possibly truncated) transcript for providers
// that reject unpaired tool traffic: tool results whose request is no longer
// in the transcript are dropped, messages left empty are removed, and
// adjacent messages with the same role are merged.
func PairToolBlocks(messages []Message) []Message {
	requested := make(map[string]struct{})
	for _, message := range messages {
		for _, block := range message.Content {
			if block.Type == BlockTypeToolRequest {
				requested[block.ID] = struct{}{}
			}
		}
	}

	out := make([]Message, 0, len(messages))
	for _, message := range messages {
		kept := make([]ContentBlock, 0, len(message.Content))
		for _, block := range message.Content {
			if block.Type == BlockTypeToolResult {
				if _, ok := requested[block.ID]; !ok {
					continue
				}
			}
			kept = append(kept, block)
		}
		if len(kept) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == message.Role {
			out[n-1].Content = append(out[n-1].Content, kept...)
			continue
		}
		out = append(out, Message{Role: message.Role, Content: kept})
	}
	return CloneMessages(out)
}
