// Package gemini is an agent.Model for the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/llm/anthropic"
)

// ContentGenerator is the slice of the genai client the adapter uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var _ ContentGenerator = (*genai.Models)(nil)

type Config struct {
	APIKey string
	Model  string
	// Generator overrides the client built from APIKey.
	Generator ContentGenerator
}

type Adapter struct {
	generator ContentGenerator
	model     string
}

var _ agent.Model = (*Adapter)(nil)

func New(ctx context.Context, cfg Config) (*Adapter, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("new gemini adapter: model is required")
	}

	generator := cfg.Generator
	if generator == nil {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("new gemini adapter: api key is required")
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini adapter: %w", err)
		}
		generator = client.Models
	}
	return &Adapter{generator: generator, model: model}, nil
}

func (a *Adapter) Generate(ctx context.Context, request agent.ModelRequest) (agent.ModelResponse, error) {
	model := a.model
	if request.ModelID != "" {
		model = request.ModelID
	}

	contents, err := toContents(agent.PairToolBlocks(request.Messages))
	if err != nil {
		return agent.ModelResponse{}, agent.NewError(agent.KindFatal, "gemini", err)
	}

	config := &genai.GenerateContentConfig{}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}
	if request.System != "" {
		config.SystemInstruction = genai.NewContentFromText(request.System, genai.RoleUser)
	}
	if len(request.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, len(request.Tools))
		for i, def := range request.Tools {
			schema := def.InputSchema
			if len(schema) == 0 {
				schema = map[string]any{"type": "object"}
			}
			declarations[i] = &genai.FunctionDeclaration{
				Name:                 def.Name,
				Description:          def.Description,
				ParametersJsonSchema: schema,
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	response, err := a.generator.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return agent.ModelResponse{}, classify(err)
	}
	return fromResponse(response)
}

func toContents(messages []agent.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for i, message := range messages {
		var role genai.Role = genai.RoleUser
		switch message.Role {
		case agent.RoleUser:
		case agent.RoleAssistant:
			role = genai.RoleModel
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, message.Role)
		}

		content := &genai.Content{Role: string(role)}
		for _, block := range message.Content {
			switch block.Type {
			case agent.BlockTypeText:
				if block.Text != "" {
					content.Parts = append(content.Parts, genai.NewPartFromText(block.Text))
				}
			case agent.BlockTypeToolRequest:
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   block.ID,
					Name: block.Name,
					Args: block.Input,
				}})
			case agent.BlockTypeToolResult:
				key := "output"
				if block.IsError {
					key = "error"
				}
				content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       block.ID,
					Name:     block.Name,
					Response: map[string]any{key: block.Content},
				}})
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents, nil
}

func fromResponse(response *genai.GenerateContentResponse) (agent.ModelResponse, error) {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0] == nil {
		return agent.ModelResponse{}, agent.Errorf(agent.KindFatal, "gemini", "response has no candidates")
	}
	candidate := response.Candidates[0]

	message := agent.Message{Role: agent.RoleAssistant}
	hasCalls := false
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			switch {
			case part == nil:
			case part.FunctionCall != nil:
				hasCalls = true
				id := part.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				message.Content = append(message.Content, agent.ToolRequestBlock(agent.ToolCall{
					ID:        id,
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				}))
			case part.Text != "" && !part.Thought:
				message.Content = append(message.Content, agent.TextBlock(part.Text))
			}
		}
	}

	stop := agent.StopReasonEndTurn
	switch {
	case hasCalls:
		stop = agent.StopReasonToolUse
	case candidate.FinishReason == genai.FinishReasonMaxTokens:
		stop = agent.StopReasonMaxTokens
	}

	var usage agent.Usage
	if response.UsageMetadata != nil {
		usage.InputTokens = int(response.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(response.UsageMetadata.CandidatesTokenCount)
	}
	return agent.ModelResponse{Message: message, StopReason: stop, Usage: usage}, nil
}

// classify maps the API status of a failed call. Only the prompt-size
// check reads the message text.
func classify(err error) error {
	if apiErr, ok := asAPIError(err); ok {
		switch {
		case apiErr.Code == http.StatusTooManyRequests,
			apiErr.Code == http.StatusServiceUnavailable,
			apiErr.Status == "RESOURCE_EXHAUSTED",
			apiErr.Status == "UNAVAILABLE":
			return agent.NewError(agent.KindRateLimit, "gemini", err)
		case isPromptTooLong(apiErr.Message):
			return agent.NewError(agent.KindPromptTooLong, "gemini", err)
		}
		return agent.NewError(agent.KindFatal, "gemini", err)
	}
	if isPromptTooLong(err.Error()) {
		return agent.NewError(agent.KindPromptTooLong, "gemini", err)
	}
	return agent.NewError(agent.KindFatal, "gemini", err)
}

// asAPIError accepts both forms the client may return.
func asAPIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var pointer *genai.APIError
	if errors.As(err, &pointer) && pointer != nil {
		return *pointer, true
	}
	return genai.APIError{}, false
}

func isPromptTooLong(message string) bool {
	return anthropic.IsPromptTooLong(message) ||
		strings.Contains(strings.ToLower(message), "exceeds the maximum number of tokens")
}
