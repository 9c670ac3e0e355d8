package anthropic_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/llm/anthropic"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *anthropic.Adapter {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := anthropic.New(anthropic.Config{
		APIKey:     "test-key",
		Model:      "claude-test",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestNewRequiresKeyAndModel(t *testing.T) {
	t.Parallel()

	if _, err := anthropic.New(anthropic.Config{Model: "m"}); err == nil {
		t.Fatalf("expected missing api key error")
	}
	if _, err := anthropic.New(anthropic.Config{APIKey: "k"}); err == nil {
		t.Fatalf("expected missing model error")
	}
}

func TestGenerateSendsMessagesRequestAndParsesToolUse(t *testing.T) {
	t.Parallel()

	var received anthropic.Request
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" || r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"role": "assistant",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "read_file", "input": {"path": "q3.csv"}}
			],
			"usage": {"input_tokens": 321, "output_tokens": 45}
		}`)
	})

	response, err := adapter.Generate(context.Background(), agent.ModelRequest{
		MaxTokens: 1024,
		System:    "You write reports.",
		Tools: []agent.ToolDefinition{
			{Name: "read_file", Description: "Read a file"},
		},
		Messages: []agent.Message{agent.UserText("Summarize Q3.")},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if received.Model != "claude-test" || received.MaxTokens != 1024 || received.System != "You write reports." {
		t.Fatalf("unexpected request: %+v", received)
	}
	if len(received.Tools) != 1 || received.Tools[0].InputSchema["type"] != "object" {
		t.Fatalf("tools must carry an object schema: %+v", received.Tools)
	}
	if len(received.Messages) != 1 || received.Messages[0].Content[0].Text != "Summarize Q3." {
		t.Fatalf("unexpected messages: %+v", received.Messages)
	}

	if response.StopReason != agent.StopReasonToolUse {
		t.Fatalf("unexpected stop reason: %s", response.StopReason)
	}
	if response.Usage != (agent.Usage{InputTokens: 321, OutputTokens: 45}) {
		t.Fatalf("unexpected usage: %+v", response.Usage)
	}
	calls := response.Message.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "toolu_1" || calls[0].Arguments["path"] != "q3.csv" {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
	if response.Message.Text() != "Let me check." {
		t.Fatalf("unexpected text: %q", response.Message.Text())
	}
}

func TestGenerateRequestModelOverridesConfig(t *testing.T) {
	t.Parallel()

	var model string
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var req anthropic.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		model = req.Model
		_, _ = io.WriteString(w, `{"role":"assistant","stop_reason":"end_turn","content":[{"type":"text","text":"ok"}]}`)
	})

	if _, err := adapter.Generate(context.Background(), agent.ModelRequest{
		ModelID:  "claude-override",
		Messages: []agent.Message{agent.UserText("hi")},
	}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if model != "claude-override" {
		t.Fatalf("unexpected model: %q", model)
	}
}

func TestGenerateClassifiesProviderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   agent.ErrorKind
	}{
		{name: "rate limited", status: 429, body: `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`, want: agent.KindRateLimit},
		{name: "overloaded", status: 529, body: `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, want: agent.KindRateLimit},
		{name: "prompt too long", status: 400, body: `{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 210000 tokens > 200000 maximum"}}`, want: agent.KindPromptTooLong},
		{name: "other bad request", status: 400, body: `{"type":"error","error":{"type":"invalid_request_error","message":"tools.0.name: invalid"}}`, want: agent.KindFatal},
		{name: "server error", status: 500, body: `oops`, want: agent.KindFatal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := adapter.Generate(context.Background(), agent.ModelRequest{Messages: []agent.Message{agent.UserText("hi")}})
			if got := agent.KindOf(err); got != tc.want {
				t.Fatalf("unexpected kind: got=%s want=%s (%v)", got, tc.want, err)
			}
		})
	}
}

func TestBuildRequestPairsToolTraffic(t *testing.T) {
	t.Parallel()

	request, err := anthropic.BuildRequest("claude-test", agent.ModelRequest{
		Messages: []agent.Message{
			agent.UserText("task"),
			{Role: agent.RoleUser, Content: []agent.ContentBlock{
				agent.ToolResultBlock(agent.ToolResult{CallID: "evicted", Name: "read_file", Content: "old"}),
			}},
			{Role: agent.RoleAssistant, Content: []agent.ContentBlock{
				agent.ToolRequestBlock(agent.ToolCall{ID: "c1", Name: "list_files"}),
			}},
			{Role: agent.RoleUser, Content: []agent.ContentBlock{
				agent.ToolResultBlock(agent.ToolResult{CallID: "c1", Name: "list_files", Content: "a.csv", IsError: false}),
			}},
		},
	})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if len(request.Messages) != 3 {
		t.Fatalf("unexpected message count: got=%d want=3", len(request.Messages))
	}
	use := request.Messages[1].Content[0]
	if use.Type != "tool_use" || use.ID != "c1" {
		t.Fatalf("unexpected tool_use block: %+v", use)
	}
	if input, ok := use.Input.(map[string]any); !ok || input == nil {
		t.Fatalf("tool_use input must be an object: %#v", use.Input)
	}
	result := request.Messages[2].Content[0]
	if result.Type != "tool_result" || result.ToolUseID != "c1" || result.Content != "a.csv" {
		t.Fatalf("unexpected tool_result block: %+v", result)
	}
}

func TestParseResponseRejectsBadToolInput(t *testing.T) {
	t.Parallel()

	_, err := anthropic.ParseResponse([]byte(`{"role":"assistant","content":[{"type":"tool_use","id":"t","name":"x","input":"nope"}]}`))
	if err == nil {
		t.Fatalf("expected error for non-object tool input")
	}
}
