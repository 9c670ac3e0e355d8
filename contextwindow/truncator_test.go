package contextwindow_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/contextwindow"
)

func newTruncator(t *testing.T) *contextwindow.Truncator {
	t.Helper()
	truncator, err := contextwindow.New(contextwindow.DefaultConfig())
	require.NoError(t, err)
	return truncator
}

// conversation builds instructions plus n alternating messages of size chars each.
func conversation(n, size int) []agent.Message {
	messages := []agent.Message{agent.UserText("instructions: summarize the quarter")}
	for i := range n {
		body := fmt.Sprintf("%03d", i) + strings.Repeat("x", size)
		if i%2 == 0 {
			messages = append(messages, agent.Message{
				Role:    agent.RoleAssistant,
				Content: []agent.ContentBlock{agent.TextBlock(body)},
			})
			continue
		}
		messages = append(messages, agent.Message{
			Role:    agent.RoleUser,
			Content: []agent.ContentBlock{agent.ToolResultBlock(agent.ToolResult{CallID: fmt.Sprint(i), Name: "t", Content: body})},
		})
	}
	return messages
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	truncator := newTruncator(t)
	messages := []agent.Message{
		agent.UserText(strings.Repeat("a", 400)),
		{Role: agent.RoleAssistant, Content: []agent.ContentBlock{
			agent.ToolRequestBlock(agent.ToolCall{ID: "c1", Name: "lookup", Arguments: map[string]any{"q": "abc"}}),
		}},
		agent.ToolResultMessage([]agent.ToolResult{{CallID: "c1", Name: "lookup", Content: strings.Repeat("b", 200)}}),
	}
	tools := []agent.ToolDefinition{{Name: "lookup"}, {Name: "read_file"}}

	// 400 + len(`{"q":"abc"}`)=11 + 200 = 611 chars -> 152 tokens, plus 2*100
	require.Equal(t, 352, truncator.EstimateTokens(messages, tools))
}

func TestEstimateTokens_Monotonic(t *testing.T) {
	t.Parallel()

	truncator := newTruncator(t)
	previous := -1
	for size := 0; size <= 2000; size += 37 {
		got := truncator.EstimateTokens([]agent.Message{agent.UserText(strings.Repeat("z", size))}, nil)
		require.GreaterOrEqual(t, got, previous, "size=%d", size)
		previous = got
	}

	messages := conversation(4, 100)
	var tools []agent.ToolDefinition
	previous = -1
	for i := range 10 {
		got := truncator.EstimateTokens(messages, tools)
		require.Greater(t, got, previous, "tools=%d", i)
		previous = got
		tools = append(tools, agent.ToolDefinition{Name: fmt.Sprint("tool", i)})
	}
}

func TestTruncate_SingleMessageIsIdentity(t *testing.T) {
	t.Parallel()

	truncator := newTruncator(t)
	require.Empty(t, truncator.Truncate(nil, 10, nil))

	one := []agent.Message{agent.UserText(strings.Repeat("q", 10000))}
	require.Equal(t, one, truncator.Truncate(one, 1, nil))
}

func TestTruncate_UnderBudgetKeepsEverything(t *testing.T) {
	t.Parallel()

	truncator := newTruncator(t)
	messages := conversation(6, 40)
	require.Equal(t, messages, truncator.Truncate(messages, 100000, nil))
}

func TestTruncate_KeepsFirstAndNewest(t *testing.T) {
	t.Parallel()

	truncator := newTruncator(t)
	messages := conversation(20, 400) // ~100 tokens each
	tools := []agent.ToolDefinition{{Name: "lookup"}}

	got := truncator.Truncate(messages, 1000, tools)

	require.Equal(t, messages[0], got[0])
	require.Less(t, len(got), len(messages))
	require.GreaterOrEqual(t, len(got)-1, contextwindow.DefaultConfig().MinRecentMessages)
	tail := messages[len(messages)-(len(got)-1):]
	require.Equal(t, tail, got[1:], "kept messages must be the newest, in order")
	require.LessOrEqual(t, truncator.EstimateTokens(got, tools), 1000)
}

func TestTruncate_MinRecentMessagesWinsOverBudget(t *testing.T) {
	t.Parallel()

	truncator := newTruncator(t)
	messages := conversation(10, 4000) // ~1000 tokens each

	got := truncator.Truncate(messages, 50, nil)

	require.Len(t, got, 1+contextwindow.DefaultConfig().MinRecentMessages)
	require.Equal(t, messages[0], got[0])
	require.Equal(t, messages[len(messages)-4:], got[1:])
}

func TestTruncate_Idempotent(t *testing.T) {
	t.Parallel()

	truncator := newTruncator(t)
	for _, budget := range []int{10, 500, 1200, 3000, 100000} {
		messages := conversation(15, 333)
		once := truncator.Truncate(messages, budget, nil)
		twice := truncator.Truncate(once, budget, nil)
		require.Equal(t, once, twice, "budget=%d", budget)
	}
}

func TestTruncate_DoesNotAliasInput(t *testing.T) {
	t.Parallel()

	truncator := newTruncator(t)
	messages := conversation(3, 10)
	got := truncator.Truncate(messages, 100000, nil)
	got[0].Content[0].Text = "changed"
	require.Equal(t, "instructions: summarize the quarter", messages[0].Text())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := contextwindow.New(contextwindow.Config{CharsPerToken: 0})
	require.Error(t, err)
	_, err = contextwindow.New(contextwindow.Config{CharsPerToken: 4, PerToolOverhead: -1})
	require.Error(t, err)
	_, err = contextwindow.New(contextwindow.Config{CharsPerToken: 4, MinRecentMessages: -1})
	require.Error(t, err)
}
