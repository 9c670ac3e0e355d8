// Package contextwindow estimates the token cost of a conversation and trims
// it to a budget, always keeping the first message (the task instructions).
package contextwindow

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/Gurpartap/reportagent/agent"
)

// Config tunes the character-based estimate and the truncation floor.
type Config struct {
	CharsPerToken     int
	PerToolOverhead   int
	MinRecentMessages int
}

func DefaultConfig() Config {
	return Config{
		CharsPerToken:     4,
		PerToolOverhead:   100,
		MinRecentMessages: 4,
	}
}

// Truncator is stateless and safe for concurrent use.
type Truncator struct {
	cfg Config
}

var _ agent.Truncator = (*Truncator)(nil)

func New(cfg Config) (*Truncator, error) {
	if cfg.CharsPerToken <= 0 {
		return nil, fmt.Errorf("new truncator: chars per token must be positive, got %d", cfg.CharsPerToken)
	}
	if cfg.PerToolOverhead < 0 {
		return nil, fmt.Errorf("new truncator: per-tool overhead must not be negative, got %d", cfg.PerToolOverhead)
	}
	if cfg.MinRecentMessages < 0 {
		return nil, fmt.Errorf("new truncator: min recent messages must not be negative, got %d", cfg.MinRecentMessages)
	}
	return &Truncator{cfg: cfg}, nil
}

// EstimateTokens approximates the prompt size: all text, tool-request input
// and tool-result content divided by CharsPerToken, plus a fixed overhead per
// tool schema.
func (t *Truncator) EstimateTokens(messages []agent.Message, tools []agent.ToolDefinition) int {
	chars := 0
	for i := range messages {
		chars += messageChars(messages[i])
	}
	return t.tokens(chars, len(tools))
}

func (t *Truncator) tokens(chars, toolCount int) int {
	return chars/t.cfg.CharsPerToken + t.cfg.PerToolOverhead*toolCount
}

// Truncate keeps messages[0] and as many of the newest messages as fit
// maxTokens, but never fewer than MinRecentMessages of them. The result
// preserves order. Applying it to its own output is a no-op.
func (t *Truncator) Truncate(messages []agent.Message, maxTokens int, tools []agent.ToolDefinition) []agent.Message {
	if len(messages) <= 1 {
		return agent.CloneMessages(messages)
	}

	chars := messageChars(messages[0])
	start := len(messages)
	for i := len(messages) - 1; i >= 1; i-- {
		next := chars + messageChars(messages[i])
		kept := len(messages) - start
		if t.tokens(next, len(tools)) > maxTokens && kept >= t.cfg.MinRecentMessages {
			break
		}
		chars = next
		start = i
	}

	out := make([]agent.Message, 0, 1+len(messages)-start)
	out = append(out, messages[0])
	out = append(out, messages[start:]...)
	return agent.CloneMessages(out)
}

func messageChars(message agent.Message) int {
	total := 0
	for _, block := range message.Content {
		switch block.Type {
		case agent.BlockTypeText:
			total += utf8.RuneCountInString(block.Text)
		case agent.BlockTypeToolRequest:
			if len(block.Input) == 0 {
				continue
			}
			encoded, err := json.Marshal(block.Input)
			if err != nil {
				continue
			}
			total += utf8.RuneCount(encoded)
		case agent.BlockTypeToolResult:
			total += utf8.RuneCountInString(block.Content)
		}
	}
	return total
}
