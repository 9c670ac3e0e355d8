package servers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sony/gobreaker"

	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/tooling/registry"
)

// ErrToolReported marks a call that reached the server but whose result was
// flagged as an error by the tool itself.
var ErrToolReported = errors.New("tool reported an error")

// Connection is one initialized tool server. It is owned by the Manager and
// lives until Close.
type Connection struct {
	name    string
	session Session
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	mu        sync.RWMutex
	connected bool
	lastErr   error
	closeOnce sync.Once
	closeErr  error
}

var _ registry.Caller = (*Connection)(nil)

func newConnection(name string, session Session, opts Options) *Connection {
	c := &Connection{
		name:      name,
		session:   session,
		logger:    opts.Logger.With("server", name),
		connected: true,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrToolReported) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.logger.Warn("tool server breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return c
}

func (c *Connection) Name() string {
	return c.name
}

func (c *Connection) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// LastError is the most recent transport failure seen on this connection.
func (c *Connection) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// CallTool invokes a tool and flattens its text content. A result flagged as
// an error becomes a KindToolInvocation error carrying the tool's text.
// Transport errors are returned as-is.
func (c *Connection) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	if !c.Connected() {
		return "", agent.Errorf(agent.KindToolInvocation, name, "server %q is closed", c.name)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		request := mcp.CallToolRequest{}
		request.Params.Name = name
		request.Params.Arguments = arguments

		result, err := c.session.CallTool(ctx, request)
		if err != nil {
			return nil, err
		}
		text := resultText(result)
		if result.IsError {
			return nil, agent.NewError(agent.KindToolInvocation, name, fmt.Errorf("%w: %s", ErrToolReported, text))
		}
		return text, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", agent.NewError(agent.KindToolInvocation, name, fmt.Errorf("server %q unavailable: %w", c.name, err))
		}
		if !errors.Is(err, ErrToolReported) {
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
		}
		return "", err
	}
	return out.(string), nil
}

// Close is idempotent and returns the first close error.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func resultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result.Content))
	for _, item := range result.Content {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		default:
			encoded, err := json.Marshal(content)
			if err == nil {
				parts = append(parts, string(encoded))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// toolDefinition converts a listed tool. The schema is taken from the tool's
// own JSON encoding so raw and structured schemas are handled alike.
func toolDefinition(tool mcp.Tool) agent.ToolDefinition {
	definition := agent.ToolDefinition{
		Name:        tool.Name,
		Description: tool.Description,
	}
	encoded, err := json.Marshal(tool)
	if err != nil {
		return definition
	}
	var decoded struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return definition
	}
	definition.InputSchema = decoded.InputSchema
	return definition
}
