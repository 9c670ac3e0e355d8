package servers

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Config describes how to launch one tool server. It is immutable for a run.
type Config struct {
	Name    string            `mapstructure:"name" yaml:"name"`
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Env     map[string]string `mapstructure:"env" yaml:"env"`
}

// Session is the slice of an MCP client the manager uses. *client.Client
// satisfies it.
type Session interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

var _ Session = (*client.Client)(nil)

// Dialer opens the transport for a server. Initialization is done by the manager.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Session, error)
}

type DialerFunc func(ctx context.Context, cfg Config) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, cfg Config) (Session, error) {
	return f(ctx, cfg)
}

var errEmptyCommand = errors.New("launch command is empty")

// StdioDialer launches the server as a subprocess speaking MCP over stdio.
// The subprocess inherits the current environment plus Config.Env.
type StdioDialer struct{}

func (StdioDialer) Dial(_ context.Context, cfg Config) (Session, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errEmptyCommand
	}
	c, err := client.NewStdioMCPClient(cfg.Command, envList(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", cfg.Command, err)
	}
	return c, nil
}

func envList(overrides map[string]string) []string {
	keys := slices.Sorted(maps.Keys(overrides))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+overrides[key])
	}
	return out
}
