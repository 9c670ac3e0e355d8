package tools

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Gurpartap/reportagent/agent"
)

// Handler executes business logic for one tool call.
type Handler func(ctx context.Context, arguments map[string]any) (string, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition agent.ToolDefinition
	Handler    Handler
}

// Static is a fixed, map-backed tool session. It also serves as its own
// factory so engines can be wired without any tool servers.
type Static struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	opened atomic.Int32
	closed atomic.Int32
}

var (
	_ agent.ToolSession        = (*Static)(nil)
	_ agent.ToolSessionFactory = (*Static)(nil)
)

func NewStatic(tools ...Tool) *Static {
	s := &Static{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		s.tools[tool.Definition.Name] = tool
	}
	return s
}

func (s *Static) Register(tool Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool.Definition.Name] = tool
}

func (s *Static) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	s.mu.RLock()
	tool, ok := s.tools[call.Name]
	s.mu.RUnlock()
	if !ok || tool.Handler == nil {
		return agent.ToolResult{}, agent.Errorf(agent.KindToolNotFound, "execute", "tool %q is not registered", call.Name)
	}
	content, err := tool.Handler(ctx, call.Arguments)
	if err != nil {
		return agent.ToolResult{}, agent.NewError(agent.KindToolInvocation, call.Name, err)
	}
	return agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: content,
	}, nil
}

func (s *Static) Definitions() []agent.ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agent.ToolDefinition, 0, len(s.tools))
	for _, tool := range s.tools {
		out = append(out, tool.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return agent.CloneToolDefinitions(out)
}

func (s *Static) Open(context.Context) (agent.ToolSession, error) {
	s.opened.Add(1)
	return s, nil
}

func (s *Static) Close() error {
	s.closed.Add(1)
	return nil
}

// Opened and Closed count session lifecycle calls.
func (s *Static) Opened() int { return int(s.opened.Load()) }
func (s *Static) Closed() int { return int(s.closed.Load()) }
