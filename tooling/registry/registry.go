package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Gurpartap/reportagent/agent"
)

var (
	ErrToolUnregistered = errors.New("tool is not registered")
	ErrToolNameEmpty    = errors.New("tool name is empty")
	ErrToolNameConflict = errors.New("tool name already registered")
	ErrNilCaller        = errors.New("tool caller is nil")
)

// Caller forwards a tool invocation to whatever owns the tool, typically a
// tool server connection.
type Caller interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) (string, error)
}

// Entry is one registered tool and its owner.
type Entry struct {
	Server string
	Caller Caller
	Tool   agent.ToolDefinition
}

// Registry maps tool names to their owning connection. It is appended to
// while servers connect and read-only afterwards. The first registration of
// a name wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func New() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

func (r *Registry) Register(entry Entry) error {
	name := entry.Tool.Name
	if name == "" {
		return fmt.Errorf("%w: server %q", ErrToolNameEmpty, entry.Server)
	}
	if entry.Caller == nil {
		return fmt.Errorf("%w: tool %q", ErrNilCaller, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %q from server %q is owned by server %q", ErrToolNameConflict, name, entry.Server, existing.Server)
	}
	entry.Tool = agent.CloneToolDefinitions([]agent.ToolDefinition{entry.Tool})[0]
	r.entries[name] = entry
	return nil
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry, ok
}

// Definitions returns every registered tool sorted by name.
func (r *Registry) Definitions() []agent.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.ToolDefinition, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return agent.CloneToolDefinitions(out)
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ServerTools groups registered tool names by owning server.
func (r *Registry) ServerTools() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string][]string{}
	for name, entry := range r.entries {
		out[entry.Server] = append(out[entry.Server], name)
	}
	for server := range out {
		sort.Strings(out[server])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Execute forwards a call to the owning connection. Unknown names fail with
// a KindToolNotFound error; errors from the owner are returned unmodified.
func (r *Registry) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return agent.ToolResult{}, ctxErr
	}
	if call.Name == "" {
		return agent.ToolResult{}, agent.NewError(agent.KindToolNotFound, "execute", fmt.Errorf("%w: call %q", ErrToolNameEmpty, call.ID))
	}

	entry, ok := r.Lookup(call.Name)
	if !ok {
		return agent.ToolResult{}, agent.NewError(agent.KindToolNotFound, "execute", fmt.Errorf("%w: %q", ErrToolUnregistered, call.Name))
	}

	content, err := entry.Caller.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		return agent.ToolResult{}, err
	}
	return agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: content,
	}, nil
}
