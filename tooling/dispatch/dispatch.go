// Package dispatch routes tool calls to either a local built-in tool or a
// remote tool registered by a tool server.
package dispatch

import (
	"context"
	"fmt"

	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/tooling/registry"
)

// RouteKind tags where a tool call is executed.
type RouteKind int

const (
	RouteNotFound RouteKind = iota
	RouteLocal
	RouteRemote
)

func (k RouteKind) String() string {
	switch k {
	case RouteLocal:
		return "local"
	case RouteRemote:
		return "remote"
	default:
		return "not_found"
	}
}

// Route is the resolved target of a tool name. Server is set for remote
// routes only.
type Route struct {
	Kind   RouteKind
	Name   string
	Server string
}

// Local is the closed set of in-process tools.
type Local interface {
	agent.ToolExecutor
	Has(name string) bool
	Definitions() []agent.ToolDefinition
}

// Dispatcher resolves each call to exactly one route. Local tools shadow
// remote tools of the same name.
type Dispatcher struct {
	local  Local
	remote *registry.Registry
}

var _ agent.ToolExecutor = (*Dispatcher)(nil)

// New builds a dispatcher. Either side may be nil.
func New(local Local, remote *registry.Registry) *Dispatcher {
	return &Dispatcher{local: local, remote: remote}
}

func (d *Dispatcher) Resolve(name string) Route {
	if d.local != nil && d.local.Has(name) {
		return Route{Kind: RouteLocal, Name: name}
	}
	if d.remote != nil {
		if entry, ok := d.remote.Lookup(name); ok {
			return Route{Kind: RouteRemote, Name: name, Server: entry.Server}
		}
	}
	return Route{Kind: RouteNotFound, Name: name}
}

func (d *Dispatcher) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	switch route := d.Resolve(call.Name); route.Kind {
	case RouteLocal:
		return d.local.Execute(ctx, call)
	case RouteRemote:
		return d.remote.Execute(ctx, call)
	default:
		return agent.ToolResult{}, agent.NewError(agent.KindToolNotFound, "dispatch", fmt.Errorf("%w: %q", registry.ErrToolUnregistered, call.Name))
	}
}

// Definitions lists local tools first, then remote tools whose names are
// not shadowed by a local tool.
func (d *Dispatcher) Definitions() []agent.ToolDefinition {
	var out []agent.ToolDefinition
	if d.local != nil {
		out = append(out, d.local.Definitions()...)
	}
	if d.remote == nil {
		return out
	}
	for _, def := range d.remote.Definitions() {
		if d.local != nil && d.local.Has(def.Name) {
			continue
		}
		out = append(out, def)
	}
	return out
}
