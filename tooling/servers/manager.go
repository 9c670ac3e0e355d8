// Package servers connects to MCP tool servers and builds the tool registry
// for a run. Connection failures are recorded per server and never fail the
// run as a whole.
package servers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/policy/retry"
	"github.com/Gurpartap/reportagent/tooling/registry"
)

const (
	DefaultConnectTimeout      = 30 * time.Second
	DefaultRetryDelay          = 2 * time.Second
	DefaultMaxRetries          = 3
	DefaultBreakerFailures     = 5
	DefaultBreakerOpenDuration = 30 * time.Second

	maxToolPages = 100
)

// Options tunes connection behaviour. Zero values take the defaults.
type Options struct {
	// ConnectTimeout bounds each of the connect and list-tools steps.
	ConnectTimeout time.Duration
	// RetryDelay is the wait after the first failed attempt; it doubles.
	RetryDelay time.Duration
	// MaxRetries is the total number of attempts per server.
	MaxRetries int
	// MaxParallel limits concurrent connection attempts; zero means unlimited.
	MaxParallel int

	BreakerFailures     uint32
	BreakerOpenDuration time.Duration

	ClientName    string
	ClientVersion string

	Dialer Dialer
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = DefaultBreakerFailures
	}
	if o.BreakerOpenDuration <= 0 {
		o.BreakerOpenDuration = DefaultBreakerOpenDuration
	}
	if o.ClientName == "" {
		o.ClientName = "reportagent"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "dev"
	}
	if o.Dialer == nil {
		o.Dialer = StdioDialer{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Failure records why a server, or one of its tools, was not registered.
// Warning failures leave the server connected.
type Failure struct {
	Server  string
	Err     error
	Warning bool
}

// InitResult summarizes Initialize.
type InitResult struct {
	Registry  *registry.Registry
	Succeeded int
	Failed    int
	Failures  []Failure
}

// Manager owns the connections of one run.
type Manager struct {
	opts Options

	mu       sync.Mutex
	registry *registry.Registry
	conns    []*Connection
	closed   bool
}

func NewManager(opts Options) *Manager {
	return &Manager{
		opts:     opts.withDefaults(),
		registry: registry.New(),
	}
}

// Initialize connects to every configured server concurrently and registers
// their tools. It waits for all attempts and returns normally even when no
// server connects.
func (m *Manager) Initialize(ctx context.Context, configs []Config) InitResult {
	reg := registry.New()
	result := InitResult{Registry: reg}

	type outcome struct {
		cfg   Config
		conn  *Connection
		tools []agent.ToolDefinition
		err   error
	}

	var group errgroup.Group
	if m.opts.MaxParallel > 0 {
		group.SetLimit(m.opts.MaxParallel)
	}
	seen := make(map[string]struct{}, len(configs))
	outcomes := make([]*outcome, len(configs))

	for i, cfg := range configs {
		if err := validateConfig(cfg, seen); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, Failure{Server: cfg.Name, Err: err})
			continue
		}

		out := &outcome{cfg: cfg}
		outcomes[i] = out
		group.Go(func() error {
			out.conn, out.tools, out.err = m.connect(ctx, cfg)
			return nil
		})
	}
	_ = group.Wait()

	// Registered in config order: the earlier server owns a colliding name.
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		cfg := out.cfg
		if out.err != nil {
			m.opts.Logger.ErrorContext(ctx, "tool server failed", "server", cfg.Name, "error", out.err)
			result.Failed++
			result.Failures = append(result.Failures, Failure{Server: cfg.Name, Err: out.err})
			continue
		}
		if err := m.track(out.conn); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, Failure{Server: cfg.Name, Err: err})
			continue
		}

		registered := 0
		for _, tool := range out.tools {
			if err := reg.Register(registry.Entry{Server: cfg.Name, Caller: out.conn, Tool: tool}); err != nil {
				m.opts.Logger.WarnContext(ctx, "tool not registered", "server", cfg.Name, "tool", tool.Name, "error", err)
				result.Failures = append(result.Failures, Failure{Server: cfg.Name, Err: err, Warning: true})
				continue
			}
			registered++
		}
		result.Succeeded++
		m.opts.Logger.InfoContext(ctx, "tool server connected", "server", cfg.Name, "tools", registered)
	}

	sort.SliceStable(result.Failures, func(i, j int) bool {
		return result.Failures[i].Server < result.Failures[j].Server
	})

	m.mu.Lock()
	m.registry = reg
	m.mu.Unlock()
	return result
}

func validateConfig(cfg Config, seen map[string]struct{}) error {
	if cfg.Name == "" {
		return errors.New("server name is empty")
	}
	if _, dup := seen[cfg.Name]; dup {
		return fmt.Errorf("server %q is configured more than once", cfg.Name)
	}
	seen[cfg.Name] = struct{}{}
	return nil
}

// connect runs connect + list-tools with retries and exponential backoff.
func (m *Manager) connect(ctx context.Context, cfg Config) (*Connection, []agent.ToolDefinition, error) {
	var (
		conn  *Connection
		tools []agent.ToolDefinition
	)
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:     m.opts.MaxRetries,
		InitialInterval: m.opts.RetryDelay,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, errEmptyCommand)
		},
	}, func(ctx context.Context, _ int) error {
		c, t, err := m.connectOnce(ctx, cfg)
		if err != nil {
			return err
		}
		conn, tools = c, t
		return nil
	}, func(err error, attempt int, next time.Duration) {
		m.opts.Logger.WarnContext(ctx, "tool server attempt failed",
			"server", cfg.Name,
			"attempt", attempt,
			"max_retries", m.opts.MaxRetries,
			"wait", next,
			"error", err,
		)
	})
	if err != nil {
		return nil, nil, err
	}
	return conn, tools, nil
}

func (m *Manager) connectOnce(ctx context.Context, cfg Config) (*Connection, []agent.ToolDefinition, error) {
	session, err := withTimeout(ctx, m.opts.ConnectTimeout, "connect", cfg.Name,
		func(ctx context.Context) (Session, error) {
			session, err := m.opts.Dialer.Dial(ctx, cfg)
			if err != nil {
				return nil, err
			}
			request := mcp.InitializeRequest{}
			request.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
			request.Params.ClientInfo = mcp.Implementation{
				Name:    m.opts.ClientName,
				Version: m.opts.ClientVersion,
			}
			if _, err := session.Initialize(ctx, request); err != nil {
				_ = session.Close()
				return nil, fmt.Errorf("initialize: %w", err)
			}
			return session, nil
		},
		func(session Session) { _ = session.Close() },
	)
	if err != nil {
		return nil, nil, err
	}

	tools, err := withTimeout(ctx, m.opts.ConnectTimeout, "list tools", cfg.Name,
		func(ctx context.Context) ([]agent.ToolDefinition, error) {
			return listTools(ctx, session)
		},
		nil,
	)
	if err != nil {
		_ = session.Close()
		return nil, nil, err
	}

	return newConnection(cfg.Name, session, m.opts), tools, nil
}

func listTools(ctx context.Context, session Session) ([]agent.ToolDefinition, error) {
	var out []agent.ToolDefinition
	request := mcp.ListToolsRequest{}
	for range maxToolPages {
		result, err := session.ListTools(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		for _, tool := range result.Tools {
			out = append(out, toolDefinition(tool))
		}
		if result.NextCursor == "" {
			return out, nil
		}
		request.Params.Cursor = result.NextCursor
	}
	return out, nil
}

// withTimeout runs fn under its own deadline. When the deadline fires first
// the step is reported as a KindConnectionTimeout error and a value that
// fn produces late is handed to discard.
func withTimeout[T any](
	ctx context.Context,
	timeout time.Duration,
	step string,
	server string,
	fn func(ctx context.Context) (T, error),
	discard func(T),
) (T, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(stepCtx)
		done <- outcome{value: value, err: err}
	}()

	var zero T
	timedOut := func() error {
		return agent.NewError(agent.KindConnectionTimeout, step, fmt.Errorf("server %q: %s timed out after %s", server, step, timeout))
	}

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return zero, timedOut()
		}
		return out.value, out.err
	case <-stepCtx.Done():
		go func() {
			if out := <-done; out.err == nil && discard != nil {
				discard(out.value)
			}
		}()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, timedOut()
	}
}

func (m *Manager) track(conn *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = conn.Close()
		return errors.New("connection manager is closed")
	}
	m.conns = append(m.conns, conn)
	return nil
}

// Registry returns the registry built by the latest Initialize.
func (m *Manager) Registry() *registry.Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry
}

// CallTool invokes a registered tool by name. Unknown names fail with a
// KindToolNotFound error naming the tool.
func (m *Manager) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	entry, ok := m.Registry().Lookup(name)
	if !ok {
		return "", agent.NewError(agent.KindToolNotFound, "call tool", fmt.Errorf("%w: %q", registry.ErrToolUnregistered, name))
	}
	return entry.Caller.CallTool(ctx, name, arguments)
}

// Execute adapts CallTool to agent.ToolExecutor.
func (m *Manager) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	return m.Registry().Execute(ctx, call)
}

// Connections returns the open connections in connect order.
func (m *Manager) Connections() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, len(m.conns))
	copy(out, m.conns)
	return out
}

// Close closes every connection. It is idempotent and never fails; close
// errors are logged.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := m.conns
	m.conns = nil
	m.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			m.opts.Logger.Warn("tool server close failed", "server", conn.Name(), "error", err)
		}
	}
	return nil
}
