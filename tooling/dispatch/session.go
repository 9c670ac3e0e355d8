package dispatch

import (
	"context"
	"log/slog"

	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/tooling/servers"
)

// Session is the tool surface of one run: the built-in tools plus every
// tool server that connected.
type Session struct {
	*Dispatcher
	manager *servers.Manager
	init    servers.InitResult
}

var _ agent.ToolSession = (*Session)(nil)

// Init reports how the tool servers of this session connected.
func (s *Session) Init() servers.InitResult {
	return s.init
}

// Close disconnects every tool server of the session.
func (s *Session) Close() error {
	return s.manager.Close()
}

// Factory opens a Session per run. Servers that fail to connect are logged
// and left out; opening never fails because of them.
type Factory struct {
	Local   Local
	Servers []servers.Config
	Options servers.Options
	Logger  *slog.Logger
}

var _ agent.ToolSessionFactory = (*Factory)(nil)

func (f *Factory) Open(ctx context.Context) (agent.ToolSession, error) {
	return f.OpenSession(ctx)
}

// OpenSession is Open with the concrete session type.
func (f *Factory) OpenSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts := f.Options
	if opts.Logger == nil {
		opts.Logger = logger
	}

	manager := servers.NewManager(opts)
	init := manager.Initialize(ctx, f.Servers)
	for _, failure := range init.Failures {
		if failure.Warning {
			continue
		}
		logger.WarnContext(ctx, "tool server unavailable for run", "server", failure.Server, "error", failure.Err)
	}
	logger.InfoContext(ctx, "tool servers initialized",
		"succeeded", init.Succeeded,
		"failed", init.Failed,
		"tools", init.Registry.Len(),
	)

	return &Session{
		Dispatcher: New(f.Local, init.Registry),
		manager:    manager,
		init:       init,
	}, nil
}
