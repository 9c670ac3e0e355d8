// Package cli implements the reportagent command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Gurpartap/reportagent/internal/config"
	"github.com/Gurpartap/reportagent/internal/runtimewire"
)

type globalFlags struct {
	configPath string
	verbose    bool
	logJSON    bool
}

type app struct {
	flags   globalFlags
	stdout  io.Writer
	stderr  io.Writer
	options []runtimewire.Option
}

// Execute runs the command line with args (without the program name).
// Runtime options are passed to the runtime of every command.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...runtimewire.Option) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if ctx == nil {
		ctx = context.Background()
	}

	a := &app{stdout: stdout, stderr: stderr, options: opts}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "reportagent",
		Short:         "Run report agents against configured tool servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.flags.configPath, "config", "c", os.Getenv("REPORTAGENT_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "log at debug level")
	root.PersistentFlags().BoolVar(&a.flags.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(a.runCommand(), a.toolsCommand(), a.agentsCommand())
	return root
}

// load reads the configuration and builds the logger it asks for.
func (a *app) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	level, err := config.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if a.flags.verbose {
		level = slog.LevelDebug
	}
	if a.flags.logJSON {
		cfg.Log.Format = config.LogFormatJSON
	}
	return cfg, newLogger(a.stderr, level, cfg.Log.Format), nil
}
