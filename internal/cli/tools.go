package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Gurpartap/reportagent/internal/runtimewire"
	"github.com/Gurpartap/reportagent/tooling/dispatch"
)

type toolListing struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
}

type failureListing struct {
	Server  string `json:"server"`
	Error   string `json:"error"`
	Warning bool   `json:"warning,omitempty"`
}

func (a *app) toolsCommand() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Connect to the configured tool servers and list every available tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			runtime, err := runtimewire.New(ctx, cfg, logger, a.options...)
			if err != nil {
				return err
			}
			session, err := runtime.Tools.OpenSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = session.Close() }()

			var tools []toolListing
			for _, def := range session.Definitions() {
				source := "builtin"
				if route := session.Resolve(def.Name); route.Kind == dispatch.RouteRemote {
					source = route.Server
				}
				tools = append(tools, toolListing{Name: def.Name, Source: source, Description: def.Description})
			}
			var failures []failureListing
			for _, failure := range session.Init().Failures {
				failures = append(failures, failureListing{
					Server:  failure.Server,
					Error:   failure.Err.Error(),
					Warning: failure.Warning,
				})
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(struct {
					Tools    []toolListing    `json:"tools"`
					Failures []failureListing `json:"failures,omitempty"`
				}{Tools: tools, Failures: failures})
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSOURCE\tDESCRIPTION")
			for _, tool := range tools {
				fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name, tool.Source, tool.Description)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			for _, failure := range failures {
				label := "failed"
				if failure.Warning {
					label = "warning"
				}
				fmt.Fprintf(out, "%s: %s: %s\n", label, failure.Server, failure.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the listing as JSON")
	return cmd
}
