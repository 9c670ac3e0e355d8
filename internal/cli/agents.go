package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Gurpartap/reportagent/internal/agentdef"
)

func (a *app) agentsCommand() *cobra.Command {
	var agentsDir string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agent definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(agentsDir) != "" {
				cfg.AgentsDir = agentsDir
			}
			defs, err := agentdef.LoadDir(cfg.AgentsDir)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, def := range defs {
				fmt.Fprintf(w, "%s\t%s\n", def.Name, def.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&agentsDir, "agents-dir", "", "directory of agent definitions (overrides agents_dir)")
	return cmd
}
