package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Gurpartap/reportagent/internal/agentdef"
	"github.com/Gurpartap/reportagent/internal/runtimewire"
)

func (a *app) runCommand() *cobra.Command {
	var (
		agentsDir string
		params    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "run [agents...]",
		Short: "Run agents one after another and print each result as JSON",
		Long: "Run the named agents from the agents directory in order. With no names, " +
			"every agent in the directory runs. A failed run does not stop the others.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := a.load()
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
			selected := defs
			if len(args) > 0 {
				selected = make([]agentdef.Definition, 0, len(args))
				for _, name := range args {
					def, err := agentdef.Find(defs, name)
					if err != nil {
						return err
					}
					selected = append(selected, def)
				}
			}
			if len(selected) == 0 {
				return fmt.Errorf("no agents found in %s", cfg.AgentsDir)
			}

			runtime, err := runtimewire.New(ctx, cfg, logger, a.options...)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			failed := 0
			for _, def := range selected {
				if ctx.Err() != nil {
					break
				}
				result := runtime.Engine.RunAgent(ctx, def.Request(params))
				if !result.Success {
					failed++
				}
				if err := encoder.Encode(result); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(selected))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentsDir, "agents-dir", "", "directory of agent definitions (overrides agents_dir)")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "agent parameter as key=value; repeatable")
	return cmd
}
