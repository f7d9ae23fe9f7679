package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/webpilot-org/webpilot/internal/store"
)

// CmdHistory creates the history command, listing past executions from
// the result log.
func CmdHistory() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent goal executions from the result log",
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, err := setup(c)
			if err != nil {
				return err
			}
			return runHistory(ctx)
		},
		SilenceUsage: true,
	}
	cmd.Flags().Int("limit", 20, "maximum executions to list")
	return cmd
}

func runHistory(ctx *Context) error {
	path := ctx.Config.Store.Path
	if path == "" {
		return fmt.Errorf("no result log configured; set store.path")
	}
	log, err := store.Open(path)
	if err != nil {
		return err
	}
	defer log.Close()

	limit, _ := ctx.Command.Flags().GetInt("limit")
	execs, err := log.Executions(ctx, limit)
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		ctx.Command.Println("no executions recorded")
		return nil
	}

	for _, rec := range execs {
		status := "FAILED"
		if rec.Success {
			status = "OK"
		}
		ctx.Command.Printf("%s  %-6s  conf=%.2f  %s  %s\n",
			rec.StartedAt.Format(time.RFC3339),
			status,
			rec.Confidence,
			rec.ExecutionID,
			rec.Goal,
		)
	}
	return nil
}
