package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/webpilot-org/webpilot/internal/build"
	"github.com/webpilot-org/webpilot/internal/cmd"

	_ "github.com/webpilot-org/webpilot/internal/llm/allproviders" // Register LLM providers
)

var rootCmd = &cobra.Command{
	Use:   build.Slug,
	Short: "WebPilot executes natural-language goals against real web pages",
	Long: `WebPilot plans a natural-language goal into a graph of browser
sub-tasks and executes them with concurrent workers sharing one browser
session, under an AI supervisor that recovers from failures.
`,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		switch {
		case errors.Is(err, cmd.ErrInterrupted):
			os.Exit(130)
		case errors.Is(err, cmd.ErrGoalFailed):
			os.Exit(1)
		default:
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "",
		"config file (default is $HOME/.config/webpilot/config.yaml)")

	rootCmd.AddCommand(cmd.CmdRun())
	rootCmd.AddCommand(cmd.CmdHistory())
	rootCmd.AddCommand(cmd.CmdVersion())
}
