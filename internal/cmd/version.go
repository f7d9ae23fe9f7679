package cmd

import (
	"github.com/spf13/cobra"

	"github.com/webpilot-org/webpilot/internal/build"
)

// CmdVersion creates the version command.
func CmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the binary version",
		Run: func(c *cobra.Command, _ []string) {
			c.Println(build.Version)
		},
	}
}
