package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is the released version of localize-assets.
const version = "v0.1.0"

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of localize-assets",
		Long:  `Display the current version of the app.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "localize-assets", version)
		},
	}
}
