package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvimtools/copilot-agent/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "copilot-agent version %s\n", version.Version)
		},
	}
}
