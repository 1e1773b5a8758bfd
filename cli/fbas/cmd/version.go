package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fbas-tools/analyzer/internal/debug"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "prints the version of the analyzer",
		// the base command initializes configuration, version needs none
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), debug.Version())
		},
	}
}
