package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nikitaKurtin/dbnd/internal/build"
)

// CmdVersion returns the command that prints the monitor version.
func CmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.Version)
		},
	}
}
