package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chorus",
		Short:         "Realtime coordination layer for team messaging",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = Version

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
	)
	return cmd
}
