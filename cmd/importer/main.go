package main

import (
	"os"

	"github.com/spf13/cobra"

	"auction-bulkops/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "importer",
		Short:        "Run bulk listing imports without the HTTP API",
		SilenceUsage: true,
	}
	config.BindFlags(cmd.PersistentFlags())
	cmd.AddCommand(newRunCommand())
	return cmd
}
