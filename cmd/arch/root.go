package main

import (
	"github.com/spf13/cobra"

	"github.com/archcore/arch/internal/config"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "arch",
		Short:         "Run, lint, and schema-check ARCH execution plans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cfg := config.Load()

	cmd.AddCommand(newRunCmd(cfg))
	cmd.AddCommand(newLintCmd())
	cmd.AddCommand(newSchemaCheckCmd())
	return cmd
}
