package main

import (
	"github.com/spf13/cobra"

	"github.com/reh3376/ignition-tools-sub006/internal/config"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "supctl",
		Short:         "Supervised command execution",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Init()
		},
	}

	root.PersistentFlags().StringVar(&config.ConfigFile, "config", "", "config file (default ~/.supctl/config.toml)")
	root.PersistentFlags().BoolVarP(&config.Verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newStatsCmd())

	return root
}
