package main

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show resolved configuration",
	Long: `Print every setting with the layer it came from (default, config file,
environment, or flag). API keys are masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeJSON(cmd, cfg.Redacted())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
