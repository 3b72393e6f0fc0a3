package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "panelgate",
	Short: "panelgate is a TOTP-gated proxy for hosting control panels",
	Long: `A credential broker that keeps panel API keys encrypted at rest, gates
access behind a TOTP second factor, and signs and forwards requests to
bt, 1panel and generic bearer-token panels.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PANELGATE_CONFIG"),
		"Path to the YAML configuration file (default: built-in defaults)")
}
