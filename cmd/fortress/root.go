package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "fortress",
	Short: "Fortress scores URLs, messages and networks for fraud risk",
	Long: `Fortress combines local heuristics with external reputation and
network telemetry sources into bounded, explainable risk scores. It serves
an HTTP API for browser extensions and apps and can run the same checks
from the command line.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file (defaults are used when the file is absent)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Environment files loaded before the config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanURLCmd)
	rootCmd.AddCommand(checkTextCmd)
	rootCmd.AddCommand(wifiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Fortress %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
	},
}
