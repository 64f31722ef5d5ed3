package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
)

var (
	// Command-line flags
	configFile string
	serverPort int
	serverHost string

	// Global state shared by the subcommands
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "cognatio",
	Short: "Knowledge graph service",
	Long:  `Cognatio ingests documents into an ontology-partitioned knowledge graph and serves queries, artifacts and administration over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Startup sequence: config (defaults -> file -> env -> flags),
		// then logger, then banner
		path := configFile
		if path == "" {
			if _, err := os.Stat("cognatio.toml"); err == nil {
				path = "cognatio.toml"
			}
		}

		var err error
		config, err = common.LoadFromFile(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		common.ApplyFlagOverrides(config, serverPort, serverHost)

		logger = common.InitLogger(config)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
