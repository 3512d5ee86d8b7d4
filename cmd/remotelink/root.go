package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Shared state set during PersistentPreRun
	cfg *Config
)

// rootCmd is the base command for remotelink.
var rootCmd = &cobra.Command{
	Use:   "remotelink",
	Short: "Secure RSA-authenticated link between a controller and a controlled host",
	Long: `remotelink opens an authenticated, encrypted TCP channel between two hosts.
One side serves, the other connects directly or through a NAT hole punched with
STUN. Every message is encrypted with RSA-OAEP, checksummed and timestamped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = DefaultPath()
		}
		var err error
		cfg, err = Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		return configureLogging(cfg.Log.Level, cfg.Log.Format)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// RootCmd returns the root cobra.Command for testing purposes.
func RootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.remotelink/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default \"info\")")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json (default \"text\")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(natCmd)
}
