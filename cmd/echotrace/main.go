// Command echotrace recovers encrypted chat databases and obfuscated
// media caches into plain, openable files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ycccccccy/echotrace-sub001/internal/client"
	"github.com/ycccccccy/echotrace-sub001/internal/config"
	"github.com/ycccccccy/echotrace-sub001/internal/events"
)

var rootCmd = &cobra.Command{
	Use:   "echotrace",
	Short: "Recover encrypted chat artifacts",
	Long: `Echotrace decrypts page-encrypted chat databases and obfuscated
media caches, verifies the results and installs them, replacing
originals that are still held open when asked to.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp()
	},
}

var (
	cfgFile    string
	logLevel   string
	jsonOutput bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file path (default: echotrace.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output results as JSON")
}

// initApp loads config and wires the client. Runs once per invocation
// from the root PersistentPreRunE.
func initApp() error {
	var err error

	cfg, err = config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	return initClient()
}

// initClient builds the client from the current config. Commands that
// override config values call it again.
func initClient() error {
	var err error
	apiClient, err = client.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
