package main

import (
	"fmt"
	"os"

	"github.com/fractal-lba/banditd/internal/config"
	"github.com/fractal-lba/banditd/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configFile string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "banditd",
		Short: "Contextual bandit decision service",
		Long: `banditd serves action selections from a DoublyRobust and an OffsetTree
contextual bandit per domain, learns from reward feedback and compares the
two algorithms head to head.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(replayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig applies the --log-level override on top of file and env config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
