package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"mediadrop/infrastructure/config"
	"mediadrop/infrastructure/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	cfg         *config.Config
	verbose     bool
	metricsFile string
	registry    = prometheus.NewRegistry()
)

var rootCmd = &cobra.Command{
	Use:   "mediadrop",
	Short: "Store project media in cold storage, Dropbox or Google Drive",
	Long: `mediadrop uploads project media to one of several storage backends and
keeps folders, previews and thumbnails consistent across them:

  - Cold storage: an S3-compatible bucket, one key prefix per user or tenant
  - Dropbox: a folder tree under the app root with public shared links
  - Google Drive: a folder per project shared with anyone holding the link

Example:
  mediadrop upload --user u1 --provider dropbox --name "Beach Day" photos/*.jpg`,
	SilenceUsage: true,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if metricsFile == "" {
			return nil
		}
		return metrics.WriteTextfile(metricsFile, registry)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, Failure(err.Error()))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write storage metrics in Prometheus text format to this file on exit")
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = config.DefaultPath
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		// Config file is optional for some commands (like help and setup)
		// Commands that need config will check and error appropriately
		cfg = nil
	}
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	return cfg
}

// requireConfig returns the loaded configuration or explains how to create one
func requireConfig() (*config.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config file not found at %s. Run 'mediadrop setup' first", cfgFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s:\n%w", cfgFile, err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to stderr so command output
// stays pipeable.
func newLogger(c *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if c != nil {
		if l, err := config.ParseLevel(c.LogLevel); err == nil {
			level = l
		}
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
