package cmd

import (
	"fmt"
	"os"

	"github.com/iksnae/review-sweep/internal"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "review-sweep",
	Short: "Sweep editorial platforms and reconcile their timelines with your mailbox",
	Long: `Extract work items from peer-review platforms and reconcile each
item's activity log with the messages in your mailbox.

A sweep logs in to every configured platform (answering a second-factor
challenge when asked), lists the items in the chosen categories, extracts
each item in several passes and writes one record per item with a merged,
deduplicated timeline. Pass results are cached, so an interrupted sweep
resumes where it stopped.

Quick Start:
  review-sweep healthcheck               # Check config, credentials and store
  review-sweep run                       # Sweep every configured platform
  review-sweep items                     # Show per-item progress
  review-sweep cache status              # Show cached pass results`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: config.yaml in the user config dir)")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// loadConfig reads the config named by --config, or the default one,
// and fills the locations the file leaves empty from the platform paths.
func loadConfig() (*internal.Config, error) {
	paths, pathsErr := internal.DetectPaths()

	path := configPath
	if path == "" {
		if pathsErr != nil {
			return nil, fmt.Errorf("failed to locate config: %w", pathsErr)
		}
		path = paths.ConfigPath()
	}
	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if !verbose {
		if level, err := internal.ParseLogLevel(cfg.LogLevel); err == nil {
			internal.SetLogLevel(level)
		}
	}
	if cfg.StorePath == "" {
		if pathsErr != nil {
			return nil, fmt.Errorf("store_path not set and no default: %w", pathsErr)
		}
		cfg.StorePath = paths.StateDBPath()
	}
	if cfg.Output.Dir == "" && pathsErr == nil {
		cfg.Output.Dir = paths.RecordsDir
	}
	if cfg.EnvFile == "" && pathsErr == nil {
		if _, err := os.Stat(paths.EnvFilePath()); err == nil {
			cfg.EnvFile = paths.EnvFilePath()
		}
	}
	internal.LogDebug("Loaded config %s (%d platforms, store %s)", path, len(cfg.Platforms), cfg.StorePath)
	return cfg, nil
}
