package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/diffuse/internal/config"
	"github.com/aretw0/diffuse/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "diffuse",
	Short: "Diffuse previews the forward process of diffusion models",
	Long: `Diffuse adds Gaussian noise to an image step by step, following a linear or cosine
beta schedule. Use it from the command line or run it as an HTTP/WebSocket server.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")
}

// boundFlags maps config keys to the flags that may override them. Commands that do
// not define a flag simply skip its binding.
var boundFlags = map[string]string{
	"log_level":  "log-level",
	"log_format": "log-format",
	"addr":       "addr",
}

// loadConfig resolves the configuration: defaults, file, DIFFUSE_* variables, then flags.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	v := config.NewViper()
	for key, name := range boundFlags {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return config.Config{}, nil, fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	return cfg, logging.New(level, cfg.LogFormat), nil
}
