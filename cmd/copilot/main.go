package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencopilot/copilot/internal/config"
	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "copilot",
		Short:         "Copilot chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (defaults are used when empty)")

	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newReindexCmd(&cfgPath))
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig reads and validates the config, then configures logging.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Parse(nil)
	if path != "" {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	xlog.Reconfigure(xlog.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: "copilot"})
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get())
		},
	}
}
