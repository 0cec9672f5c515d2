package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dnswatch/internal/config"
	"dnswatch/internal/logging"
)

var (
	version    = "0.1.0"
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "dnswatch",
		Short: "Watch a hostname and roll its address into a deployment repo",
		Long: `dnswatch resolves a hostname until its IPv4 answer is stable, compares it with
the last address it acted on, rewrites the values file, pushes the change and
notifies Teams. By default a language model drives the steps through tools;
--direct runs them in a fixed order.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to dnswatch.yaml (default: ./dnswatch.yaml or ~/.dnswatch/dnswatch.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(runCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(stateCmd())
	root.AddCommand(configCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(initCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration. Commands that only touch part of it
// pass strict=false so an incomplete file does not block them.
func loadConfig(strict bool) (*config.Config, error) {
	load := config.Read
	if strict {
		load = config.Load
	}
	cfg, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	return logging.New(cfg.Log)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dnswatch version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "dnswatch", version)
		},
	}
}
