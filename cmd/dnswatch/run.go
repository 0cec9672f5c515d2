package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dnswatch/internal/agent"
)

func runCmd() *cobra.Command {
	var direct bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the watch workflow once",
		Long: `Runs the workflow once and prints the final answer. The exit status is
non-zero when the run did not finish, so cron and CI can alert on it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			run, err := a.runner(direct, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			err = run(ctx)
			a.flushMetrics()
			return err
		},
	}
	cmd.Flags().BoolVar(&direct, "direct", false, "run the steps in a fixed order without the decision service")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		direct   bool
		interval time.Duration
		maxRuns  int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the workflow on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			run, err := a.runner(direct, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			w := agent.NewWatch(agent.WatchConfig{
				Interval: interval,
				MaxRuns:  maxRuns,
				Logger:   a.logger,
			}, func(ctx context.Context) {
				if err := run(ctx); err != nil {
					a.logger.Warn("run did not finish", zap.Error(err))
				}
				a.flushMetrics()
			})
			w.Start(ctx)
			return nil
		},
	}
	cmd.Flags().BoolVar(&direct, "direct", false, "run the steps in a fixed order without the decision service")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "time between runs")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "stop after this many runs (0 = until interrupted)")
	return cmd
}

func bootstrap() (*app, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, newLogger(cfg))
}

// runner returns a function performing one run and printing its final
// answer to out.
func (a *app) runner(direct bool, out io.Writer) (func(context.Context) error, error) {
	if direct {
		return func(ctx context.Context) error {
			rep := a.runDirect(ctx, uuid.NewString())
			fmt.Fprintln(out, rep.Summary)
			if rep.Failed() {
				return fmt.Errorf("step %s failed: %s", rep.FailedStep, rep.Error)
			}
			return nil
		}, nil
	}

	loop, providerName, err := a.newLoop()
	if err != nil {
		return nil, fmt.Errorf("decision service: %w", err)
	}
	a.logger.Debug("decision service ready", zap.String("provider", providerName))
	return func(ctx context.Context) error {
		res := loop.Run(ctx)
		fmt.Fprintln(out, res.Final)
		if res.Outcome != agent.OutcomeDone {
			return fmt.Errorf("run %s ended with outcome %s", res.RunID, res.Outcome)
		}
		return nil
	}, nil
}
