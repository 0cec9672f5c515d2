package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dnswatch/internal/config"
	"dnswatch/internal/dns"
	"dnswatch/internal/journal"
	"dnswatch/internal/state"
)

func resolveCmd() *cobra.Command {
	var (
		stabilize bool
		queries   int
		delay     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "resolve [hostname]",
		Short: "Resolve a hostname the way a run does",
		Long:  "Prints the IPv4 answers for hostname (default: target.hostname). With --stabilize it repeats until the answer is stable.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			defer logger.Sync() //nolint:errcheck

			host := cfg.Target.Hostname
			if len(args) == 1 {
				host = args[0]
			}
			if queries <= 0 {
				queries = cfg.Stabilize.Queries
			}
			if delay < 0 {
				delay = cfg.Stabilize.Delay()
			}

			ctx, stop := signalContext()
			defer stop()

			resolver := dns.NewResolver(dns.Options{
				NslookupPath: cfg.Stabilize.NslookupPath,
				Nameserver:   cfg.Stabilize.Nameserver,
				Timeout:      cfg.Stabilize.LookupTimeout,
			}, logger)

			var out any
			if stabilize {
				out = dns.NewStabilizer(resolver, logger).Stabilize(ctx, host, queries, delay)
			} else {
				ips := resolver.Resolve(ctx, host)
				if ips == nil {
					ips = []string{}
				}
				out = map[string]any{"hostname": host, "all_ipv4": ips}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&stabilize, "stabilize", false, "repeat until the answer is stable")
	cmd.Flags().IntVar(&queries, "queries", 0, "consecutive matching answers required (default: stabilize.queries)")
	cmd.Flags().DurationVar(&delay, "delay", -1, "pause between attempts (default: stabilize.delay_sec)")
	return cmd
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show or overwrite the last address acted on",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the stored address (empty when none)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), state.NewFileStore(cfg.State.File).Get())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [ipv4]",
		Short: "Overwrite the stored address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip := strings.TrimSpace(args[0])
			if err := validator.New().Var(ip, "required,ipv4"); err != nil {
				return fmt.Errorf("%q is not an IPv4 address", ip)
			}
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			store := state.NewFileStore(cfg.State.File)
			if err := store.Set(ip); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", store.Path(), ip)
			return nil
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(config.Sanitize(cfg))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Print one value (e.g. provider.default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or show one run with its conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("the run journal is disabled (set journal.enabled: true)")
			}
			logger := newLogger(cfg)
			j, err := journal.Open(cfg.Journal.DBPath, logger)
			if err != nil {
				return err
			}
			defer j.Close()

			if len(args) == 1 {
				run, err := j.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printRun(cmd.OutOrStdout(), *run)
			}
			runs, err := j.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRuns(w io.Writer, runs []journal.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tMODE\tOUTCOME\tCHANGE\tTURNS\tNOTIFIED")
	for _, r := range runs {
		change := "-"
		if r.Changed {
			change = fmt.Sprintf("%s -> %s", orDash(r.PreviousIP), r.NewIP)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%t\n",
			shortID(r.ID), r.StartedAt.Local().Format(time.DateTime), r.Mode, r.Outcome, change, r.Turns, r.Notified)
	}
	return tw.Flush()
}

func printRun(w io.Writer, r journal.Run) error {
	fmt.Fprintf(w, "Run %s (%s) for %s\n", r.ID, r.Mode, r.Hostname)
	fmt.Fprintf(w, "  started  %s, took %s\n", r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  outcome  %s after %d turn(s), %d tool call(s)\n", r.Outcome, r.Turns, r.ToolCalls)
	if r.Provider != "" {
		fmt.Fprintf(w, "  provider %s\n", r.Provider)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  error    %s\n", r.Error)
	}
	fmt.Fprintf(w, "\n%s\n", r.Final)

	for i, m := range r.Messages {
		fmt.Fprintf(w, "\n[%d] %s", i, m.Role)
		if m.ToolName != "" {
			fmt.Fprintf(w, " %s (%s)", m.ToolName, m.ToolCallID)
		}
		fmt.Fprintln(w)
		if m.Content != "" {
			fmt.Fprintln(w, indent(m.Content))
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			fmt.Fprintf(w, "    -> %s %s (%s)\n", tc.Name, args, tc.ID)
		}
	}
	return nil
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n    ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
