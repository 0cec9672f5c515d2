package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dnswatch/internal/config"
	"dnswatch/internal/journal"
	"dnswatch/internal/mutate"
	"dnswatch/internal/provider"
)

const doctorProbeTimeout = 10 * time.Second

type checkList struct {
	w                      io.Writer
	passed, warned, failed int
}

func (c *checkList) pass(check, detail string) {
	fmt.Fprintf(c.w, "  [PASS] %-16s %s\n", check, detail)
	c.passed++
}

func (c *checkList) warn(check, detail string) {
	fmt.Fprintf(c.w, "  [WARN] %-16s %s\n", check, detail)
	c.warned++
}

func (c *checkList) fail(check, detail string) {
	fmt.Fprintf(c.w, "  [FAIL] %-16s %s\n", check, detail)
	c.failed++
}

func doctorCmd() *cobra.Command {
	var skipProvider bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that a run has what it needs",
		Long: `Verifies the configuration, the workspace repository, the values file,
the state file, the decision service and the journal. Reports pass, warn or
fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dnswatch doctor %s\n\n", version)
			c := &checkList{w: out}

			cfg, err := loadConfig(false)
			if err != nil {
				c.fail("Config", err.Error())
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			if err := config.Validate(cfg); err != nil {
				c.fail("Config", err.Error())
			} else {
				c.pass("Config", "valid")
			}

			checkWorkspace(c, cfg)
			checkValuesFile(c, cfg)
			checkStateFile(c, cfg)

			if cfg.Notify.WebhookURL == "" {
				c.warn("Teams webhook", "not configured; notifications are skipped")
			} else {
				c.pass("Teams webhook", "configured")
			}

			if !skipProvider {
				checkProvider(cmd.Context(), c, cfg)
			}

			if cfg.Journal.Enabled {
				if j, err := journal.Open(cfg.Journal.DBPath, zap.NewNop()); err != nil {
					c.fail("Journal", err.Error())
				} else {
					j.Close()
					c.pass("Journal", cfg.Journal.DBPath)
				}
			}

			fmt.Fprintf(out, "\nResults: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
			if c.failed > 0 {
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipProvider, "skip-provider", false, "do not contact the decision service")
	return cmd
}

func checkWorkspace(c *checkList, cfg *config.Config) {
	repo, err := git.PlainOpenWithOptions(cfg.Target.Workspace, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		c.fail("Workspace", fmt.Sprintf("%s is not a git repository: %v", cfg.Target.Workspace, err))
		return
	}
	if _, err := repo.Remote(cfg.Publish.Remote); err != nil {
		c.fail("Workspace", fmt.Sprintf("remote %q: %v", cfg.Publish.Remote, err))
		return
	}
	head, err := repo.Head()
	if err != nil {
		c.warn("Workspace", fmt.Sprintf("no HEAD: %v", err))
		return
	}
	if head.Name().Short() != cfg.Target.Branch {
		c.warn("Workspace", fmt.Sprintf("checked out %s, pushes go to %s", head.Name().Short(), cfg.Target.Branch))
		return
	}
	c.pass("Workspace", cfg.Target.Workspace)
}

func checkValuesFile(c *checkList, cfg *config.Config) {
	path := cfg.Target.ValuesFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Target.Workspace, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.fail("Values file", err.Error())
		return
	}
	if cfg.Target.YAMLKey == "" {
		c.warn("Values file", fmt.Sprintf("%s: no target.yaml_key set; runs replace the address literally", path))
		return
	}
	if !mutate.HasKey(string(data), cfg.Target.YAMLKey) {
		c.warn("Values file", fmt.Sprintf("%s has no key %s; runs fall back to replacing the address literally", path, cfg.Target.YAMLKey))
		return
	}
	c.pass("Values file", path)
}

func checkStateFile(c *checkList, cfg *config.Config) {
	dir := filepath.Dir(cfg.State.File)
	f, err := os.CreateTemp(dir, ".dnswatch-doctor-*")
	if err != nil {
		c.fail("State file", fmt.Sprintf("%s is not writable: %v", dir, err))
		return
	}
	f.Close()
	os.Remove(f.Name())
	c.pass("State file", cfg.State.File)
}

func checkProvider(ctx context.Context, c *checkList, cfg *config.Config) {
	retrier := provider.NewRetrierFromConfig(config.RetryConfig{MaxAttempts: 1}, zap.NewNop())
	prov, err := provider.NewFactory(cfg.Provider, retrier, zap.NewNop()).Build()
	if err != nil {
		c.fail("Provider", err.Error())
		return
	}
	pctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()
	if err := prov.Healthy(pctx); err != nil {
		c.fail("Provider", fmt.Sprintf("%s: %v", prov.Name(), err))
		return
	}
	c.pass("Provider", prov.Name())
}
