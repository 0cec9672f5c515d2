package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dnswatch/internal/config"
)

// providerMeta describes a decision service option for the wizard.
type providerMeta struct {
	Name         string
	EnvVar       string
	DefaultModel string
}

var knownProviders = []providerMeta{
	{Name: "openai", EnvVar: "OPENAI_API_KEY", DefaultModel: "gpt-4o"},
	{Name: "ollama", DefaultModel: "llama3.2"},
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: target, provider, notifications, save config",
		Long: `Asks for the hostname to watch, the repository and values file to rewrite,
the decision service and the Teams webhook, then writes the config to --config
or ./dnswatch.yaml. API keys are not written; export them instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = "dnswatch.yaml"
			}
			cfg, err := config.Read(configPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runWizard(cmd.InOrStdin(), cmd.OutOrStdout(), cfg); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfig saved to %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Next: run 'dnswatch doctor', then 'dnswatch run'.")
			return nil
		},
	}
}

// runWizard fills cfg from answers read from in. An empty answer keeps the
// value shown in brackets.
func runWizard(in io.Reader, out io.Writer, cfg *config.Config) error {
	reader := bufio.NewReader(in)
	ask := func(question, def string) (string, error) {
		fmt.Fprint(out, question)
		if def != "" {
			fmt.Fprintf(out, " [%s]", def)
		}
		fmt.Fprint(out, ": ")
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		if s := strings.TrimSpace(line); s != "" {
			return s, nil
		}
		return def, nil
	}

	var err error
	fmt.Fprintln(out, "\n--- Step 1: Target ---")
	if cfg.Target.Hostname, err = ask("Hostname to watch", cfg.Target.Hostname); err != nil {
		return err
	}
	if cfg.Target.Workspace, err = ask("Repository checkout", cfg.Target.Workspace); err != nil {
		return err
	}
	if abs, err := filepath.Abs(cfg.Target.Workspace); err == nil {
		cfg.Target.Workspace = abs
	}
	if _, err := os.Stat(filepath.Join(cfg.Target.Workspace, ".git")); err != nil {
		fmt.Fprintf(out, "  warning: %s does not look like a git checkout\n", cfg.Target.Workspace)
	}
	if cfg.Target.ValuesFile, err = ask("Values file (relative to the checkout)", cfg.Target.ValuesFile); err != nil {
		return err
	}
	if cfg.Target.YAMLKey, err = ask("Dotted key holding the address", cfg.Target.YAMLKey); err != nil {
		return err
	}
	if cfg.Target.Branch, err = ask("Branch to push", cfg.Target.Branch); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 2: Decision service ---")
	for i, p := range knownProviders {
		fmt.Fprintf(out, "  %d) %s", i+1, p.Name)
		if p.EnvVar != "" {
			fmt.Fprintf(out, " (export %s)", p.EnvVar)
		}
		fmt.Fprintln(out)
	}
	defNum := "1"
	for i, p := range knownProviders {
		if p.Name == cfg.Provider.Default {
			defNum = fmt.Sprint(i + 1)
		}
	}
	choice, err := ask(fmt.Sprintf("Choose provider (1-%d)", len(knownProviders)), defNum)
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownProviders) {
		idx = 1
	}
	prov := knownProviders[idx-1]
	cfg.Provider.Default = prov.Name

	endpoint := &cfg.Provider.OpenAI
	if prov.Name == "ollama" {
		endpoint = &cfg.Provider.Ollama
	}
	if endpoint.Model == "" {
		endpoint.Model = prov.DefaultModel
	}
	if endpoint.Model, err = ask("Model", endpoint.Model); err != nil {
		return err
	}
	if endpoint.BaseURL, err = ask("Base URL", endpoint.BaseURL); err != nil {
		return err
	}
	var failover []string
	for _, f := range cfg.Provider.Failover {
		if f != prov.Name {
			failover = append(failover, f)
		}
	}
	cfg.Provider.Failover = failover
	endpoint.APIKey = ""

	fmt.Fprintln(out, "\n--- Step 3: Notifications ---")
	if cfg.Notify.WebhookURL, err = ask("Teams webhook URL (empty to skip)", cfg.Notify.WebhookURL); err != nil {
		return err
	}
	policy, err := ask("Notify on every run or only on change (always/on_change)", cfg.Notify.Policy)
	if err != nil {
		return err
	}
	if policy == "always" || policy == "on_change" {
		cfg.Notify.Policy = policy
	}
	return nil
}
