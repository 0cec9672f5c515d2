package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dnswatch/internal/agent"
	"dnswatch/internal/config"
	"dnswatch/internal/dns"
	"dnswatch/internal/domain"
	"dnswatch/internal/journal"
	"dnswatch/internal/metrics"
	"dnswatch/internal/notify"
	"dnswatch/internal/provider"
	"dnswatch/internal/publish"
	"dnswatch/internal/state"
	"dnswatch/internal/tool"
	"dnswatch/internal/workflow"
)

const journalWriteTimeout = 10 * time.Second

// app holds the components shared by the run and watch commands.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	stabilizer metrics.Stabilizer
	state      *state.FileStore
	publisher  publish.Publisher
	notifier   *notify.Teams
	metrics    *metrics.Collector
	journal    *journal.Store
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	m := metrics.New()
	resolver := dns.NewResolver(dns.Options{
		NslookupPath: cfg.Stabilize.NslookupPath,
		Nameserver:   cfg.Stabilize.Nameserver,
		Timeout:      cfg.Stabilize.LookupTimeout,
	}, logger)

	a := &app{
		cfg:        cfg,
		logger:     logger,
		stabilizer: m.InstrumentStabilizer(dns.NewStabilizer(resolver, logger)),
		state:      state.NewFileStore(cfg.State.File),
		publisher:  newPublisher(cfg, logger),
		notifier: notify.NewTeams(notify.Config{
			URL:        cfg.Notify.WebhookURL,
			Timeout:    cfg.Notify.Timeout,
			ThemeColor: cfg.Notify.ThemeColor,
		}, logger),
		metrics: m,
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		a.journal = j
	}
	return a, nil
}

func newPublisher(cfg *config.Config, logger *zap.Logger) publish.Publisher {
	if cfg.Publish.Backend == "gogit" {
		return publish.NewGoGit(publish.GoGitOptions{
			Dir:         cfg.Target.Workspace,
			Remote:      cfg.Publish.Remote,
			AuthorName:  cfg.Publish.AuthorName,
			AuthorEmail: cfg.Publish.AuthorEmail,
			Token:       cfg.Publish.Token,
			Timeout:     cfg.Publish.Timeout,
		}, logger)
	}
	return publish.NewGit(publish.GitOptions{
		Dir:     cfg.Target.Workspace,
		Remote:  cfg.Publish.Remote,
		Binary:  cfg.Publish.GitBinary,
		Timeout: cfg.Publish.Timeout,
	}, logger)
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("close journal", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func (a *app) runParams() agent.RunParams {
	return agent.RunParams{
		Hostname:          a.cfg.Target.Hostname,
		ValuesFile:        a.cfg.Target.ValuesFile,
		YAMLKey:           a.cfg.Target.YAMLKey,
		Branch:            a.cfg.Target.Branch,
		StabilizeQueries:  a.cfg.Stabilize.Queries,
		StabilizeDelaySec: a.cfg.Stabilize.DelaySec,
	}
}

// newLoop wires the tool registry and the decision service into an
// orchestration loop.
func (a *app) newLoop() (*agent.Loop, string, error) {
	registry := tool.NewWatchRegistry(tool.Dependencies{
		Workspace:  a.cfg.Target.Workspace,
		Branch:     a.cfg.Target.Branch,
		Stabilizer: a.stabilizer,
		State:      a.state,
		Publisher:  a.publisher,
		Notifier:   a.notifier,
	}, a.logger)
	registry.OnDispatch(a.metrics.ObserveDispatch)

	retrier := provider.NewRetrierFromConfig(a.cfg.Retry, a.logger)
	retrier.OnRetry(a.metrics.ObserveRetry)
	retrier.OnGiveUp(a.metrics.ObserveGiveUp)

	prov, err := provider.NewFactory(a.cfg.Provider, retrier, a.logger).Build()
	if err != nil {
		return nil, "", err
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:    prov,
		Tools:       registry,
		Notifier:    a.notifier,
		Params:      a.runParams(),
		MaxTurns:    a.cfg.Agent.MaxTurns,
		MaxTokens:   a.cfg.Provider.MaxTokens,
		Temperature: a.cfg.Provider.Temperature,
		RunTimeout:  a.cfg.Agent.RunTimeout,
		RateLimiter: agent.NewRateLimiter(a.cfg.Agent.Burst, a.cfg.Agent.RatePerMinute),
		Logger:      a.logger,
	})
	loop.OnDecision(a.metrics.ObserveDecision)
	loop.OnFinish(func(ctx context.Context, _ agent.RunParams, res agent.RunResult) {
		r := agentJournalRun(a.cfg.Target.Hostname, prov.Name(), res)
		a.metrics.ObserveRun(journal.ModeAgent, string(res.Outcome), r.Changed, res.FinishedAt)
		a.record(ctx, r)
	})
	return loop, prov.Name(), nil
}

func (a *app) newPipeline() *workflow.Pipeline {
	return workflow.New(workflow.Params{
		Hostname:     a.cfg.Target.Hostname,
		ValuesFile:   a.cfg.Target.ValuesFile,
		YAMLKey:      a.cfg.Target.YAMLKey,
		Branch:       a.cfg.Target.Branch,
		Queries:      a.cfg.Stabilize.Queries,
		Delay:        a.cfg.Stabilize.Delay(),
		NotifyPolicy: a.cfg.Notify.Policy,
	}, workflow.Deps{
		Workspace:  a.cfg.Target.Workspace,
		Stabilizer: a.stabilizer,
		State:      a.state,
		Publisher:  a.publisher,
		Notifier:   a.notifier,
	}, a.logger)
}

// runDirect executes the fixed pipeline and records it like an agent run.
func (a *app) runDirect(ctx context.Context, runID string) workflow.Report {
	started := time.Now()
	rep := a.newPipeline().Run(ctx)
	finished := time.Now()

	outcome := "done"
	if rep.Failed() {
		outcome = "failed_" + string(rep.FailedStep)
	}
	a.metrics.ObserveRun(journal.ModeDirect, outcome, rep.Changed && rep.Persisted, finished)
	a.record(ctx, journal.Run{
		ID:         runID,
		Mode:       journal.ModeDirect,
		Hostname:   rep.Hostname,
		Outcome:    outcome,
		Final:      rep.Summary,
		Error:      rep.Error,
		PreviousIP: rep.PreviousIP,
		NewIP:      rep.NewIP,
		Changed:    rep.Changed && rep.Persisted,
		Notified:   rep.Notified,
		StartedAt:  started,
		FinishedAt: finished,
	})
	return rep
}

// record writes r to the journal when one is configured. The write is
// detached from ctx so an interrupted run is still recorded.
func (a *app) record(ctx context.Context, r journal.Run) {
	if a.journal == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalWriteTimeout)
	defer cancel()
	if err := a.journal.RecordRun(wctx, r); err != nil {
		a.logger.Warn("journal write failed", zap.String("run_id", r.ID), zap.Error(err))
	}
}

func (a *app) flushMetrics() {
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("write metrics textfile", zap.String("path", a.cfg.Metrics.Textfile), zap.Error(err))
	}
}

// agentJournalRun derives a journal entry from a finished agent run. The
// address and change flag come from the tool calls the run made.
func agentJournalRun(hostname, providerName string, res agent.RunResult) journal.Run {
	r := journal.Run{
		ID:         res.RunID,
		Mode:       journal.ModeAgent,
		Hostname:   hostname,
		Provider:   providerName,
		Outcome:    string(res.Outcome),
		Final:      res.Final,
		Notified:   res.Notified,
		Turns:      res.Turns,
		ToolCalls:  res.ToolCalls,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Messages:   res.Messages,
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}

	for _, m := range res.Messages {
		for _, tc := range m.ToolCalls {
			if tc.Name == "set_last_ip" {
				if ip, ok := tc.Arguments["ip"].(string); ok {
					r.NewIP = ip
				}
			}
		}
		if m.Role != domain.RoleTool {
			continue
		}
		switch m.ToolName {
		case "get_last_ip":
			var last struct {
				IP string `json:"ip"`
			}
			if r.PreviousIP == "" && json.Unmarshal([]byte(m.Content), &last) == nil {
				r.PreviousIP = last.IP
			}
		case "git_commit_push":
			var pr domain.PublishResult
			if json.Unmarshal([]byte(m.Content), &pr) == nil && pr.Pushed {
				r.Changed = true
			}
		}
	}
	return r
}
