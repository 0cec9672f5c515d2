// Package workflow runs the DNS watch steps in a fixed order without a
// decision service: stabilize, compare, mutate, publish, persist, notify.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"dnswatch/internal/domain"
	"dnswatch/internal/mutate"
)

// Step names a stage of the pipeline.
type Step string

const (
	StepStabilize Step = "stabilize"
	StepCompare   Step = "compare"
	StepMutate    Step = "mutate"
	StepPublish   Step = "publish"
	StepPersist   Step = "persist"
	StepNotify    Step = "notify"
)

// Notification policies.
const (
	NotifyAlways   = "always"
	NotifyOnChange = "on_change"
)

type Stabilizer interface {
	Stabilize(ctx context.Context, host string, requiredMatches int, delay time.Duration) domain.StabilizationOutcome
}

type StateStore interface {
	Get() string
	Set(ip string) error
}

type Publisher interface {
	CommitAndPush(ctx context.Context, branch, message string) (domain.PublishResult, error)
}

type Notifier interface {
	Send(ctx context.Context, title, text string) domain.NotifyResult
}

// Params are the inputs of one pipeline run.
type Params struct {
	Hostname     string
	ValuesFile   string
	YAMLKey      string
	Branch       string
	Queries      int
	Delay        time.Duration
	NotifyPolicy string
}

// Report describes what a run did. FailedStep is empty on success.
type Report struct {
	Hostname      string
	Stabilization domain.StabilizationOutcome
	PreviousIP    string
	NewIP         string
	Changed       bool
	Mutation      string
	Publish       domain.PublishResult
	Persisted     bool
	Notify        domain.NotifyResult
	Notified      bool
	FailedStep    Step
	Error         string
	Summary       string
}

func (r Report) Failed() bool { return r.FailedStep != "" }

// Pipeline wires the components the steps delegate to.
type Pipeline struct {
	params     Params
	workspace  string
	stabilizer Stabilizer
	state      StateStore
	publisher  Publisher
	notifier   Notifier
	logger     *zap.Logger
}

// Deps are the components a Pipeline runs against.
type Deps struct {
	Workspace  string
	Stabilizer Stabilizer
	State      StateStore
	Publisher  Publisher
	Notifier   Notifier
}

func New(params Params, deps Deps, logger *zap.Logger) *Pipeline {
	if params.NotifyPolicy == "" {
		params.NotifyPolicy = NotifyAlways
	}
	return &Pipeline{
		params:     params,
		workspace:  deps.Workspace,
		stabilizer: deps.Stabilizer,
		state:      deps.State,
		publisher:  deps.Publisher,
		notifier:   deps.Notifier,
		logger:     logger.Named("workflow").With(zap.String("hostname", params.Hostname)),
	}
}

// Run executes the steps in order and always ends with a notification
// decision and a summary, whichever step failed.
func (p *Pipeline) Run(ctx context.Context) Report {
	rep := Report{Hostname: p.params.Hostname}
	p.execute(ctx, &rep)
	rep.Summary = summarize(rep)

	if p.shouldNotify(rep) {
		rep.Notify = p.notifier.Send(ctx, title(rep), rep.Summary)
		rep.Notified = rep.Notify.Sent
		if !rep.Notify.Sent {
			p.logger.Warn("notification not sent", zap.String("reason", rep.Notify.Reason), zap.String("error", rep.Notify.Error))
		}
	}

	fields := []zap.Field{
		zap.Bool("changed", rep.Changed),
		zap.String("previous_ip", rep.PreviousIP),
		zap.String("new_ip", rep.NewIP),
		zap.Bool("pushed", rep.Publish.Pushed),
		zap.Bool("notified", rep.Notified),
	}
	if rep.Failed() {
		p.logger.Error("pipeline failed", append(fields, zap.String("step", string(rep.FailedStep)), zap.String("error", rep.Error))...)
	} else {
		p.logger.Info("pipeline finished", fields...)
	}
	return rep
}

func (p *Pipeline) execute(ctx context.Context, rep *Report) {
	rep.Stabilization = p.stabilizer.Stabilize(ctx, p.params.Hostname, p.params.Queries, p.params.Delay)
	switch {
	case rep.Stabilization.Primary == "":
		p.fail(rep, StepStabilize, fmt.Errorf("no IPv4 answer for %s after %d attempts", p.params.Hostname, rep.Stabilization.Attempts))
		return
	case !rep.Stabilization.Converged:
		p.fail(rep, StepStabilize, fmt.Errorf("answers for %s did not converge after %d attempts (last %s)",
			p.params.Hostname, rep.Stabilization.Attempts, rep.Stabilization.Primary))
		return
	}
	rep.NewIP = rep.Stabilization.Primary

	rep.PreviousIP = p.state.Get()
	if rep.PreviousIP == rep.NewIP {
		return
	}
	rep.Changed = true

	path := p.params.ValuesFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.workspace, path)
	}
	method, rewrote, err := p.mutate(path, rep.PreviousIP, rep.NewIP)
	if err != nil {
		p.fail(rep, StepMutate, err)
		return
	}
	rep.Mutation = method

	msg := fmt.Sprintf("chore: update %s %s -> %s", p.params.Hostname, orNone(rep.PreviousIP), rep.NewIP)
	rep.Publish, err = p.publisher.CommitAndPush(ctx, p.params.Branch, msg)
	if err != nil {
		p.fail(rep, StepPublish, err)
		return
	}
	// A clean publish is only acceptable when the file already held the new
	// address, i.e. an earlier run published it.
	if !rep.Publish.Pushed && rewrote {
		p.fail(rep, StepPublish, fmt.Errorf("%s was rewritten but the publisher reported %q; check that it is tracked by the repository",
			path, rep.Publish.Reason))
		return
	}

	if err := p.state.Set(rep.NewIP); err != nil {
		p.fail(rep, StepPersist, err)
		return
	}
	rep.Persisted = true
}

// mutate rewrites the configured key, falling back to a literal address
// replacement when the key is absent. It reports the strategy that produced
// the current file content and whether the file was written.
func (p *Pipeline) mutate(path, oldIP, newIP string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	if mutate.HasKey(string(data), p.params.YAMLKey) {
		res, err := mutate.UpdateKeyInFile(path, p.params.YAMLKey, newIP)
		if err != nil {
			return "", false, err
		}
		return "yaml_update", res.Changed, nil
	}
	res, err := mutate.ReplaceLiteralInFile(path, oldIP, newIP)
	if err != nil {
		return "", false, err
	}
	if !res.Changed && !mutate.ContainsAddress(res.Content, newIP) {
		if p.params.YAMLKey == "" {
			return "", false, fmt.Errorf("%s has no IPv4 literal to replace", path)
		}
		return "", false, fmt.Errorf("%s has neither key %s nor an IPv4 literal to replace", path, p.params.YAMLKey)
	}
	return "replace_ip_literal", res.Changed, nil
}

func (p *Pipeline) fail(rep *Report, step Step, err error) {
	rep.FailedStep = step
	rep.Error = err.Error()
}

func (p *Pipeline) shouldNotify(rep Report) bool {
	if p.notifier == nil {
		return false
	}
	return p.params.NotifyPolicy == NotifyAlways || rep.Changed || rep.Failed()
}

func title(rep Report) string {
	switch {
	case rep.Failed():
		return fmt.Sprintf("dnswatch: %s %s failed", rep.Hostname, rep.FailedStep)
	case rep.Changed:
		return fmt.Sprintf("dnswatch: %s updated to %s", rep.Hostname, rep.NewIP)
	default:
		return fmt.Sprintf("dnswatch: %s unchanged", rep.Hostname)
	}
}

func summarize(rep Report) string {
	var sb strings.Builder
	if rep.Failed() {
		fmt.Fprintf(&sb, "Step %s failed for %s: %s\n", rep.FailedStep, rep.Hostname, rep.Error)
		sb.WriteString("Remediation: " + remediation(rep.FailedStep) + "\n")
	} else if !rep.Changed {
		fmt.Fprintf(&sb, "%s still resolves to %s; nothing to do.\n", rep.Hostname, rep.NewIP)
	} else {
		fmt.Fprintf(&sb, "%s moved %s -> %s.\n", rep.Hostname, orNone(rep.PreviousIP), rep.NewIP)
		if rep.Publish.Pushed {
			fmt.Fprintf(&sb, "Committed %s via %s and pushed.\n", shortCommit(rep.Publish.Commit), rep.Mutation)
		} else {
			fmt.Fprintf(&sb, "Values file already published (%s); state updated.\n", rep.Publish.Reason)
		}
	}
	if n := len(rep.Stabilization.AllIPv4); n > 1 {
		fmt.Fprintf(&sb, "All A records: %s\n", strings.Join(rep.Stabilization.AllIPv4, ", "))
	}
	fmt.Fprintf(&sb, "Stabilization: %d attempt(s), converged=%t.", rep.Stabilization.Attempts, rep.Stabilization.Converged)
	return sb.String()
}

func remediation(step Step) string {
	switch step {
	case StepStabilize:
		return "check the DNS record and resolver reachability; rerun once answers are stable."
	case StepMutate:
		return "check that the values file exists and contains the key or an IPv4 literal."
	case StepPublish:
		return "inspect the working tree and remote credentials; the file may be changed but not pushed."
	case StepPersist:
		return "the change was pushed; fix the state file permissions so the next run does not push again."
	}
	return "inspect the logs and rerun."
}

func orNone(ip string) string {
	if ip == "" {
		return "(none)"
	}
	return ip
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	if c == "" {
		return "change"
	}
	return c
}
