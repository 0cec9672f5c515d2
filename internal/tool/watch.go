package tool

import (
	"context"
	"fmt"
	"time"

	"dnswatch/internal/domain"
)

// Stabilizer settles the address of a hostname.
type Stabilizer interface {
	Stabilize(ctx context.Context, host string, requiredMatches int, delay time.Duration) domain.StabilizationOutcome
}

// StateStore holds the last address acted on.
type StateStore interface {
	Get() string
	Set(ip string) error
}

// Publisher commits and pushes pending changes.
type Publisher interface {
	CommitAndPush(ctx context.Context, branch, message string) (domain.PublishResult, error)
}

// Notifier sends a best-effort operator message.
type Notifier interface {
	Send(ctx context.Context, title, text string) domain.NotifyResult
}

// --- stabilize_dns ---

type StabilizeDNSTool struct {
	stabilizer Stabilizer
}

func NewStabilizeDNSTool(s Stabilizer) *StabilizeDNSTool {
	return &StabilizeDNSTool{stabilizer: s}
}

type stabilizeArgs struct {
	Hostname string  `json:"hostname" validate:"required,hostname_rfc1123"`
	Queries  int     `json:"queries" validate:"min=1,max=50"`
	DelaySec float64 `json:"delay_sec" validate:"min=0,max=300"`
}

func (t *StabilizeDNSTool) Name() string { return "stabilize_dns" }
func (t *StabilizeDNSTool) Description() string {
	return "Resolve and stabilize the IPv4 for a hostname across N consecutive matching queries. " +
		"Returns primary, all_ipv4 and whether the answer converged."
}
func (t *StabilizeDNSTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"hostname":  {Type: "string", Description: "Hostname to resolve"},
			"queries":   {Type: "integer", Description: "Consecutive matching answers required"},
			"delay_sec": {Type: "number", Description: "Seconds to wait between queries"},
		},
		[]string{"hostname", "queries", "delay_sec"},
	)
}

func (t *StabilizeDNSTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a stabilizeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	delay := time.Duration(a.DelaySec * float64(time.Second))
	return t.stabilizer.Stabilize(ctx, a.Hostname, a.Queries, delay), nil
}

// --- get_last_ip / set_last_ip ---

type GetLastIPTool struct {
	store StateStore
}

func NewGetLastIPTool(s StateStore) *GetLastIPTool { return &GetLastIPTool{store: s} }

func (t *GetLastIPTool) Name() string        { return "get_last_ip" }
func (t *GetLastIPTool) Description() string { return "Get the last known IPv4 from state. Empty when none is stored." }
func (t *GetLastIPTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *GetLastIPTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return map[string]string{"ip": t.store.Get()}, nil
}

type SetLastIPTool struct {
	store StateStore
}

func NewSetLastIPTool(s StateStore) *SetLastIPTool { return &SetLastIPTool{store: s} }

type setLastIPArgs struct {
	IP string `json:"ip" validate:"required,ipv4"`
}

func (t *SetLastIPTool) Name() string        { return "set_last_ip" }
func (t *SetLastIPTool) Description() string { return "Persist the last known IPv4 to state." }
func (t *SetLastIPTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{"ip": {Type: "string", Description: "IPv4 to store"}},
		[]string{"ip"},
	)
}

func (t *SetLastIPTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a setLastIPArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := t.store.Set(a.IP); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// --- git_commit_push ---

// GitCommitPushTool publishes to the configured branch only. The branch
// argument is accepted for compatibility and must match it when given.
type GitCommitPushTool struct {
	publisher Publisher
	branch    string
}

func NewGitCommitPushTool(p Publisher, branch string) *GitCommitPushTool {
	return &GitCommitPushTool{publisher: p, branch: branch}
}

type commitPushArgs struct {
	Branch  string `json:"branch"`
	Message string `json:"message" validate:"required"`
}

func (t *GitCommitPushTool) Name() string { return "git_commit_push" }
func (t *GitCommitPushTool) Description() string {
	return "Commit all pending changes and push them to the configured branch to trigger CI. Reports pushed=false with reason 'no changes' when the branch is already up to date."
}
func (t *GitCommitPushTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"branch":  {Type: "string", Description: "Branch to push; must be the configured branch"},
			"message": {Type: "string", Description: "Commit message"},
		},
		[]string{"branch", "message"},
	)
}

func (t *GitCommitPushTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a commitPushArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	branch := t.branch
	switch {
	case branch == "":
		branch = a.Branch
	case a.Branch != "" && a.Branch != branch:
		return nil, fmt.Errorf("branch %q is not allowed; changes are pushed to %q", a.Branch, branch)
	}
	if branch == "" {
		return nil, &ArgsError{Msg: "branch is required"}
	}
	return t.publisher.CommitAndPush(ctx, branch, a.Message)
}

// --- notify_teams ---

type NotifyTeamsTool struct {
	notifier Notifier
}

func NewNotifyTeamsTool(n Notifier) *NotifyTeamsTool { return &NotifyTeamsTool{notifier: n} }

type notifyArgs struct {
	Title string `json:"title" validate:"required"`
	Text  string `json:"text" validate:"required"`
}

func (t *NotifyTeamsTool) Name() string        { return "notify_teams" }
func (t *NotifyTeamsTool) Description() string { return "Send a Teams message with run context." }
func (t *NotifyTeamsTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"title": {Type: "string", Description: "Short title"},
			"text":  {Type: "string", Description: "Message body"},
		},
		[]string{"title", "text"},
	)
}

func (t *NotifyTeamsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a notifyArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return t.notifier.Send(ctx, a.Title, a.Text), nil
}

var (
	_ domain.Tool = (*StabilizeDNSTool)(nil)
	_ domain.Tool = (*GetLastIPTool)(nil)
	_ domain.Tool = (*SetLastIPTool)(nil)
	_ domain.Tool = (*GitCommitPushTool)(nil)
	_ domain.Tool = (*NotifyTeamsTool)(nil)
)
