package tool

import "go.uber.org/zap"

// Dependencies are the components the watch tools delegate to.
type Dependencies struct {
	Workspace  string
	// Branch is the only branch git_commit_push may push to.
	Branch     string
	Stabilizer Stabilizer
	State      StateStore
	Publisher  Publisher
	Notifier   Notifier
}

// NewWatchRegistry registers the eight tools of the DNS watch workflow.
func NewWatchRegistry(deps Dependencies, logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewStabilizeDNSTool(deps.Stabilizer))
	r.Register(NewGetLastIPTool(deps.State))
	r.Register(NewSetLastIPTool(deps.State))
	r.Register(NewReadFileTool(deps.Workspace))
	r.Register(NewYAMLUpdateTool(deps.Workspace))
	r.Register(NewReplaceIPLiteralTool(deps.Workspace))
	r.Register(NewGitCommitPushTool(deps.Publisher, deps.Branch))
	r.Register(NewNotifyTeamsTool(deps.Notifier))
	return r
}
