// Package publish records file changes in version control and pushes them
// to the branch a delivery pipeline watches.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dnswatch/internal/domain"
)

// ReasonNoChanges is reported when the working tree had nothing to commit.
const ReasonNoChanges = "no changes"

// ErrCommandFailed marks a version-control command that exited non-zero.
// It is not retried.
var ErrCommandFailed = errors.New("version control command failed")

// CommandError describes a failed version-control command.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, msg)
}

func (e *CommandError) Unwrap() error { return ErrCommandFailed }

// Publisher commits every pending change in the working tree and pushes it.
// ReasonNoChanges is reported only when the tree is clean and the branch has
// no commits the remote lacks.
type Publisher interface {
	CommitAndPush(ctx context.Context, branch, message string) (domain.PublishResult, error)
}

// Runner executes one command in dir and returns its standard output.
// A non-zero exit is reported as *CommandError.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &CommandError{Command: cmdline, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return stdout.String(), fmt.Errorf("%s: %w", cmdline, err)
	}
	return stdout.String(), nil
}

// GitOptions configures the git CLI publisher.
type GitOptions struct {
	Dir     string
	Remote  string
	Binary  string
	Timeout time.Duration
	Runner  Runner
}

// Git publishes with the git command line client.
type Git struct {
	dir     string
	remote  string
	binary  string
	timeout time.Duration
	runner  Runner
	logger  *zap.Logger
}

func NewGit(opts GitOptions, logger *zap.Logger) *Git {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.Binary == "" {
		opts.Binary = "git"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	return &Git{
		dir:     opts.Dir,
		remote:  opts.Remote,
		binary:  opts.Binary,
		timeout: opts.Timeout,
		runner:  opts.Runner,
		logger:  logger.Named("publish"),
	}
}

// CommitAndPush stages everything, and when the tree is dirty commits with
// message and pushes to branch on the configured remote.
func (g *Git) CommitAndPush(ctx context.Context, branch, message string) (domain.PublishResult, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if _, err := g.git(ctx, "add", "-A"); err != nil {
		return domain.PublishResult{}, err
	}
	status, err := g.git(ctx, "status", "--porcelain")
	if err != nil {
		return domain.PublishResult{}, err
	}
	if strings.TrimSpace(status) == "" {
		return g.pushPending(ctx, branch)
	}

	if _, err := g.git(ctx, "commit", "-m", message); err != nil {
		return domain.PublishResult{}, err
	}
	head, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return domain.PublishResult{}, err
	}
	if _, err := g.git(ctx, "push", g.remote, branch); err != nil {
		return domain.PublishResult{}, err
	}

	commit := strings.TrimSpace(head)
	g.logger.Info("published change",
		zap.String("branch", branch),
		zap.String("remote", g.remote),
		zap.String("commit", commit),
	)
	return domain.PublishResult{Pushed: true, Commit: commit}, nil
}

// pushPending handles a clean working tree. Commits left behind by an
// earlier failed push are pushed now; only a branch that is level with the
// remote reports ReasonNoChanges.
func (g *Git) pushPending(ctx context.Context, branch string) (domain.PublishResult, error) {
	ahead := -1
	out, err := g.git(ctx, "rev-list", "--count", g.remote+"/"+branch+"..HEAD")
	if err == nil {
		if ahead, err = strconv.Atoi(strings.TrimSpace(out)); err != nil {
			return domain.PublishResult{}, fmt.Errorf("rev-list: unexpected output %q", out)
		}
	} else if !errors.Is(err, ErrCommandFailed) {
		return domain.PublishResult{}, err
	}
	if ahead == 0 {
		g.logger.Info("nothing to publish", zap.String("branch", branch))
		return domain.PublishResult{Pushed: false, Reason: ReasonNoChanges}, nil
	}

	// ahead is -1 when the remote-tracking branch does not exist yet.
	head, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return domain.PublishResult{}, err
	}
	commit := strings.TrimSpace(head)
	if _, err := g.git(ctx, "push", g.remote, branch); err != nil {
		return domain.PublishResult{Commit: commit}, err
	}
	g.logger.Info("pushed pending commits",
		zap.String("branch", branch),
		zap.String("remote", g.remote),
		zap.String("commit", commit),
		zap.Int("ahead", ahead),
	)
	return domain.PublishResult{Pushed: true, Commit: commit}, nil
}

func (g *Git) git(ctx context.Context, args ...string) (string, error) {
	g.logger.Debug("git", zap.Strings("args", args))
	out, err := g.runner.Run(ctx, g.dir, g.binary, args...)
	if err != nil {
		g.logger.Error("git command failed", zap.Strings("args", args), zap.Error(err))
		return out, err
	}
	return out, nil
}

var _ Publisher = (*Git)(nil)
