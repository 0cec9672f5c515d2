package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"dnswatch/internal/domain"
)

// GoGitOptions configures the in-process publisher.
type GoGitOptions struct {
	Dir         string
	Remote      string
	AuthorName  string
	AuthorEmail string
	// Token authenticates HTTPS pushes; empty uses no credentials.
	Token   string
	Timeout time.Duration
}

// GoGit publishes without a git binary, using go-git.
type GoGit struct {
	opts   GoGitOptions
	now    func() time.Time
	logger *zap.Logger
}

func NewGoGit(opts GoGitOptions, logger *zap.Logger) *GoGit {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	return &GoGit{opts: opts, now: time.Now, logger: logger.Named("publish")}
}

func (g *GoGit) CommitAndPush(ctx context.Context, branch, message string) (domain.PublishResult, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	repo, err := git.PlainOpenWithOptions(g.opts.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("open repository %s: %w", g.opts.Dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return domain.PublishResult{}, fmt.Errorf("stage changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		return g.pushPending(ctx, repo, branch)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.opts.AuthorName,
			Email: g.opts.AuthorEmail,
			When:  g.now(),
		},
	})
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("commit: %w", err)
	}

	if _, err := g.push(ctx, repo, branch); err != nil {
		return domain.PublishResult{Commit: hash.String()}, err
	}

	g.logger.Info("published change",
		zap.String("branch", branch),
		zap.String("remote", g.opts.Remote),
		zap.String("commit", hash.String()),
	)
	return domain.PublishResult{Pushed: true, Commit: hash.String()}, nil
}

// pushPending handles a clean working tree. Commits left behind by an
// earlier failed push are pushed now.
func (g *GoGit) pushPending(ctx context.Context, repo *git.Repository, branch string) (domain.PublishResult, error) {
	pending, head, err := g.unpushed(repo, branch)
	if err != nil {
		return domain.PublishResult{}, err
	}
	updated := false
	if pending {
		if updated, err = g.push(ctx, repo, branch); err != nil {
			return domain.PublishResult{Commit: head.String()}, err
		}
	}
	if !updated {
		g.logger.Info("nothing to publish", zap.String("branch", branch))
		return domain.PublishResult{Pushed: false, Reason: ReasonNoChanges}, nil
	}
	g.logger.Info("pushed pending commits",
		zap.String("branch", branch),
		zap.String("remote", g.opts.Remote),
		zap.String("commit", head.String()),
	)
	return domain.PublishResult{Pushed: true, Commit: head.String()}, nil
}

// push sends branch to the remote and reports whether the remote moved.
func (g *GoGit) push(ctx context.Context, repo *git.Repository, branch string) (bool, error) {
	refspec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: g.opts.Remote,
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       g.auth(),
	})
	switch {
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("push %s to %s: %w", branch, g.opts.Remote, err)
	}
	return true, nil
}

// unpushed reports whether the local branch holds commits that its
// remote-tracking branch does not. A missing tracking branch counts as
// unpushed; a local branch behind the remote does not.
func (g *GoGit) unpushed(repo *git.Repository, branch string) (bool, plumbing.Hash, error) {
	local, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, plumbing.ZeroHash, nil
	}
	if err != nil {
		return false, plumbing.ZeroHash, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	head := local.Hash()

	tracking, err := repo.Reference(plumbing.NewRemoteReferenceName(g.opts.Remote, branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return true, head, nil
	}
	if err != nil {
		return false, head, fmt.Errorf("resolve %s/%s: %w", g.opts.Remote, branch, err)
	}
	if tracking.Hash() == head {
		return false, head, nil
	}

	headCommit, err := repo.CommitObject(head)
	if err != nil {
		return false, head, fmt.Errorf("load commit %s: %w", head, err)
	}
	remoteCommit, err := repo.CommitObject(tracking.Hash())
	if err != nil {
		// The tracking ref points at an object we never fetched.
		return true, head, nil
	}
	behind, err := headCommit.IsAncestor(remoteCommit)
	if err != nil {
		return false, head, fmt.Errorf("compare %s with %s/%s: %w", branch, g.opts.Remote, branch, err)
	}
	return !behind, head, nil
}

func (g *GoGit) auth() transport.AuthMethod {
	if g.opts.Token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "dnswatch", Password: g.opts.Token}
}

var _ Publisher = (*GoGit)(nil)
