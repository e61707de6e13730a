// Package revision gives access to the two revisions a check compares: it
// resolves the true merge base, checks each revision out into an isolated
// worktree and runs the configured build hook there.
package revision

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"apigate/internal/failure"
	"apigate/internal/logging"
)

// Repo is a git repository with full history.
type Repo struct {
	Dir string
}

// Open checks that dir is inside a git work tree.
func Open(ctx context.Context, dir string) (*Repo, error) {
	r := &Repo{Dir: dir}
	if _, err := r.git(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errors.WithHint(err, "install git in the CI image")
			return nil, failure.Mark(err, failure.ErrToolingUnavailable)
		}
		return nil, failure.Mark(errors.Wrapf(err, "%s is not a git repository", dir), failure.ErrConfig)
	}
	top, err := r.git(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}
	r.Dir = top
	return r, nil
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		return "", errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), msg)
	}
	return strings.TrimSpace(string(out)), nil
}

// EnsureFullHistory rejects shallow clones, where the merge base cannot be
// trusted.
func (r *Repo) EnsureFullHistory(ctx context.Context) error {
	out, err := r.git(ctx, "rev-parse", "--is-shallow-repository")
	if err != nil {
		return err
	}
	if out == "true" {
		err := errors.Newf("repository %s is a shallow clone", r.Dir)
		err = errors.WithHint(err, "check out with full history, e.g. actions/checkout with fetch-depth: 0")
		return failure.Mark(err, failure.ErrShallowCheckout)
	}
	return nil
}

// Resolve turns a ref into a commit hash.
func (r *Repo) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", failure.MalformedTrigger("empty revision")
	}
	if strings.HasPrefix(ref, "-") {
		return "", failure.MalformedTrigger("revision %q must not start with '-'", ref)
	}
	sha, err := r.git(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", failure.Mark(errors.Wrapf(err, "unknown revision %s", ref), failure.ErrMalformedTrigger)
	}
	return sha, nil
}

// MergeBase returns the best common ancestor of base and head. The check
// compares head against it rather than against the tip of base.
func (r *Repo) MergeBase(ctx context.Context, base, head string) (string, error) {
	mb, err := r.git(ctx, "merge-base", base, head)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", failure.Mark(errors.Wrapf(err, "no merge base between %s and %s", base, head), failure.ErrMalformedTrigger)
	}
	logging.Revision("merge base of %s and %s is %s", short(base), short(head), short(mb))
	return mb, nil
}

// Worktree is an isolated checkout of one revision.
type Worktree struct {
	repo *Repo
	Dir  string
	Rev  string
	tmp  string
}

// Checkout adds a detached worktree for rev in a fresh temporary directory.
func (r *Repo) Checkout(ctx context.Context, rev string) (*Worktree, error) {
	tmp, err := os.MkdirTemp("", "apigate-"+short(rev)+"-")
	if err != nil {
		return nil, errors.Wrap(err, "create worktree directory")
	}
	dir := filepath.Join(tmp, "src")
	if _, err := r.git(ctx, "worktree", "add", "--detach", "--force", dir, rev); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, failure.BuildFailure(rev, err)
	}
	logging.RevisionDebug("checked out %s at %s", short(rev), dir)
	return &Worktree{repo: r, Dir: dir, Rev: rev, tmp: tmp}, nil
}

// Remove deletes the worktree and its directory.
func (w *Worktree) Remove(ctx context.Context) error {
	if w == nil {
		return nil
	}
	_, err := w.repo.git(ctx, "worktree", "remove", "--force", w.Dir)
	if rmErr := os.RemoveAll(w.tmp); err == nil {
		err = rmErr
	}
	if err != nil {
		// Stale administrative entries are pruned on the next run.
		logging.Get(logging.CategoryRevision).Warn("failed to remove worktree %s: %v", w.Dir, err)
		_, _ = w.repo.git(context.Background(), "worktree", "prune")
	}
	return err
}

func short(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
