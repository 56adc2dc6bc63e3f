package git

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// CommitMessage returns the message used for an iteration's auto-commit.
func CommitMessage(iteration int) string {
	return fmt.Sprintf("ralph: iteration %d", iteration)
}

// AutoCommitter commits the working tree between loop iterations. The
// repository is opened on first use; a working directory outside any
// repository makes every commit a no-op.
type AutoCommitter struct {
	workDir string
	exclude []string

	once   sync.Once
	mgr    *GitManager
	openFn func(string) (*GitManager, error)
	err    error
}

// NewAutoCommitter creates a committer for workDir. Exclude holds path.Match
// patterns, relative to workDir or to the repository root, that are never
// staged.
func NewAutoCommitter(workDir string, exclude ...string) *AutoCommitter {
	return &AutoCommitter{workDir: workDir, exclude: exclude, openFn: NewGitManager}
}

// NewAutoCommitterWithManager creates a committer over an already open repository.
func NewAutoCommitterWithManager(mgr *GitManager, workDir string, exclude ...string) *AutoCommitter {
	c := &AutoCommitter{workDir: workDir, exclude: exclude}
	c.once.Do(func() { c.mgr = mgr })
	return c
}

// Commit stages and commits all changes for iteration. It reports whether a
// commit was created. A clean tree or a missing repository is not an error.
func (c *AutoCommitter) Commit(ctx context.Context, iteration int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.once.Do(func() { c.mgr, c.err = c.openFn(c.workDir) })
	if errors.Is(c.err, ErrNotRepository) {
		return false, nil
	}
	if c.err != nil {
		return false, c.err
	}

	prefix := c.mgr.RelPath(c.workDir)
	_, err := c.mgr.CommitAll(CommitMessage(iteration), func(p string) bool {
		return MatchAny(p, prefix, c.exclude)
	})
	if errors.Is(err, ErrNothingToCommit) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
