// Package git provides the repository operations the loop needs: opening the
// repository that contains the working directory and committing the agent's
// changes between iterations.
//
// This is a leaf package: it imports only stdlib and go-git, not any
// internal packages. Paths to exclude are passed in by the caller.
package git

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
)

var (
	// ErrNotRepository is returned when the path is not inside a git repository.
	ErrNotRepository = errors.New("not a git repository")

	// ErrNothingToCommit is returned by CommitAll when the worktree is clean.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// Fallback author used when the repository has no user configured.
const (
	FallbackAuthorName  = "ralph"
	FallbackAuthorEmail = "ralph@localhost"
)

// GitManager owns a repository handle.
type GitManager struct {
	repo     *gogit.Repository
	repoRoot string
	now      func() time.Time
}

// NewGitManager opens the git repository containing the given path.
// It walks up the directory tree to find the repository root.
//
// Returns ErrNotRepository (wrapped) if path is not inside a git repository.
func NewGitManager(path string) (*GitManager, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}

	return NewGitManagerWithRepo(repo, wt.Filesystem.Root()), nil
}

// NewGitManagerWithRepo creates a GitManager from an existing go-git Repository.
// This is primarily used for testing with in-memory repositories.
// The repoRoot parameter should be the logical root directory (can be a fake path for testing).
func NewGitManagerWithRepo(repo *gogit.Repository, repoRoot string) *GitManager {
	return &GitManager{
		repo:     repo,
		repoRoot: repoRoot,
		now:      time.Now,
	}
}

// Repository returns the underlying go-git Repository.
func (g *GitManager) Repository() *gogit.Repository {
	return g.repo
}

// RepoRoot returns the root directory of the git repository.
func (g *GitManager) RepoRoot() string {
	return g.repoRoot
}

// GetCurrentBranch returns the current branch name of the repository.
// Returns empty string and no error for detached HEAD state.
func (g *GitManager) GetCurrentBranch() (string, error) {
	head, err := g.repo.Head()
	if err != nil {
		return "", fmt.Errorf("getting HEAD: %w", err)
	}

	if head.Name() == plumbing.HEAD {
		return "", nil
	}

	return head.Name().Short(), nil
}

// Author returns the configured user, falling back to the ralph identity.
func (g *GitManager) Author() *object.Signature {
	sig := &object.Signature{
		Name:  FallbackAuthorName,
		Email: FallbackAuthorEmail,
		When:  g.now(),
	}
	cfg, err := g.repo.ConfigScoped(config.GlobalScope)
	if err != nil || cfg == nil {
		return sig
	}
	if cfg.User.Name != "" {
		sig.Name = cfg.User.Name
	}
	if cfg.User.Email != "" {
		sig.Email = cfg.User.Email
	}
	return sig
}

// CommitAll stages every changed path, except those for which skip returns
// true, and commits them. Paths are slash-separated and relative to the
// repository root. It returns ErrNothingToCommit when nothing was staged.
func (g *GitManager) CommitAll(message string, skip func(path string) bool) (plumbing.Hash, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("getting worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("reading worktree status: %w", err)
	}
	if status.IsClean() {
		return plumbing.ZeroHash, ErrNothingToCommit
	}

	staged := 0
	for p, fs := range status {
		if skip != nil && skip(p) {
			continue
		}
		if fs.Worktree == gogit.Unmodified {
			if fs.Staging != gogit.Unmodified && fs.Staging != gogit.Untracked {
				staged++
			}
			continue
		}
		if _, err := wt.Add(p); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("staging %s: %w", p, err)
		}
		staged++
	}
	if staged == 0 {
		return plumbing.ZeroHash, ErrNothingToCommit
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{Author: g.Author()})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("committing: %w", err)
	}
	return hash, nil
}

// RelPath returns dir relative to the repository root in slash form, or ""
// when dir is the root or lies outside it.
func (g *GitManager) RelPath(dir string) string {
	rel, err := filepath.Rel(g.repoRoot, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

// MatchAny reports whether p, or p with prefix trimmed, matches one of the
// path.Match patterns.
func MatchAny(p, prefix string, patterns []string) bool {
	candidates := []string{p}
	if prefix != "" && strings.HasPrefix(p, prefix+"/") {
		candidates = append(candidates, strings.TrimPrefix(p, prefix+"/"))
	}
	for _, pattern := range patterns {
		for _, c := range candidates {
			if ok, _ := path.Match(pattern, c); ok {
				return true
			}
		}
	}
	return false
}
