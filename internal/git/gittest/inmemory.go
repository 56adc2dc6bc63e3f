// Package gittest provides test utilities for the git package.
package gittest

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
	gogit "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/cache"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/storage/filesystem"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/ralph/internal/git"
)

// InMemoryGitManager wraps *git.GitManager with test-only accessors.
// The underlying repository uses in-memory storage (memfs).
type InMemoryGitManager struct {
	*git.GitManager
	repo       *gogit.Repository
	worktreeFS billy.Filesystem
}

// NewInMemoryGitManager creates a GitManager backed by in-memory storage.
// The repoRoot is a logical path (not a real filesystem path) used for
// path construction in tests.
//
// The repository is seeded with an initial commit so HEAD exists.
func NewInMemoryGitManager(t *testing.T, repoRoot string) *InMemoryGitManager {
	t.Helper()

	dotGitFS := memfs.New()
	worktreeFS := memfs.New()
	storer := filesystem.NewStorage(dotGitFS, cache.NewObjectLRUDefault())

	repo, err := gogit.Init(storer, gogit.WithWorkTree(worktreeFS))
	require.NoError(t, err, "failed to init in-memory repo")

	m := &InMemoryGitManager{
		GitManager: git.NewGitManagerWithRepo(repo, repoRoot),
		repo:       repo,
		worktreeFS: worktreeFS,
	}

	m.WriteFile(t, "README.md", "# Test Repository\n")
	wt, err := repo.Worktree()
	require.NoError(t, err, "failed to get worktree")
	_, err = wt.Add("README.md")
	require.NoError(t, err, "failed to add README")
	_, err = wt.Commit("Initial commit", &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "Test User",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err, "failed to create initial commit")

	return m
}

// Repository returns the underlying go-git Repository for test assertions.
func (m *InMemoryGitManager) Repository() *gogit.Repository {
	return m.repo
}

// WriteFile writes content to name in the in-memory worktree.
func (m *InMemoryGitManager) WriteFile(t *testing.T, name, content string) {
	t.Helper()
	f, err := m.worktreeFS.Create(name)
	require.NoError(t, err, "failed to create %s", name)
	_, err = f.Write([]byte(content))
	require.NoError(t, err, "failed to write %s", name)
	require.NoError(t, f.Close(), "failed to close %s", name)
}

// HeadCommit returns the commit HEAD points to.
func (m *InMemoryGitManager) HeadCommit(t *testing.T) *object.Commit {
	t.Helper()
	head, err := m.repo.Head()
	require.NoError(t, err)
	commit, err := m.repo.CommitObject(head.Hash())
	require.NoError(t, err)
	return commit
}
