package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortHash(t *testing.T) {
	c := &object.Commit{Message: "1.19"}
	assert.Equal(t, "0000000000000000000000000000000000000000"[:8], shortHash(c.Hash))
}

func TestLabelUsesFirstMessageLine(t *testing.T) {
	c := &object.Commit{Message: "1.19\nextra body text"}
	assert.Contains(t, label(c), "1.19")
	assert.NotContains(t, label(c), "extra body text")
}

func commitFile(t *testing.T, repo *git.Repository, root, name, message string) {
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	sig := &object.Signature{Name: "DVH Bot", Email: "dvh-bot@example.com", When: time.Now()}
	_, err = wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)
}

func TestBuildGraphsLinearHistory(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	commitFile(t, repo, dir, "a.txt", "1.18")
	commitFile(t, repo, dir, "b.txt", "1.19")

	g, err := NewGrapher(logrus.New(), Options{RepoPath: dir, BranchName: "master"})
	require.NoError(t, err)
	require.NoError(t, g.Build())
	assert.Contains(t, g.graph.String(), "1.18")
	assert.Contains(t, g.graph.String(), "1.19")
}
