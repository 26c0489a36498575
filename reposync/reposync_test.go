package reposync

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

func commitFile(t *testing.T, repo *git.Repository, root, name, content, message string) {
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	sig := &object.Signature{Name: "DVH Bot", Email: "dvh-bot@example.com", When: time.Now()}
	_, err = wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)
}

func TestOpenInitializesFreshRepo(t *testing.T) {
	dir := t.TempDir()
	d, justCreated, err := Open(logrus.New(), filepath.Join(dir, "repo"))
	require.NoError(t, err)
	assert.True(t, justCreated)
	assert.NotNil(t, d.Repo())
}

func TestConfigureOrphanChecksOutFreshBranch(t *testing.T) {
	dir := t.TempDir()
	d, _, err := Open(logrus.New(), dir)
	require.NoError(t, err)

	created, err := d.Configure("main", false, false, false, "")
	require.NoError(t, err)
	assert.True(t, created)

	commitFile(t, d.Repo(), dir, "Snowblower.txt", "VersionId=2\n", "1.19")

	created2, err := d.Configure("main", false, false, false, "")
	require.NoError(t, err)
	assert.False(t, created2)
}

func TestEnsureRemoteReusesEqualURL(t *testing.T) {
	dir := t.TempDir()
	d, _, err := Open(logrus.New(), dir)
	require.NoError(t, err)

	name1, added1, err := d.EnsureRemote("https://example.com/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "origin", name1)
	assert.True(t, added1)

	name2, added2, err := d.EnsureRemote("https://example.com/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "origin", name2)
	assert.False(t, added2)

	name3, added3, err := d.EnsureRemote("https://example.com/other.git")
	require.NoError(t, err)
	assert.Equal(t, "origin1", name3)
	assert.True(t, added3)
}

func TestPushRemainingNoCommonAncestorForcePushesAll(t *testing.T) {
	remoteDir := t.TempDir()
	_, err := git.PlainInit(remoteDir, true)
	require.NoError(t, err)

	localDir := t.TempDir()
	d, _, err := Open(logrus.New(), localDir)
	require.NoError(t, err)
	_, err = d.Configure("main", false, false, false, "")
	require.NoError(t, err)
	commitFile(t, d.Repo(), localDir, "a.txt", "a", "v1")
	commitFile(t, d.Repo(), localDir, "b.txt", "b", "v2")

	name, _, err := d.EnsureRemote("file://" + remoteDir)
	require.NoError(t, err)

	require.NoError(t, d.PushRemaining(name, "main"))

	remoteRepo, err := git.PlainOpen(remoteDir)
	require.NoError(t, err)
	ref, err := remoteRepo.Reference("refs/heads/main", true)
	require.NoError(t, err)
	assert.NotEmpty(t, ref.Hash())
}
