package synctree

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvh-project/historian/node"
)

func writeArchive(t *testing.T, path string, entries map[string]string) {
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestSyncAddsAndCommits(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	archive := filepath.Join(dir, "decompiled.zip")
	writeArchive(t, archive, map[string]string{
		"com/example/Foo.java": "class Foo {}",
		"data/values.json":     "{}",
	})

	tracked := node.NewNode("root", false)
	s := New(logrus.New(), repo, dir)
	identity := object.Signature{Name: "DVH Bot", Email: "dvh-bot@example.com"}

	created, err := s.Sync(archive, Filters{}, tracked, nil, "1.19", time.Date(2022, 6, 7, 0, 0, 0, 0, time.UTC), identity)
	require.NoError(t, err)
	assert.True(t, created)

	assert.FileExists(t, filepath.Join(dir, "src/main/java/com/example/Foo.java"))
	assert.FileExists(t, filepath.Join(dir, "src/main/resources/data/values.json"))
	assert.True(t, tracked.FindFile("src/main/java/com/example/Foo.java"))

	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "1.19", commit.Message)
}

func TestSyncRemovesStaleFiles(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src/main/java/com/example"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src/main/java/com/example/Stale.java"), []byte("old"), 0o644))

	tracked := node.NewNode("root", false)
	tracked.AddFile("src/main/java/com/example/Stale.java")

	archive := filepath.Join(dir, "decompiled.zip")
	writeArchive(t, archive, map[string]string{"com/example/Fresh.java": "class Fresh {}"})

	s := New(logrus.New(), repo, dir)
	identity := object.Signature{Name: "DVH Bot", Email: "dvh-bot@example.com"}
	created, err := s.Sync(archive, Filters{}, tracked, nil, "1.19", time.Now(), identity)
	require.NoError(t, err)
	assert.True(t, created)

	assert.NoFileExists(t, filepath.Join(dir, "src/main/java/com/example/Stale.java"))
	assert.FileExists(t, filepath.Join(dir, "src/main/java/com/example/Fresh.java"))
	assert.False(t, tracked.FindFile("src/main/java/com/example/Stale.java"))
}

func TestSyncNoChangeProducesNoCommit(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	archive := filepath.Join(dir, "decompiled.zip")
	writeArchive(t, archive, map[string]string{})

	tracked := node.NewNode("root", false)
	s := New(logrus.New(), repo, dir)
	identity := object.Signature{Name: "DVH Bot", Email: "dvh-bot@example.com"}
	created, err := s.Sync(archive, Filters{}, tracked, nil, "1.19", time.Now(), identity)
	require.NoError(t, err)
	assert.False(t, created)
}
