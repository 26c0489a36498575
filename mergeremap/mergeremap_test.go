package mergeremap

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvh-project/historian/fingerprint"
	"github.com/dvh-project/historian/mapping"
)

func writeJar(t *testing.T, path string, manifest string, entries map[string]string) {
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	zw := zip.NewWriter(f)
	if manifest != "" {
		w, err := zw.Create("META-INF/MANIFEST.MF")
		require.NoError(t, err)
		_, err = w.Write([]byte(manifest))
		require.NoError(t, err)
	}
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestIsBundlerArchiveTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.jar")
	writeJar(t, path, "Manifest-Version: 1.0\r\nMain-Class: net.minecraft.bundler.Main\r\n\r\n", nil)

	ok, err := IsBundlerArchive(path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsBundlerArchiveFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.jar")
	writeJar(t, path, "Manifest-Version: 1.0\r\nMain-Class: net.minecraft.server.Main\r\n\r\n", nil)

	ok, err := IsBundlerArchive(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilterServerEntriesKeepsOnlyMappedClasses(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "server.jar")
	writeJar(t, src, "", map[string]string{
		"a/b/C.class":            "classbytes",
		"shaded/lib/Foo.class":    "shaded",
		"data/resource.json":      "{}",
	})

	m, err := mapping.Parse(strings.NewReader("net.minecraft.Thing -> a.b.C:\n"))
	require.NoError(t, err)

	dst := filepath.Join(dir, "server-extracted.jar")
	require.NoError(t, filterServerEntries(src, dst, m))

	zr, err := zip.OpenReader(dst)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, "a/b/C.class", zr.File[0].Name)
}

func TestBuildFingerprintIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	mappingsPath := filepath.Join(dir, "moj_to_obf.tsrg")
	require.NoError(t, os.WriteFile(mappingsPath, []byte("tsrg"), 0o644))

	deps := fingerprint.DependencyTable{"merge-tool": "abc", "remap-tool": "def"}
	k1, err := BuildFingerprint(deps, mappingsPath, "clientsha1", "serversha1", "")
	require.NoError(t, err)
	k2, err := BuildFingerprint(deps, mappingsPath, "clientsha1", "serversha1", "")
	require.NoError(t, err)

	tmp := filepath.Join(dir, "k1.cache")
	require.NoError(t, k1.Write(tmp))
	ok, err := k2.IsValid(tmp)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildFingerprintChangesWithClientSHA1(t *testing.T) {
	dir := t.TempDir()
	deps := fingerprint.DependencyTable{"merge-tool": "abc", "remap-tool": "def"}
	k1, err := BuildFingerprint(deps, "", "clientsha1", "serversha1", "")
	require.NoError(t, err)
	k2, err := BuildFingerprint(deps, "", "other-sha1", "serversha1", "")
	require.NoError(t, err)

	tmp := filepath.Join(dir, "k1.cache")
	require.NoError(t, k1.Write(tmp))
	ok, err := k2.IsValid(tmp)
	require.NoError(t, err)
	assert.False(t, ok)
}
