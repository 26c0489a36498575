package decompile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvh-project/historian/fingerprint"
)

func TestArgsAddsObfuscatedFlagsOnlyWhenObfuscated(t *testing.T) {
	plain := Args(false)
	obf := Args(true)
	assert.Len(t, obf, len(plain)+3)
	assert.NotContains(t, plain, "--jad-style-variable-naming")
	assert.Contains(t, obf, "--jad-style-variable-naming")
}

func TestWriteClasspathFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classpath.cfg")
	require.NoError(t, WriteClasspathFile(path, []string{"/libs/a.jar", "/libs/b.jar"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{"-e=/libs/a.jar", "-e=/libs/b.jar"}, lines)
}

func TestBuildFingerprintIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	joined := filepath.Join(dir, "joined.jar")
	require.NoError(t, os.WriteFile(joined, []byte("jarbytes"), 0o644))
	lib := filepath.Join(dir, "lib.jar")
	require.NoError(t, os.WriteFile(lib, []byte("libbytes"), 0o644))

	deps := fingerprint.DependencyTable{"decompiler": "abc", "decompiler-plugin-common": "def"}
	k1, err := BuildFingerprint(deps, []string{"decompiler", "decompiler-plugin-common"}, joined, Args(false), []string{lib}, dir)
	require.NoError(t, err)
	k2, err := BuildFingerprint(deps, []string{"decompiler", "decompiler-plugin-common"}, joined, Args(false), []string{lib}, dir)
	require.NoError(t, err)

	tmp := filepath.Join(dir, "k1.cache")
	require.NoError(t, k1.Write(tmp))
	ok, err := k2.IsValid(tmp)
	require.NoError(t, err)
	assert.True(t, ok)
}
