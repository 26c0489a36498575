package fingerprint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutOverwritesSameLabel(t *testing.T) {
	k := NewKey(nil)
	k.Put("tool", LiteralValue("v1"))
	k.Put("tool", LiteralValue("v2"))
	assert.Equal(t, []string{"tool"}, k.labels)
	var sb strings.Builder
	require.NoError(t, k.Serialize(&sb))
	assert.Equal(t, "tool=v2\n", sb.String())
}

func TestWriteAndIsValid(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "lib.jar")
	require.NoError(t, os.WriteFile(libPath, []byte("hello"), 0o644))

	k := NewKey(DependencyTable{"decompiler": "deadbeef"})
	k.Put("args", LiteralValue("--foo --bar"))
	k.Put("lib", PathValue(libPath))
	k.Put("decompiler", DependencyValue("decompiler"))

	fpPath := filepath.Join(dir, "out.cache")
	require.NoError(t, k.Write(fpPath))

	ok, err := k.IsValid(fpPath)
	require.NoError(t, err)
	assert.True(t, ok)

	k2 := NewKey(DependencyTable{"decompiler": "deadbeef"})
	k2.Put("args", LiteralValue("--foo --bar --changed"))
	k2.Put("lib", PathValue(libPath))
	k2.Put("decompiler", DependencyValue("decompiler"))
	ok, err = k2.IsValid(fpPath)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsValidMissingFile(t *testing.T) {
	dir := t.TempDir()
	k := NewKey(nil)
	k.Put("a", LiteralValue("x"))
	ok, err := k.IsValid(filepath.Join(dir, "nope.cache"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsValidAllowedLabelsSubset(t *testing.T) {
	dir := t.TempDir()
	fpPath := filepath.Join(dir, "out.cache")

	k := NewKey(nil)
	k.Put("a", LiteralValue("1"))
	k.Put("b", LiteralValue("2"))
	require.NoError(t, k.Write(fpPath))

	k2 := NewKey(nil)
	k2.Put("a", LiteralValue("1"))
	k2.Put("b", LiteralValue("different"))
	ok, err := k2.IsValid(fpPath, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = k2.IsValid(fpPath, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadEmbeddedDependencyTable(t *testing.T) {
	table, err := LoadEmbeddedDependencyTable()
	require.NoError(t, err)
	assert.NotEmpty(t, table["decompiler"])
	assert.NotEmpty(t, table["remap-tool"])
}

func TestLoadDependencyTable(t *testing.T) {
	r := strings.NewReader("# comment\ndecompiler=abc123\nremapper=def456\n")
	table, err := LoadDependencyTable(r)
	require.NoError(t, err)
	assert.Equal(t, "abc123", table["decompiler"])
	assert.Equal(t, "def456", table["remapper"])
}
