package branchconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "branches.json", `{
		"branches": {
			"main": {"type": "release", "end": "1.20"},
			"dev":  {"type": "dev", "start": "1.14"}
		}
	}`)

	set, err := Load(logrus.New(), []string{"file://" + path})
	require.NoError(t, err)
	require.Contains(t, set, "main")
	assert.Equal(t, Release, set["main"].Type)
	require.NotNil(t, set["main"].End)
	assert.Equal(t, "1.20", string(*set["main"].End))
}

func TestLoadComposesLastWins(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.json", `{"branches": {"main": {"type": "release"}}}`)
	override := writeFile(t, dir, "override.json", `{"branches": {"main": {"type": "dev"}}}`)

	set, err := Load(logrus.New(), []string{"file://" + base, "file://" + override})
	require.NoError(t, err)
	assert.Equal(t, Dev, set["main"].Type)
}

func TestLoadRejectsUnsupportedScheme(t *testing.T) {
	_, err := Load(logrus.New(), []string{"ftp://example.com/branches.json"})
	assert.Error(t, err)
}
