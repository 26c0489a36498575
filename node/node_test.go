package node

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddFindDeleteFile(t *testing.T) {
	n := NewNode("root", false)
	n.AddFile("src/main/java/com/example/Foo.java")
	n.AddFile("src/main/resources/data.json")

	assert.True(t, n.FindFile("src/main/java/com/example/Foo.java"))
	assert.True(t, n.FindFile("src/main/resources/data.json"))
	assert.False(t, n.FindFile("src/main/java/com/example/Bar.java"))

	files := n.GetFiles()
	sort.Strings(files)
	assert.Equal(t, []string{"src/main/java/com/example/Foo.java", "src/main/resources/data.json"}, files)

	n.DeleteFile("src/main/java/com/example/Foo.java")
	assert.False(t, n.FindFile("src/main/java/com/example/Foo.java"))
	assert.Equal(t, []string{"src/main/resources/data.json"}, n.GetFiles())
}

func TestCaseInsensitiveFind(t *testing.T) {
	n := NewNode("root", true)
	n.AddFile("src/main/java/com/Example/Foo.java")
	assert.True(t, n.FindFile("src/main/java/com/example/foo.java"))
}

func TestSnapshotAndFileSet(t *testing.T) {
	n := NewNode("root", false)
	n.FileSet([]string{"a.java", "dir/b.java"})
	snap := n.Snapshot()
	_, ok := snap["a.java"]
	assert.True(t, ok)
	_, ok = snap["dir/b.java"]
	assert.True(t, ok)
	assert.Len(t, snap, 2)
}
