// Package node tracks a directory tree of files incrementally, so callers
// can reconcile add/delete operations against a known file set without
// re-walking the filesystem on every version.
package node

import "strings"

// Node is one path component in a tracked directory tree. A leaf Node has
// IsFile set and no Children.
type Node struct {
	Name            string
	Path            string
	IsFile          bool
	CaseInsensitive bool
	Children        map[string]*Node
}

func stringEqual(caseInsensitive bool, s1, s2 string) bool {
	if caseInsensitive {
		return strings.EqualFold(s1, s2)
	}
	return s1 == s2
}

// NewNode creates an empty root directory node.
func NewNode(name string, caseInsensitive bool) *Node {
	return &Node{
		Name:            name,
		Path:            "",
		CaseInsensitive: caseInsensitive,
		Children:        make(map[string]*Node),
	}
}

func (n *Node) childKey(name string) string {
	if n.CaseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

// AddFile inserts a regular file at the forward-slash path rooted at n,
// creating intermediate directory nodes as needed.
func (n *Node) AddFile(path string) {
	n.addSubFile(strings.Split(path, "/"), path)
}

func (n *Node) addSubFile(parts []string, fullPath string) {
	if len(parts) == 0 {
		return
	}
	name := parts[0]
	key := n.childKey(name)
	child, ok := n.Children[key]
	if !ok {
		child = &Node{Name: name, CaseInsensitive: n.CaseInsensitive, Children: make(map[string]*Node)}
		n.Children[key] = child
	}
	if len(parts) == 1 {
		child.IsFile = true
		child.Path = fullPath
		return
	}
	child.addSubFile(parts[1:], fullPath)
}

// DeleteFile removes the regular file at path, pruning now-empty
// intermediate directory nodes.
func (n *Node) DeleteFile(path string) {
	n.deleteSubFile(strings.Split(path, "/"))
}

func (n *Node) deleteSubFile(parts []string) bool {
	if len(parts) == 0 {
		return false
	}
	key := n.childKey(parts[0])
	child, ok := n.Children[key]
	if !ok {
		return false
	}
	if len(parts) == 1 {
		delete(n.Children, key)
		return true
	}
	if child.deleteSubFile(parts[1:]) && len(child.Children) == 0 {
		delete(n.Children, key)
	}
	return true
}

// FindFile reports whether path exists as a regular file under n.
func (n *Node) FindFile(path string) bool {
	cur := n
	for _, part := range strings.Split(path, "/") {
		key := cur.childKey(part)
		child, ok := cur.Children[key]
		if !ok {
			return false
		}
		cur = child
	}
	return cur.IsFile
}

func (n *Node) getChildFiles(out *[]string) {
	for _, c := range n.Children {
		if c.IsFile {
			*out = append(*out, c.Path)
			continue
		}
		c.getChildFiles(out)
	}
}

// GetFiles returns every regular file path currently tracked under n.
func (n *Node) GetFiles() []string {
	var out []string
	n.getChildFiles(&out)
	return out
}

// Snapshot returns the current tracked file set as a map for O(1)
// membership tests and in-place removal while reconciling against a new
// archive's entries.
func (n *Node) Snapshot() map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range n.GetFiles() {
		set[p] = struct{}{}
	}
	return set
}

// FileSet populates n from every path in paths, replacing any prior
// content rooted at n.
func (n *Node) FileSet(paths []string) {
	n.Children = make(map[string]*Node)
	for _, p := range paths {
		n.AddFile(p)
	}
}
