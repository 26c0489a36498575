// Package fingerprint implements the content-addressed cache validator (FP)
// backing every stage short-circuit: an insertion-ordered key of labelled
// values, each either a raw hash, a literal token, a filesystem path (hashed
// lazily), or a named dependency's declared build-time hash.
package fingerprint

import (
	"bufio"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DependencyTable maps a bundled tool/dependency name to its declared
// build-time hash (the embedded dependency_hashes.txt, spec §6).
type DependencyTable map[string]string

// LoadDependencyTable parses a `name=hash` per line table, `#`-comment
// lines permitted, exactly the fingerprint file grammar of spec §6.
func LoadDependencyTable(r io.Reader) (DependencyTable, error) {
	table := make(DependencyTable)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, errors.Errorf("malformed dependency table line %q", line)
		}
		table[line[:idx]] = line[idx+1:]
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

type valueKind int

const (
	kindHash valueKind = iota
	kindLiteral
	kindPath
	kindDependency
)

type value struct {
	kind valueKind
	raw  string
}

// Value is an opaque FP value; construct one with HashValue/LiteralValue/
// PathValue/DependencyValue.
type Value = value

// HashValue wraps an already-computed 40-char hex SHA-1 hash.
func HashValue(hash string) Value { return value{kind: kindHash, raw: hash} }

// LiteralValue wraps an opaque comparison token (tool version string, flag
// name, etc).
func LiteralValue(token string) Value { return value{kind: kindLiteral, raw: token} }

// PathValue wraps a filesystem path; its SHA-1 is computed lazily, once,
// the first time the key is resolved.
func PathValue(path string) Value { return value{kind: kindPath, raw: path} }

// DependencyValue wraps a named bundled-dependency lookup, resolved against
// the Key's DependencyTable.
func DependencyValue(name string) Value { return value{kind: kindDependency, raw: name} }

// Key is an insertion-ordered label -> Value mapping (spec §4.1).
type Key struct {
	deps     DependencyTable
	labels   []string
	values   map[string]value
	resolved map[string]string
}

// NewKey constructs an empty Key. deps may be nil if no DependencyValue
// will ever be put.
func NewKey(deps DependencyTable) *Key {
	return &Key{
		deps:     deps,
		values:   make(map[string]value),
		resolved: make(map[string]string),
	}
}

// Put sets label to v, overwriting any prior value for the same label
// without duplicating its position in iteration order (invariant 4.1.a).
func (k *Key) Put(label string, v Value) {
	if _, exists := k.values[label]; !exists {
		k.labels = append(k.labels, label)
	}
	k.values[label] = v
	delete(k.resolved, label)
}

func (k *Key) resolve(label string) (string, error) {
	if h, ok := k.resolved[label]; ok {
		return h, nil
	}
	v, ok := k.values[label]
	if !ok {
		return "", errors.Errorf("fingerprint: no value for label %q", label)
	}
	var out string
	switch v.kind {
	case kindHash, kindLiteral:
		out = v.raw
	case kindPath:
		h, err := hashFile(v.raw)
		if err != nil {
			return "", errors.Wrapf(err, "fingerprint: hashing path for label %q", label)
		}
		out = h
	case kindDependency:
		h, ok := k.deps[v.raw]
		if !ok {
			return "", errors.Errorf("fingerprint: unknown dependency %q for label %q", v.raw, label)
		}
		out = h
	default:
		return "", errors.Errorf("fingerprint: unknown value kind for label %q", label)
	}
	k.resolved[label] = out
	return out, nil
}

// ResolveAll computes every path-backed value's hash concurrently, useful
// before Write/IsValid when a key carries many library-file PathValues.
func (k *Key) ResolveAll() error {
	var g errgroup.Group
	for _, label := range k.labels {
		label := label
		g.Go(func() error {
			_, err := k.resolve(label)
			return err
		})
	}
	return g.Wait()
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Serialize writes one `label=value` line per label in insertion order,
// matching spec §6's fingerprint file format.
func (k *Key) Serialize(w io.Writer) error {
	for _, label := range k.labels {
		v, err := k.resolve(label)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", label, v); err != nil {
			return err
		}
	}
	return nil
}

// Write serializes the key atomically to path: write to a sibling temp
// file, then rename over the destination.
func (k *Key) Write(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fp-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := k.Serialize(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func parseStoredFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, errors.Errorf("fingerprint: malformed stored line %q", line)
		}
		out[line[:idx]] = line[idx+1:]
	}
	return out, sc.Err()
}

// IsValid recomputes the current key and compares it against the key
// stored at storedFile. allowedLabels restricts the comparison; when empty
// every label present in both the current and stored key is compared.
// A missing file is always invalid.
func (k *Key) IsValid(storedFile string, allowedLabels ...string) (bool, error) {
	stored, err := parseStoredFile(storedFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	labels := allowedLabels
	if len(labels) == 0 {
		seen := make(map[string]struct{})
		for _, l := range k.labels {
			if _, ok := stored[l]; ok {
				if _, dup := seen[l]; !dup {
					labels = append(labels, l)
					seen[l] = struct{}{}
				}
			}
		}
	}
	if len(labels) == 0 {
		return false, nil
	}

	for _, label := range labels {
		want, err := k.resolve(label)
		if err != nil {
			return false, err
		}
		got, ok := stored[label]
		if !ok || got != want {
			return false, nil
		}
	}
	return true, nil
}
