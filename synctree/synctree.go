// Package synctree implements the working-tree syncer (WTS, spec §4.9):
// diffs a decompiled archive against the on-disk working tree, applies
// include/exclude filters, runs the post-processing enhancement hook, and
// commits the minimal resulting change.
package synctree

import (
	"archive/zip"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"

	"github.com/dvh-project/historian/node"
)

// EnhanceFunc is the post-processing hook: given the working-tree root, it
// may inject or rewrite files and reports the paths (relative to root,
// forward-slash) it added or rewrote.
type EnhanceFunc func(root string) ([]string, error)

// Filters holds the include/exclude glob sets applied to archive-relative
// paths (spec §4.9 step 2).
type Filters struct {
	Include []string
	Exclude []string
}

func (f Filters) allows(path string) bool {
	if len(f.Include) > 0 {
		matched := false
		for _, pat := range f.Include {
			if ok, _ := filepath.Match(pat, path); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pat := range f.Exclude {
		if ok, _ := filepath.Match(pat, path); ok {
			return false
		}
	}
	return true
}

// Syncer applies one version's decompiled archive onto a working tree
// rooted at Root and commits the result via the go-git worktree.
type Syncer struct {
	logger *logrus.Logger
	repo   *git.Repository
	root   string
}

// New constructs a Syncer against repo's working tree at root ("src/main"
// lives directly under root).
func New(logger *logrus.Logger, repo *git.Repository, root string) *Syncer {
	return &Syncer{logger: logger, repo: repo, root: root}
}

// Sync applies archivePath's entries onto the tree tracked by tracked (the
// existing file set under src/main), updating tracked in place, then
// commits if anything changed. messageID becomes the commit message;
// commitTime and identity set author/committer date and identity.
func (s *Syncer) Sync(archivePath string, filters Filters, tracked *node.Node, enhance EnhanceFunc,
	messageID string, commitTime time.Time, identity object.Signature) (created bool, err error) {

	existing := tracked.Snapshot()
	var added, removed []string

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return false, err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		archivePath := path.Clean(f.Name)
		if !filters.allows(archivePath) {
			continue
		}
		dest := destinationFor(archivePath)

		if _, wasTracked := existing[dest]; wasTracked {
			delete(existing, dest)
			copied, err := s.syncExisting(f, dest)
			if err != nil {
				return false, err
			}
			if copied {
				added = append(added, dest)
			}
			continue
		}

		if err := s.copyEntry(f, dest); err != nil {
			return false, err
		}
		added = append(added, dest)
		tracked.AddFile(dest)
	}

	if enhance != nil {
		extra, err := enhance(s.root)
		if err != nil {
			return false, err
		}
		for _, e := range extra {
			added = append(added, e)
			delete(existing, e)
			tracked.AddFile(e)
		}
	}

	remaining := make([]string, 0, len(existing))
	for p := range existing {
		remaining = append(remaining, p)
	}
	sort.Strings(remaining)
	for _, p := range remaining {
		if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(p))); err != nil && !os.IsNotExist(err) {
			return false, err
		}
		removed = append(removed, p)
		tracked.DeleteFile(p)
	}

	if len(added) == 0 && len(removed) == 0 {
		return false, nil
	}

	return true, s.commit(added, removed, messageID, commitTime, identity)
}

func destinationFor(archiveRelPath string) string {
	if strings.HasSuffix(archiveRelPath, ".java") {
		return "src/main/java/" + archiveRelPath
	}
	return "src/main/resources/" + archiveRelPath
}

// syncExisting handles an entry whose destination is already tracked: if
// the real path (through symlinks) differs, the old target is replaced;
// otherwise content is compared by hash and copied only on difference.
func (s *Syncer) syncExisting(f *zip.File, dest string) (copied bool, err error) {
	full := filepath.Join(s.root, filepath.FromSlash(dest))

	if real, err := filepath.EvalSymlinks(full); err == nil && real != full {
		if err := os.Remove(real); err != nil && !os.IsNotExist(err) {
			return false, err
		}
		if err := s.copyEntry(f, dest); err != nil {
			return false, err
		}
		return true, nil
	}

	existingHash, err := hashOfFile(full)
	if err != nil {
		return false, err
	}
	entryHash, err := hashOfZipEntry(f)
	if err != nil {
		return false, err
	}
	if existingHash == entryHash {
		return false, nil
	}
	if err := s.copyEntry(f, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Syncer) copyEntry(f *zip.File, dest string) error {
	full := filepath.Join(s.root, filepath.FromSlash(dest))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(full)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

func hashOfFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func hashOfZipEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h := sha1.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (s *Syncer) commit(added, removed []string, messageID string, commitTime time.Time, identity object.Signature) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return err
	}
	for _, p := range added {
		if _, err := wt.Add(filepath.ToSlash(p)); err != nil {
			return err
		}
	}
	for _, p := range removed {
		if _, err := wt.Remove(filepath.ToSlash(p)); err != nil && err != os.ErrNotExist {
			s.logger.Debugf("synctree: remove %s: %v", p, err)
		}
	}

	sig := identity
	sig.When = commitTime
	_, err = wt.Commit(messageID, &git.CommitOptions{
		Author:    &sig,
		Committer: &sig,
	})
	return err
}
