// Package reposync implements the repository driver (RD, spec §4.10):
// branch lifecycle management, remote provisioning, and batched
// common-ancestor-aware force-push.
package reposync

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/sirupsen/logrus"

	"github.com/dvh-project/historian/dvherr"
)

// pushChunkSize is K from spec §4.10's batched push protocol.
const pushChunkSize = 10

// Driver owns the output repository for the duration of a run.
type Driver struct {
	logger *logrus.Logger
	repo   *git.Repository
	root   string
}

// Open opens the repository at root, initializing a fresh one if absent.
// justCreated reports whether a new repository was initialized.
func Open(logger *logrus.Logger, root string) (d *Driver, justCreated bool, err error) {
	repo, err := git.PlainOpen(root)
	if err == git.ErrRepositoryNotExists {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, false, err
		}
		repo, err = git.PlainInit(root, false)
		if err != nil {
			return nil, false, err
		}
		return &Driver{logger: logger, repo: repo, root: root}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &Driver{logger: logger, repo: repo, root: root}, false, nil
}

// Repo exposes the underlying repository for synctree/resume to share.
func (d *Driver) Repo() *git.Repository { return d.repo }

// Root is the working-tree root on disk.
func (d *Driver) Root() string { return d.root }

func (d *Driver) branchExists(branch string) bool {
	_, err := d.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	return err == nil
}

func (d *Driver) currentBranch() string {
	head, err := d.repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

// Configure drives the branch-lifecycle state machine of spec §4.10,
// always finishing with a hard reset and clean.
func (d *Driver) Configure(branch string, startOver, requiredRestart, checkout bool, remoteName string) (branchJustCreated bool, err error) {
	branchRef := plumbing.NewBranchReferenceName(branch)
	exists := d.branchExists(branch)

	switch {
	case (startOver || requiredRestart) && exists:
		if err := d.orphanCheckout(branch); err != nil {
			return false, err
		}
		branchJustCreated = true
	case checkout && remoteName != "" && d.remoteHasBranch(remoteName, branch):
		d.repo.Storer.RemoveReference(branchRef)
		if err := d.checkoutRemoteTracking(remoteName, branch); err != nil {
			return false, err
		}
	case d.currentBranch() != branch:
		if exists {
			if err := d.checkoutExisting(branch); err != nil {
				return false, err
			}
		} else {
			if err := d.orphanCheckout(branch); err != nil {
				return false, err
			}
			branchJustCreated = true
		}
	}

	if err := d.hardResetAndClean(); err != nil {
		return branchJustCreated, err
	}
	return branchJustCreated, nil
}

// orphanCheckout creates branch with no parent commit: any existing ref is
// dropped, HEAD is pointed at the (as yet unborn) branch, and the working
// tree is cleared so the next commit becomes a root commit.
func (d *Driver) orphanCheckout(branch string) error {
	branchRef := plumbing.NewBranchReferenceName(branch)
	d.repo.Storer.RemoveReference(branchRef)
	if err := d.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return err
	}
	return clearWorkTree(d.root)
}

func (d *Driver) checkoutExisting(branch string) error {
	wt, err := d.repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch), Force: true})
}

func (d *Driver) checkoutRemoteTracking(remoteName, branch string) error {
	remoteRef := plumbing.NewRemoteReferenceName(remoteName, branch)
	ref, err := d.repo.Reference(remoteRef, true)
	if err != nil {
		return err
	}
	branchRef := plumbing.NewBranchReferenceName(branch)
	if err := d.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, ref.Hash())); err != nil {
		return err
	}
	wt, err := d.repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true})
}

func (d *Driver) hardResetAndClean() error {
	wt, err := d.repo.Worktree()
	if err != nil {
		return err
	}
	if head, err := d.repo.Head(); err == nil {
		if err := wt.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset}); err != nil {
			return err
		}
	}
	return wt.Clean(&git.CleanOptions{Dir: true})
}

func clearWorkTree(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) remoteHasBranch(remoteName, branch string) bool {
	_, err := d.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	return err == nil
}

// EnsureRemote scans existing remotes for an equal URL, reusing it if
// found; otherwise adds one under the first unused name in
// origin, origin1, origin2, .... added reports whether a new remote was
// created (so the caller can remove it on exit).
func (d *Driver) EnsureRemote(url string) (name string, added bool, err error) {
	remotes, err := d.repo.Remotes()
	if err != nil {
		return "", false, err
	}
	for _, r := range remotes {
		cfg := r.Config()
		for _, u := range cfg.URLs {
			if u == url {
				return cfg.Name, false, nil
			}
		}
	}
	for i := 0; ; i++ {
		candidate := "origin"
		if i > 0 {
			candidate = fmt.Sprintf("origin%d", i)
		}
		if _, err := d.repo.Remote(candidate); err == git.ErrRemoteNotFound {
			if _, err := d.repo.CreateRemote(&config.RemoteConfig{Name: candidate, URLs: []string{url}}); err != nil {
				return "", false, err
			}
			return candidate, true, nil
		}
	}
}

// RemoveRemote deletes a remote added by EnsureRemote (called on exit when
// added was true).
func (d *Driver) RemoveRemote(name string) error {
	return d.repo.DeleteRemote(name)
}

// FetchEager performs an initial eager fetch with a text progress
// monitor, per spec §4.10.
func (d *Driver) FetchEager(remoteName string) error {
	err := d.repo.Fetch(&git.FetchOptions{RemoteName: remoteName, Progress: os.Stdout})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return err
	}
	return nil
}

// PushStatus mirrors spec §4.10's three-way push outcome.
type PushStatus int

const (
	PushOK PushStatus = iota
	PushUpToDate
)

// Push force-pushes branch to remoteName in its entirety, treating
// "already up to date" as a successful no-op (spec §9 open question: "up
// to date" is success).
func (d *Driver) Push(remoteName, branch string) (PushStatus, error) {
	err := d.repo.Push(&git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/heads/%s", branch, branch))},
		Force:      true,
	})
	return classifyPushErr(err)
}

func classifyPushErr(err error) (PushStatus, error) {
	switch err {
	case nil:
		return PushOK, nil
	case git.NoErrAlreadyUpToDate:
		return PushUpToDate, nil
	default:
		return 0, dvherr.Wrap(dvherr.PushFailed, err, "push rejected")
	}
}

// PushRemaining implements spec §4.10's "push remaining commits"
// procedure: find the remote's common ancestor with local HEAD and push
// only what the remote lacks, oldest chunk first, so every chunk's local
// tip is a fast-forward of its predecessor (spec §5, P6).
func (d *Driver) PushRemaining(remoteName, branch string) error {
	branchRef := plumbing.NewBranchReferenceName(branch)
	localCommits, err := d.commitsNewestFirst(branchRef)
	if err != nil {
		return err
	}
	if len(localCommits) == 0 {
		return nil
	}

	remoteRef := plumbing.NewRemoteReferenceName(remoteName, branch)
	remoteHead, err := d.repo.Reference(remoteRef, true)
	if err != nil {
		return d.forcePushChunked(remoteName, branch, localCommits)
	}

	localIdx := make(map[plumbing.Hash]int, len(localCommits))
	for i, c := range localCommits {
		localIdx[c.Hash] = i
	}
	remoteIter, err := d.repo.Log(&git.LogOptions{From: remoteHead.Hash()})
	if err != nil {
		return err
	}
	commonIdx := -1
	err = remoteIter.ForEach(func(c *object.Commit) error {
		if i, ok := localIdx[c.Hash]; ok {
			commonIdx = i
			return storer.ErrStop
		}
		return nil
	})
	remoteIter.Close()
	if err != nil && err != storer.ErrStop {
		return err
	}
	if commonIdx < 0 {
		return d.forcePushChunked(remoteName, branch, localCommits)
	}
	if commonIdx == 0 {
		return nil // remote is at HEAD; nothing to push
	}

	toPush := localCommits[:commonIdx+1]
	return d.pushChunked(remoteName, branch, toPush)
}

func (d *Driver) commitsNewestFirst(ref plumbing.ReferenceName) ([]*object.Commit, error) {
	r, err := d.repo.Reference(ref, true)
	if err != nil {
		return nil, err
	}
	iter, err := d.repo.Log(&git.LogOptions{From: r.Hash()})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

func (d *Driver) forcePushChunked(remoteName, branch string, localCommits []*object.Commit) error {
	return d.pushChunked(remoteName, branch, localCommits)
}

// pushChunked pushes newestFirst (HEAD-relative, indices 0..N) oldest
// chunk first: it reverses to oldest->newest order, then force-pushes the
// branch ref to progressively later commits every pushChunkSize steps,
// always finishing at the newest (index 0, i.e. HEAD).
func (d *Driver) pushChunked(remoteName, branch string, newestFirst []*object.Commit) error {
	oldestFirst := make([]*object.Commit, len(newestFirst))
	for i, c := range newestFirst {
		oldestFirst[len(newestFirst)-1-i] = c
	}

	var targets []plumbing.Hash
	for i := pushChunkSize - 1; i < len(oldestFirst); i += pushChunkSize {
		targets = append(targets, oldestFirst[i].Hash)
	}
	last := oldestFirst[len(oldestFirst)-1].Hash
	if len(targets) == 0 || targets[len(targets)-1] != last {
		targets = append(targets, last)
	}

	for _, target := range targets {
		pushErr := d.repo.Push(&git.PushOptions{
			RemoteName: remoteName,
			RefSpecs:   pushRefSpec(target, branch),
			Force:      true,
		})
		if _, err := classifyPushErr(pushErr); err != nil {
			return err
		}
	}
	return nil
}

func pushRefSpec(target plumbing.Hash, branch string) []config.RefSpec {
	return []config.RefSpec{config.RefSpec(fmt.Sprintf("+%s:refs/heads/%s", target.String(), branch))}
}
