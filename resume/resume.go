// Package resume implements the resume planner (RP, spec §4.4): consults
// the repository's commit history to decide the run's skip offset, or
// whether a restart is required.
package resume

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/dvh-project/historian/dvherr"
	"github.com/dvh-project/historian/version"
)

// FindLastMatchingCommit walks branchRef newest-first looking for the
// newest commit whose committer email matches identityEmail, excluding
// the known initial metadata commit. Returns found=false if none exists.
func FindLastMatchingCommit(repo *git.Repository, branchRef plumbing.ReferenceName, identityEmail string, initialCommit plumbing.Hash) (message string, found bool, err error) {
	ref, err := repo.Reference(branchRef, true)
	if err != nil {
		return "", false, err
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return "", false, err
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash == initialCommit {
			return nil
		}
		if c.Committer.Email == identityEmail {
			message = c.Message
			found = true
			return storer.ErrStop
		}
		return nil
	})
	if err == storer.ErrStop {
		err = nil
	}
	return message, found, err
}

// Result is RP's decision for this run.
type Result struct {
	SkipCount int
	Restart   bool
}

// Options gathers everything Plan needs to decide skip/restart (spec
// §4.4).
type Options struct {
	// JustCreated is true when the branch was just (re-)created this run.
	JustCreated bool
	// LastCommitMessage is the message of the newest commit whose
	// committer matches the configured identity (excluding the initial
	// metadata commit), or "" if none was found.
	LastCommitMessage string
	// Manifest is the full resolved version list, ordered ascending by
	// release time.
	Manifest []version.Info
	// ToGenerate is BP's filtered, ordered plan for this run.
	ToGenerate []version.Info
	Start, End          version.ID
	StartOverIfRequired bool
}

// Plan decides the run's skip offset per spec §4.4's ordered rules.
func Plan(opts Options) (Result, error) {
	if opts.JustCreated {
		return Result{SkipCount: 0}, nil
	}
	if opts.LastCommitMessage == "" {
		return Result{SkipCount: 0}, nil
	}

	idStar := version.ID(opts.LastCommitMessage)

	if i := indexOf(opts.ToGenerate, idStar); i >= 0 {
		return Result{SkipCount: i + 1}, nil
	}

	manifestIdx := indexOfInfo(opts.Manifest, idStar)
	if manifestIdx < 0 {
		return restartOrFail(opts, "last committed version "+string(idStar)+" is not present in the manifest")
	}

	startIdx := indexOfInfo(opts.Manifest, opts.Start)
	endIdx := indexOfInfo(opts.Manifest, opts.End)

	if startIdx >= 0 && manifestIdx < startIdx {
		return restartOrFail(opts, "last committed version "+string(idStar)+" is older than the configured start")
	}
	if endIdx >= 0 && manifestIdx > endIdx {
		return Result{SkipCount: len(opts.ToGenerate)}, nil
	}

	return restartOrFail(opts, "last committed version "+string(idStar)+" is excluded by the current branch policy")
}

func restartOrFail(opts Options, reason string) (Result, error) {
	if opts.StartOverIfRequired {
		return Result{SkipCount: 0, Restart: true}, nil
	}
	return Result{}, dvherr.New(dvherr.ResumeMismatch, reason)
}

func indexOf(infos []version.Info, id version.ID) int {
	for i, info := range infos {
		if info.ID == id {
			return i
		}
	}
	return -1
}

func indexOfInfo(infos []version.Info, id version.ID) int {
	return indexOf(infos, id)
}
