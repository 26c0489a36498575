// Package branchpolicy implements the branch policy component (BP, spec
// §4.3): filters and orders a resolved version list under a declarative
// BranchSpec, and derives the effective start/end of the run.
package branchpolicy

import (
	"github.com/dvh-project/historian/branchconfig"
	"github.com/dvh-project/historian/dvherr"
	"github.com/dvh-project/historian/manifest"
	"github.com/dvh-project/historian/version"
)

// Result is BP's output: the filtered, ordered version list and the
// effective start/end ids.
type Result struct {
	Filtered []version.Info
	Start    version.ID
	End      version.ID
}

// unobfuscatedExclusions is the set of ids BP always drops unless the spec
// explicitly includes them: every unobfuscated variant, since they are
// synthetic insertions, not real catalogue entries, and should only be
// processed when a branch spec opts in via Include.
func unobfuscatedExclusions(versions []version.Info) map[version.ID]struct{} {
	out := make(map[version.ID]struct{})
	for _, v := range versions {
		if v.ID.IsUnobfuscatedVariant() {
			out[v.ID] = struct{}{}
		}
	}
	return out
}

// Apply filters/orders versions per spec, deriving start/end against
// latest. Returns dvherr.PolicyExcluded (spec's "BranchUnderspecified") if
// neither start nor end can be derived.
func Apply(versions []version.Info, spec branchconfig.BranchSpec, latest manifest.Latest) (Result, error) {
	filtered := filter(versions, spec)

	start := spec.Start
	if start == nil && len(filtered) > 0 {
		id := filtered[0].ID
		start = &id
	}

	end := spec.End
	if end == nil {
		derived, ok := deriveEnd(versions, filtered, spec, latest)
		if !ok {
			return Result{}, dvherr.New(dvherr.PolicyExcluded, "branch spec underspecified: no end version could be derived")
		}
		end = &derived
	}

	if start == nil {
		return Result{}, dvherr.New(dvherr.PolicyExcluded, "branch spec underspecified: no start version could be derived")
	}

	return Result{Filtered: filtered, Start: *start, End: *end}, nil
}

func filter(versions []version.Info, spec branchconfig.BranchSpec) []version.Info {
	if len(spec.Versions) > 0 {
		allow := make(map[version.ID]struct{}, len(spec.Versions))
		for _, id := range spec.Versions {
			allow[id] = struct{}{}
		}
		var out []version.Info
		for _, v := range versions {
			if _, ok := allow[v.ID]; ok {
				out = append(out, v)
			}
		}
		return out
	}

	exclude := unobfuscatedExclusions(versions)
	for _, id := range spec.Exclude {
		exclude[id] = struct{}{}
	}
	include := make(map[version.ID]struct{}, len(spec.Include))
	for _, id := range spec.Include {
		include[id] = struct{}{}
		delete(exclude, id)
	}

	var out []version.Info
	for _, v := range versions {
		if v.Kind == version.Special {
			if _, included := include[v.ID]; !included {
				continue
			}
		}
		if _, excluded := exclude[v.ID]; excluded {
			continue
		}
		if spec.Type == branchconfig.Release && v.Kind != version.Release {
			continue
		}
		out = append(out, v)
	}
	return out
}

func deriveEnd(all, filtered []version.Info, spec branchconfig.BranchSpec, latest manifest.Latest) (version.ID, bool) {
	if spec.Type == branchconfig.Release {
		if present(filtered, latest.Release) {
			return latest.Release, true
		}
		return "", false
	}

	releaseInfo, hasRelease := find(filtered, latest.Release)
	snapshotInfo, hasSnapshot := find(filtered, latest.Snapshot)
	switch {
	case hasRelease && hasSnapshot:
		if snapshotInfo.TimeReleased.After(releaseInfo.TimeReleased) {
			return latest.Snapshot, true
		}
		return latest.Release, true
	case hasRelease:
		return latest.Release, true
	case hasSnapshot:
		return latest.Snapshot, true
	default:
		return "", false
	}
}

func present(versions []version.Info, id version.ID) bool {
	_, ok := find(versions, id)
	return ok
}

func find(versions []version.Info, id version.ID) (version.Info, bool) {
	for _, v := range versions {
		if v.ID == id {
			return v, true
		}
	}
	return version.Info{}, false
}
