package branchpolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvh-project/historian/branchconfig"
	"github.com/dvh-project/historian/manifest"
	"github.com/dvh-project/historian/version"
)

func mkInfo(id string, kind version.Kind, t time.Time) version.Info {
	return version.Info{ID: version.ID(id), Kind: kind, TimeReleased: t}
}

func TestApplyReleaseOnlyExcludesSnapshotsAndSpecials(t *testing.T) {
	base := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	versions := []version.Info{
		mkInfo("1.18", version.Release, base),
		mkInfo("23w13a", version.Snapshot, base.AddDate(0, 1, 0)),
		mkInfo("b1.8.1", version.Special, base.AddDate(0, 2, 0)),
		mkInfo("1.19", version.Release, base.AddDate(0, 3, 0)),
	}
	latest := manifest.Latest{Release: "1.19", Snapshot: "23w13a"}

	res, err := Apply(versions, branchconfig.BranchSpec{Type: branchconfig.Release}, latest)
	require.NoError(t, err)
	assert.Len(t, res.Filtered, 2)
	assert.Equal(t, version.ID("1.18"), res.Start)
	assert.Equal(t, version.ID("1.19"), res.End)
}

func TestApplyExplicitVersionsIsExhaustive(t *testing.T) {
	base := time.Now()
	versions := []version.Info{
		mkInfo("1.18", version.Release, base),
		mkInfo("1.19", version.Release, base),
	}
	spec := branchconfig.BranchSpec{Versions: []version.ID{"1.18"}}
	res, err := Apply(versions, spec, manifest.Latest{Release: "1.19"})
	require.NoError(t, err)
	assert.Len(t, res.Filtered, 1)
	assert.Equal(t, version.ID("1.18"), res.Filtered[0].ID)
}

func TestApplyIncludeOverridesSpecialExclusion(t *testing.T) {
	base := time.Now()
	versions := []version.Info{
		mkInfo("b1.8.1", version.Special, base),
		mkInfo("1.19", version.Release, base.Add(time.Hour)),
	}
	spec := branchconfig.BranchSpec{Include: []version.ID{"b1.8.1"}}
	res, err := Apply(versions, spec, manifest.Latest{Release: "1.19"})
	require.NoError(t, err)
	assert.Len(t, res.Filtered, 2)
}

func TestApplyFailsWhenEndCannotBeDerived(t *testing.T) {
	versions := []version.Info{mkInfo("1.18", version.Release, time.Now())}
	spec := branchconfig.BranchSpec{Type: branchconfig.Release}
	_, err := Apply(versions, spec, manifest.Latest{Release: "9.99"})
	assert.Error(t, err)
}
