package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfRelease(t *testing.T) {
	assert.Equal(t, Release, KindOf("1.19"))
	assert.Equal(t, Release, KindOf("1.19.4"))
}

func TestKindOfSnapshot(t *testing.T) {
	assert.Equal(t, Snapshot, KindOf("23w13a"))
	assert.Equal(t, Snapshot, KindOf("1.19 Pre-Release 1"))
	assert.Equal(t, Snapshot, KindOf("1.19-rc1"))
	assert.Equal(t, Snapshot, KindOf("1.19-pre1"))
	assert.Equal(t, Snapshot, KindOf("1.19-snapshot-1"))
}

func TestKindOfSpecial(t *testing.T) {
	assert.Equal(t, Special, KindOf("b1.8.1"))
	assert.Equal(t, Special, KindOf("rd-132211"))
}

func TestUnobfuscatedVariant(t *testing.T) {
	id := ID("1.19_unobfuscated")
	assert.True(t, id.IsUnobfuscatedVariant())
	assert.Equal(t, ID("1.19"), id.Base())

	base := ID("1.19")
	assert.False(t, base.IsUnobfuscatedVariant())
	assert.Equal(t, base, base.Base())
}
