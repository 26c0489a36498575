package mapping

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvh-project/historian/dvherr"
)

const clientMappings = `
net.minecraft.client.Minecraft -> bco:
    int field -> a
    void tick() -> b
net.minecraft.ServerOnly -> xyz:
    int field -> a
`

const serverMappings = `
net.minecraft.client.Minecraft -> bco:
    int field -> a
`

const serverMappingsMismatch = `
net.minecraft.client.Minecraft -> bco:
    int field -> zzz
`

func TestParseAndSuperset(t *testing.T) {
	client, err := Parse(strings.NewReader(clientMappings))
	require.NoError(t, err)
	server, err := Parse(strings.NewReader(serverMappings))
	require.NoError(t, err)

	require.NoError(t, VerifySuperset(client, server))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, client))
	assert.Contains(t, buf.String(), "tsrg2\n")
	assert.Contains(t, buf.String(), "bco net.minecraft.client.Minecraft")
}

func TestVerifySupersetFailsOnDisagreement(t *testing.T) {
	client, err := Parse(strings.NewReader(clientMappings))
	require.NoError(t, err)
	server, err := Parse(strings.NewReader(serverMappingsMismatch))
	require.NoError(t, err)

	err = VerifySuperset(client, server)
	require.Error(t, err)
	kind, ok := dvherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, dvherr.MappingMismatch, kind)
}

func TestVerifySupersetFailsOnMissingClass(t *testing.T) {
	client, err := Parse(strings.NewReader("net.minecraft.Only -> a:\n"))
	require.NoError(t, err)
	server, err := Parse(strings.NewReader("net.minecraft.Other -> b:\n"))
	require.NoError(t, err)

	err = VerifySuperset(client, server)
	assert.Error(t, err)
}

func TestParseFileMissingReturnsPlainError(t *testing.T) {
	_, err := ParseFile("/nonexistent/path/mappings.txt")
	assert.Error(t, err)
	_, ok := dvherr.KindOf(err)
	assert.False(t, ok, "missing-file error should be a plain os error, not a typed dvherr")
}
