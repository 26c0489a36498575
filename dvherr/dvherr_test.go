package dvherr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 0, MappingMissing.ExitCode())
	assert.NotEqual(t, 0, ArgumentError.ExitCode())
	assert.NotEqual(t, 0, PushFailed.ExitCode())
}

func TestWrapPreservesKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ToolFailure, cause, "decompiler invocation failed")
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, ToolFailure, kind)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "decompiler invocation failed")
}

func TestExitCodeForGenericError(t *testing.T) {
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
}
