package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrint(t *testing.T) {
	assert.Equal(t, "dvh version dev", Print("dvh"))
}
