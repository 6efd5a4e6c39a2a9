package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPointIDIsDeterministic(t *testing.T) {
	a := pointID("trip:abc")
	assert.Equal(t, a, pointID("trip:abc"))
	assert.NotEqual(t, a, pointID("trip:abd"))

	parsed, err := uuid.Parse(a)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}
