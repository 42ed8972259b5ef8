package id

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixedKinds(t *testing.T) {
	assert.Equal(t, "ord", Kind(Order()))
	assert.Equal(t, "dec", Kind(Decision()))
	assert.Equal(t, "cnd", Kind(Candidate()))
	assert.Equal(t, "", Kind("not-an-id"))
	assert.Equal(t, "", Kind("xyz_123"))
}

func TestBodyIsValidULID(t *testing.T) {
	id := Order()
	require.Len(t, id, 4+26)
	_, err := ulid.ParseStrict(id[4:])
	require.NoError(t, err)
}

func TestSameKindSortsByCreation(t *testing.T) {
	a := Candidate()
	b := Candidate()
	assert.Less(t, a, b)
}
