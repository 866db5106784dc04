package malicious

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/tssd/pkg/party"
)

func TestParse(t *testing.T) {
	b := Parse("R2BadShare", []uint32{1}, []uint32{2, 3})
	assert.Equal(t, R2BadShare, b.Kind)
	assert.Equal(t, []party.ShareIndex{1}, b.Victims)
	assert.Equal(t, []party.ShareIndex{2, 3}, b.Faulty)

	assert.True(t, b.IsVictim(1))
	assert.False(t, b.IsVictim(2))
	assert.True(t, b.IsFaulty(3))
	assert.False(t, b.IsFaulty(1))
	assert.True(t, b.Targets(R2BadShare, 2, 1))
	assert.False(t, b.Targets(R2BadEncryption, 2, 1))
	assert.False(t, b.Targets(R2BadShare, 1, 2))
}

func TestParseUnknown(t *testing.T) {
	for _, name := range []string{"", "honest", "R4Whatever", "r2badshare"} {
		b := Parse(name, []uint32{1}, []uint32{2})
		assert.Equal(t, Behaviour{Kind: Honest}, b, name)
		assert.True(t, b.IsHonest())
		assert.False(t, b.IsFaulty(2))
	}
}

func TestParseDedup(t *testing.T) {
	b := Parse("R3FalseAccusation", []uint32{4, 0, 4}, []uint32{3, 1, 3, 2})
	assert.Equal(t, []party.ShareIndex{0, 4}, b.Victims)
	assert.Equal(t, []party.ShareIndex{1, 2, 3}, b.Faulty)
	assert.Equal(t, "R3FalseAccusation{victims: [0 4], faulty: [1 2 3]}", b.String())
}

func TestParseIndexList(t *testing.T) {
	l, err := ParseIndexList("1, 2,3")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, l)

	l, err = ParseIndexList("")
	require.NoError(t, err)
	assert.Empty(t, l)

	_, err = ParseIndexList("1,a")
	require.Error(t, err)
}
