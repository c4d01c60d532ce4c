package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDbToScale(t *testing.T) {
	assert.Equal(t, float32(1), DbToScale(UnityGainDb))
	assert.InDelta(t, 2.0, DbToScale(6.0206), 0.001)
	assert.InDelta(t, 0.5, DbToScale(-6.0206), 0.001)

	// At or below the silence threshold the scale is exactly zero, not
	// merely small.
	assert.Equal(t, float32(0), DbToScale(MutedGainDb))
	assert.Equal(t, float32(0), DbToScale(MutedGainDb-40))
}

func TestValidateGainDb(t *testing.T) {
	require.NoError(t, ValidateGainDb(0))
	require.NoError(t, ValidateGainDb(MaxGainDb))
	require.NoError(t, ValidateGainDb(MutedGainDb))
	require.Error(t, ValidateGainDb(MaxGainDb+1))
	require.Error(t, ValidateGainDb(MutedGainDb-1))
}

func TestGainCombinedDb(t *testing.T) {
	g := NewGain()
	assert.Equal(t, UnityGainDb, g.CombinedDb())
	assert.False(t, g.IsSilent())

	require.NoError(t, g.SetSourceGainDb(-6))
	require.NoError(t, g.SetStreamGainDb(-4))
	assert.InDelta(t, -10.0, g.CombinedDb(), 1e-9)

	g.SetMute(true)
	assert.Equal(t, MutedGainDb, g.CombinedDb())
	assert.True(t, g.IsSilent())

	g.SetMute(false)
	assert.InDelta(t, -10.0, g.CombinedDb(), 1e-9)
}

func TestGainCombinedClampsAtSilence(t *testing.T) {
	g := NewGain()
	require.NoError(t, g.SetSourceGainDb(-100))
	require.NoError(t, g.SetStreamGainDb(-100))
	assert.Equal(t, MutedGainDb, g.CombinedDb())
	assert.True(t, g.IsSilent())
}
