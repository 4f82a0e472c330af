package positioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuse(t *testing.T) {
	t.Run("midpoint", func(t *testing.T) {
		got, err := Fuse([]WeightedResult{
			{Result: LocationResult{X: 0, BeaconCount: 3}, Weight: 0.5},
			{Result: LocationResult{X: 10, BeaconCount: 5}, Weight: 0.5},
		})
		require.NoError(t, err)
		assert.Equal(t, 5.0, got.X)
		assert.Equal(t, 5, got.BeaconCount)
		assert.Equal(t, MethodFused, got.Method)
	})

	t.Run("weighted", func(t *testing.T) {
		got, err := Fuse([]WeightedResult{
			{Result: LocationResult{X: 0, Y: 4, Z: 1, Confidence: 0.2, Error: 40, BeaconCount: 3}, Weight: 3},
			{Result: LocationResult{X: 8, Y: 0, Z: 5, Confidence: 0.6, Error: 20, BeaconCount: 4}, Weight: 1},
		})
		require.NoError(t, err)
		assert.InDelta(t, 2.0, got.X, 1e-12)
		assert.InDelta(t, 3.0, got.Y, 1e-12)
		assert.InDelta(t, 2.0, got.Z, 1e-12)
		assert.InDelta(t, 0.3, got.Confidence, 1e-12)
		assert.InDelta(t, 35.0, got.Error, 1e-12)
		assert.Equal(t, 4, got.BeaconCount)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Fuse(nil)
		assert.ErrorIs(t, err, ErrNoResults)
	})

	t.Run("zero weight", func(t *testing.T) {
		_, err := Fuse([]WeightedResult{{Result: LocationResult{X: 1}}, {Result: LocationResult{X: 2}}})
		assert.ErrorIs(t, err, ErrZeroWeight)
	})
}
