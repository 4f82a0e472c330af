package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blunav-go/positioning"
	"blunav-go/tracking"
)

func fix(tag string, seq uint32, x float64, ts time.Time) tracking.Fix {
	return tracking.Fix{
		Tag:     tag,
		Session: "s1",
		Seq:     seq,
		Result: positioning.LocationResult{
			X: x, Y: 2 * x, Z: 63,
			Confidence:  0.5,
			Error:       12.5,
			Method:      positioning.MethodWeighted,
			BeaconCount: 3,
			Unit:        positioning.Centimeters,
			Timestamp:   ts,
		},
	}
}

func TestSaveAndHistory(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "fixes.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	base := time.UnixMilli(1714564800000)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Save(fix("A", uint32(i), float64(i*10), base.Add(time.Duration(i)*time.Second))))
	}
	s.HandleFix(fix("B", 1, 1, base))

	tags, err := s.Tags()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, tags)

	h, err := s.History("A", 0)
	require.NoError(t, err)
	require.Equal(t, 5, h.Len())

	h, err = s.History("A", 2)
	require.NoError(t, err)
	all := h.All()
	require.Len(t, all, 2)
	assert.Equal(t, 40.0, all[0].X)
	assert.Equal(t, 50.0, all[1].X)
	assert.Equal(t, 100.0, all[1].Y)
	assert.Equal(t, positioning.MethodWeighted, all[1].Method)
	assert.Equal(t, positioning.Centimeters, all[1].Unit)
	assert.Equal(t, base.Add(5*time.Second).UnixMilli(), all[1].Timestamp.UnixMilli())

	avg, err := h.Average()
	require.NoError(t, err)
	assert.InDelta(t, 45.0, avg.X, 1e-9)

	h, err = s.History("missing", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Len())
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixes.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(fix("A", 1, 1, time.Now())))
	require.NoError(t, s.Close())

	// second open finds the schema current
	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	h, err := s.History("A", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Len())
}

func TestPrune(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "prune.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()
	require.NoError(t, s.Save(fix("A", 1, 1, now.Add(-time.Hour))))
	require.NoError(t, s.Save(fix("A", 2, 2, now)))

	n, err := s.Prune(now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	h, err := s.History("A", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Len())
}
