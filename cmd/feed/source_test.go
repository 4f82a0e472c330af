package main

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blunav-go/positioning"
	"blunav-go/server"
)

func TestParseScanLine(t *testing.T) {
	tests := []struct {
		line string
		want server.Sample
		err  bool
	}{
		{"20:a7:16:5e:c5:d6,-61", server.Sample{BeaconID: "20:A7:16:5E:C5:D6", RSSI: -61}, false},
		{"20A7165EC5D6 -70.6", server.Sample{BeaconID: "20:A7:16:5E:C5:D6", RSSI: -71}, false},
		{"beacon-3;\t-55", server.Sample{BeaconID: "BEACON-3", RSSI: -55}, false},
		{"", server.Sample{}, true},
		{"# comment", server.Sample{}, true},
		{"20:A7:16:5E:C5:D6", server.Sample{}, true},
		{"20:A7:16:5E:C5:D6,loud", server.Sample{}, true},
	}
	for _, tt := range tests {
		got, err := parseScanLine(tt.line)
		if tt.err {
			assert.Error(t, err, tt.line)
			continue
		}
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got)
	}
}

func TestReadScannerKeepsLatest(t *testing.T) {
	in := strings.NewReader("AA:BB:CC:DD:EE:01,-80\nAA:BB:CC:DD:EE:02,-60\nnoise\nAA:BB:CC:DD:EE:01,-50\n")
	l := newLatest()
	good, bad, err := readScanner(in, l)
	require.NoError(t, err)
	assert.Equal(t, 3, good)
	assert.Equal(t, 1, bad)

	got := l.take(server.MaxSamples)
	assert.Equal(t, []server.Sample{
		{BeaconID: "AA:BB:CC:DD:EE:01", RSSI: -50},
		{BeaconID: "AA:BB:CC:DD:EE:02", RSSI: -60},
	}, got)
	assert.Empty(t, l.take(server.MaxSamples))
}

func TestTakeCaps(t *testing.T) {
	l := newLatest()
	for i := 0; i < 20; i++ {
		l.put(server.Sample{BeaconID: string(rune('A' + i)), RSSI: int16(-40 - i)})
	}
	got := l.take(server.MaxSamples)
	require.Len(t, got, server.MaxSamples)
	assert.Equal(t, int16(-40), got[0].RSSI)
}

func TestWalkerNoiseless(t *testing.T) {
	model := positioning.DefaultModel()
	anchors := []positioning.Anchor{
		{ID: "a", X: 0, Y: 0},
		{ID: "b", X: 800, Y: 0},
		{ID: "c", X: 0, Y: 600},
		{ID: "d", X: 800, Y: 600},
	}
	w := newWalker(anchors, model, 0, 1)
	p, samples := w.at(0)
	assert.InDelta(t, 400+150, p.X, 1e-9)
	assert.InDelta(t, 300, p.Y, 1e-9)
	require.Len(t, samples, 4)
	for i, s := range samples {
		d := math.Hypot(anchors[i].X-p.X, anchors[i].Y-p.Y)
		assert.InDelta(t, model.RSSIFromDistance(d), float64(s.RSSI), 0.5)
	}

	// a quarter period later the tag is above the centroid
	p, _ = w.at(w.period / 4)
	assert.InDelta(t, 400, p.X, 1e-9)
	assert.InDelta(t, 450, p.Y, 1e-9)
}

func TestWalkerNoiseIsSeeded(t *testing.T) {
	anchors := []positioning.Anchor{{ID: "a"}, {ID: "b", X: 500}, {ID: "c", Y: 500}}
	_, s1 := newWalker(anchors, positioning.DefaultModel(), 3, 42).at(1)
	_, s2 := newWalker(anchors, positioning.DefaultModel(), 3, 42).at(1)
	assert.Equal(t, s1, s2)
}
