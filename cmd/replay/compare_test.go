package main

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareTracksFindsShift(t *testing.T) {
	ref := make([][2]float64, 20)
	for i := range ref {
		ref[i] = [2]float64{float64(i), math.Sin(float64(i))}
	}
	// pred lags ref by three frames
	pred := append([][2]float64{{9, 9}, {9, 9}, {9, 9}}, ref...)

	rmse, shift, ok := compareTracks(pred, ref, 5)
	require.True(t, ok)
	assert.Equal(t, 3, shift)
	assert.InDelta(t, 0, rmse, 1e-12)

	_, _, ok = compareTracks(nil, ref, 2)
	assert.False(t, ok)
}

func TestCompareTracksOffset(t *testing.T) {
	ref := [][2]float64{{0, 0}, {1, 0}, {2, 0}}
	pred := [][2]float64{{0, 3}, {1, 4}, {2, 3}}
	rmse, shift, ok := compareTracks(pred, ref, 0)
	require.True(t, ok)
	assert.Equal(t, 0, shift)
	assert.InDelta(t, math.Sqrt((9+16+9)/3.0), rmse, 1e-12)
}

func TestReadXY(t *testing.T) {
	in := "time,tag,x,y\n1,A,1.5,2\n2,B,9,9\n3,a,2.5,3\nbad,A,x,y\n"
	got, err := readXY(strings.NewReader(in), "A")
	require.NoError(t, err)
	assert.Equal(t, [][2]float64{{1.5, 2}, {2.5, 3}}, got)

	got, err = readXY(strings.NewReader("x_m,y_m\n1,2\n"), "A")
	require.NoError(t, err)
	assert.Equal(t, [][2]float64{{1, 2}}, got)

	_, err = readXY(strings.NewReader("a,b\n1,2\n"), "")
	assert.Error(t, err)
	_, err = readXY(strings.NewReader("x,y\n"), "")
	assert.Error(t, err)
}
