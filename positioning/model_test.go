package positioning

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceModelRoundTrip(t *testing.T) {
	models := []DistanceModel{
		DefaultModel(),
		LogDistance(-59, -25, Meters),
		FreeSpace(-41, Millimeters),
		LogNormalShadow(-55, 3.1, Centimeters),
		Fitted(-49.656, -43.284, 4.328, Centimeters),
	}
	for _, m := range models {
		t.Run(m.String(), func(t *testing.T) {
			for rssi := -100; rssi <= -20; rssi += 7 {
				d := m.DistanceFromRSSI(int16(rssi))
				assert.InDelta(t, float64(rssi), m.RSSIFromDistance(d), 1e-6)
			}
		})
	}
}

func TestDistanceFromRSSIAtReferencePower(t *testing.T) {
	m := LogDistance(-49, -40, Centimeters)
	assert.InDelta(t, 100.0, m.DistanceFromRSSI(-49), 1e-9)
	assert.InDelta(t, 1000.0, m.DistanceFromRSSI(-89), 1e-9)

	mm := LogDistance(-49, -40, Millimeters)
	assert.InDelta(t, 1000.0, mm.DistanceFromRSSI(-49), 1e-9)
}

func TestRSSIFromNonPositiveDistance(t *testing.T) {
	m := DefaultModel()
	assert.True(t, math.IsInf(m.RSSIFromDistance(0), -1))
	assert.True(t, math.IsInf(m.RSSIFromDistance(-3), -1))
}

func TestConvert(t *testing.T) {
	m := DefaultModel()
	assert.InDelta(t, 1.0, m.Convert(100, Meters), 1e-12)
	assert.InDelta(t, 1000.0, m.Convert(100, Millimeters), 1e-12)
	assert.InDelta(t, 100.0, m.Convert(100, Centimeters), 1e-12)
	assert.Equal(t, 0.0, m.Convert(-5, Meters))

	inM := LogDistance(-49, -40, Meters)
	assert.InDelta(t, 250.0, inM.Convert(2.5, Centimeters), 1e-12)
}

func TestPresets(t *testing.T) {
	fs := FreeSpace(-40, Meters)
	assert.Equal(t, -20.0, fs.B)
	assert.Equal(t, 2.0, fs.N)
	assert.Equal(t, KindFreeSpace, fs.Kind)

	ln := LogNormalShadow(-50, 2.7, Meters)
	assert.InDelta(t, -27.0, ln.B, 1e-12)

	assert.Equal(t, KindCustom, Custom(-50, -30, 3, "", Meters).Kind)
	assert.Equal(t, "warehouse", Custom(-50, -30, 3, "warehouse", Meters).Kind)
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultModel().Validate())

	err := LogDistance(-49, 0, Centimeters).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSlopeNotNegative))

	err = LogDistance(-49, 12, Centimeters).Validate()
	assert.ErrorIs(t, err, ErrSlopeNotNegative)

	err = LogDistance(3, -40, Centimeters).Validate()
	assert.ErrorIs(t, err, ErrReferencePowerPositive)
}

func TestParseUnit(t *testing.T) {
	for in, want := range map[string]DistanceUnit{"mm": Millimeters, "CM": Centimeters, "meters": Meters, "": Centimeters} {
		got, err := ParseUnit(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseUnit("furlong")
	assert.Error(t, err)

	var u DistanceUnit
	require.NoError(t, u.UnmarshalText([]byte("m")))
	assert.Equal(t, Meters, u)
}

func TestConfidenceScale(t *testing.T) {
	assert.Equal(t, 100.0, Centimeters.ConfidenceScale())
	assert.Equal(t, 1.0, Meters.ConfidenceScale())
	assert.Equal(t, 1000.0, Millimeters.ConfidenceScale())
	assert.InDelta(t, 0.5, Confidence(1, Meters), 1e-12)
	assert.InDelta(t, 0.5, Confidence(100, Centimeters), 1e-12)
}

func TestFitModel(t *testing.T) {
	truth := Fitted(-49.656, -43.284, 4.328, Centimeters)
	var samples []CalibrationSample
	for _, d := range []float64{50, 100, 150, 200, 300, 400, 600, 800} {
		samples = append(samples, CalibrationSample{Distance: d, RSSI: truth.RSSIFromDistance(d)})
	}
	samples = append(samples, CalibrationSample{Distance: 0, RSSI: -10})

	fit, err := FitModel(samples, Centimeters)
	require.NoError(t, err)
	assert.Equal(t, 8, fit.Samples)
	assert.InDelta(t, truth.A, fit.Model.A, 1e-6)
	assert.InDelta(t, truth.B, fit.Model.B, 1e-6)
	assert.InDelta(t, 4.3284, fit.Model.N, 1e-6)
	assert.InDelta(t, 1.0, fit.R2, 1e-6)
	assert.Equal(t, KindFitted, fit.Model.Kind)
}

func TestFitModelTooFewSamples(t *testing.T) {
	_, err := FitModel([]CalibrationSample{{Distance: 100, RSSI: -49}, {Distance: 100, RSSI: -50}, {Distance: 100, RSSI: -48}}, Centimeters)
	assert.ErrorIs(t, err, ErrTooFewSamples)
}
