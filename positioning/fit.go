package positioning

import (
	"errors"
	"fmt"
	"math"

	"github.com/sajari/regression"
)

// CalibrationSample is one RSSI reading taken at a known distance (model unit).
type CalibrationSample struct {
	Distance float64
	RSSI     float64
}

// FitResult is a fitted model plus its coefficient of determination.
type FitResult struct {
	Model   DistanceModel
	R2      float64
	Samples int
}

var ErrTooFewSamples = errors.New("positioning: need at least 3 calibration samples at distinct distances")

// FitModel regresses rssi on log10(d_m) and returns the fitted preset.
// Samples with non-positive distance are skipped.
func FitModel(samples []CalibrationSample, unit DistanceUnit) (FitResult, error) {
	var r regression.Regression
	r.SetObserved("rssi")
	r.SetVar(0, "log10_distance_m")

	used := 0
	seen := make(map[float64]struct{})
	for _, s := range samples {
		meters := unit.ToMeters(s.Distance)
		if meters <= 0 {
			continue
		}
		r.Train(regression.DataPoint(s.RSSI, []float64{math.Log10(meters)}))
		seen[s.Distance] = struct{}{}
		used++
	}
	if used < 3 || len(seen) < 2 {
		return FitResult{}, ErrTooFewSamples
	}
	if err := r.Run(); err != nil {
		return FitResult{}, fmt.Errorf("fit distance model: %w", err)
	}
	coeffs := r.GetCoeffs()
	if len(coeffs) < 2 {
		return FitResult{}, fmt.Errorf("fit distance model: got %d coefficients", len(coeffs))
	}
	a, b := coeffs[0], coeffs[1]
	return FitResult{
		Model:   Fitted(a, b, -b/10, unit),
		R2:      r.R2,
		Samples: used,
	}, nil
}
