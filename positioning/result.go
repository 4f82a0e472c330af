package positioning

import (
	"fmt"
	"math"
	"time"
)

// Method tags.
const (
	MethodExact        = "trilateration_basic"
	MethodWeighted     = "trilateration_weighted"
	MethodLeastSquares = "trilateration_least_squares"
	MethodLinear       = "trilateration_linear"
	MethodFused        = "fused"
	MethodAverage      = "average"
)

// LocationResult is one position estimate. Coordinates and Error are in Unit.
// Confidence is derived from Error and lies in [0, 1].
type LocationResult struct {
	X           float64      `json:"x"`
	Y           float64      `json:"y"`
	Z           float64      `json:"z"`
	Confidence  float64      `json:"confidence"`
	Error       float64      `json:"error"`
	Method      string       `json:"method"`
	BeaconCount int          `json:"beacon_count"`
	Unit        DistanceUnit `json:"unit"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Confidence maps a residual error in unit to [0, 1].
func Confidence(errv float64, unit DistanceUnit) float64 {
	return clamp(1/(1+errv/unit.ConfidenceScale()), 0, 1)
}

func newResult(x, y, z, errv float64, method string, count int, unit DistanceUnit) LocationResult {
	return LocationResult{
		X:           x,
		Y:           y,
		Z:           z,
		Confidence:  Confidence(errv, unit),
		Error:       errv,
		Method:      method,
		BeaconCount: count,
		Unit:        unit,
		Timestamp:   time.Now(),
	}
}

func (r LocationResult) DistanceTo(o LocationResult) float64 {
	return math.Sqrt(pow2(r.X-o.X) + pow2(r.Y-o.Y) + pow2(r.Z-o.Z))
}

func (r LocationResult) Distance2D(o LocationResult) float64 {
	return math.Hypot(r.X-o.X, r.Y-o.Y)
}

// QualityScore averages confidence with the error factor.
func (r LocationResult) QualityScore() float64 {
	return (r.Confidence + 1/(1+r.Error/r.Unit.ConfidenceScale())) / 2
}

// IsHighQuality requires confidence above 0.7 and error under one meter.
func (r LocationResult) IsHighQuality() bool {
	return r.Confidence > HighQualityConfidence && r.Unit.ToMeters(r.Error) < HighQualityErrorM
}

// IsAggregate reports whether r was synthesized from a history window.
func (r LocationResult) IsAggregate() bool { return r.BeaconCount == 0 }

func (r LocationResult) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)%s conf=%.1f%% err=%.2f method=%s beacons=%d",
		r.X, r.Y, r.Z, r.Unit, r.Confidence*100, r.Error, r.Method, r.BeaconCount)
}
