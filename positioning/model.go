package positioning

import (
	"fmt"
	"math"
)

// Model kinds.
const (
	KindLogDistance     = "log_distance"
	KindFreeSpace       = "free_space"
	KindLogNormalShadow = "log_normal_shadow"
	KindCustom          = "custom"
	KindFitted          = "fitted"
)

// DistanceModel is the log-distance path loss model rssi = A + B*log10(d_m).
// A is the reference power at 1 m in dBm, B the slope and N the path-loss
// exponent (informational). Distances are reported in Unit.
type DistanceModel struct {
	A    float64      `json:"a" yaml:"a" mapstructure:"a"`
	B    float64      `json:"b" yaml:"b" mapstructure:"b"`
	N    float64      `json:"n" yaml:"n" mapstructure:"n"`
	Unit DistanceUnit `json:"unit" yaml:"unit" mapstructure:"unit"`
	Kind string       `json:"kind" yaml:"kind" mapstructure:"kind"`
}

func LogDistance(a, b float64, unit DistanceUnit) DistanceModel {
	return DistanceModel{A: a, B: b, Unit: unit, Kind: KindLogDistance}
}

// FreeSpace uses the free-space exponent n = 2.
func FreeSpace(a float64, unit DistanceUnit) DistanceModel {
	return DistanceModel{A: a, B: -20, N: 2, Unit: unit, Kind: KindFreeSpace}
}

func LogNormalShadow(a, n float64, unit DistanceUnit) DistanceModel {
	return DistanceModel{A: a, B: -10 * n, N: n, Unit: unit, Kind: KindLogNormalShadow}
}

// Custom takes all parameters verbatim. An empty kind becomes "custom".
func Custom(a, b, n float64, kind string, unit DistanceUnit) DistanceModel {
	if kind == "" {
		kind = KindCustom
	}
	return DistanceModel{A: a, B: b, N: n, Unit: unit, Kind: kind}
}

// Fitted wraps parameters produced by a calibration fit.
func Fitted(a, b, n float64, unit DistanceUnit) DistanceModel {
	return DistanceModel{A: a, B: b, N: n, Unit: unit, Kind: KindFitted}
}

// DefaultModel is the calibration shipped with the reference deployment.
// Nothing uses it implicitly; callers pass it where they want it.
func DefaultModel() DistanceModel {
	return LogDistance(-49, -40, Centimeters)
}

// DistanceFromRSSI solves d = 10^((rssi-A)/B) and returns it in the model unit.
func (m DistanceModel) DistanceFromRSSI(rssi int16) float64 {
	return m.DistanceFromRSSIf(float64(rssi))
}

func (m DistanceModel) DistanceFromRSSIf(rssi float64) float64 {
	meters := math.Pow(10, (rssi-m.A)/m.B)
	return m.Unit.FromMeters(meters)
}

// RSSIFromDistance is the inverse of DistanceFromRSSI. d is in the model unit.
// Non-positive distances yield -Inf.
func (m DistanceModel) RSSIFromDistance(d float64) float64 {
	meters := m.Unit.ToMeters(d)
	if meters <= 0 {
		return math.Inf(-1)
	}
	return m.A + m.B*math.Log10(meters)
}

// Convert rescales d from the model unit to target, clamped at zero.
func (m DistanceModel) Convert(d float64, target DistanceUnit) float64 {
	return maxF(target.FromMeters(m.Unit.ToMeters(d)), 0)
}

// Validate reports implausible parameters. It is advisory: nothing calls it
// on the caller's behalf.
func (m DistanceModel) Validate() error {
	if m.B >= 0 {
		return fmt.Errorf("%w: signal must weaken with distance (b=%g)", ErrSlopeNotNegative, m.B)
	}
	if m.A > 0 {
		return fmt.Errorf("%w (a=%g)", ErrReferencePowerPositive, m.A)
	}
	return nil
}

func (m DistanceModel) String() string {
	kind := m.Kind
	if kind == "" {
		kind = KindLogDistance
	}
	return fmt.Sprintf("%s(a=%.3f, b=%.3f, n=%.3f, unit=%s)", kind, m.A, m.B, m.N, m.Unit)
}
