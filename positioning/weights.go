package positioning

import (
	"fmt"
	"math"
	"strings"
)

// WeightPolicy scores a range for the weighted solver. Larger is more trusted.
type WeightPolicy interface {
	Weight(r Range, unit DistanceUnit) float64
}

// WeightFunc adapts a function to WeightPolicy.
type WeightFunc func(r Range, unit DistanceUnit) float64

func (f WeightFunc) Weight(r Range, unit DistanceUnit) float64 { return f(r, unit) }

// RSSIWeight favors strong signals: 1/(|rssi|/100 + 0.1).
type RSSIWeight struct{}

func (RSSIWeight) Weight(r Range, _ DistanceUnit) float64 {
	return 1 / (math.Abs(float64(r.RSSI))/RSSIWeightScale + RSSIWeightOffset)
}

// DistanceWeight is 1 for ranges under 50 cm and falls off with the inverse
// square of the distance in centimeters beyond that.
type DistanceWeight struct{}

func (DistanceWeight) Weight(r Range, unit DistanceUnit) float64 {
	cm := Centimeters.FromMeters(unit.ToMeters(r.Distance))
	if cm < NearThresholdCM {
		return 1
	}
	return 1 / (cm * cm / DistanceWeightRef)
}

// ParseWeightPolicy accepts "rssi" or "distance".
func ParseWeightPolicy(name string) (WeightPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "rssi":
		return RSSIWeight{}, nil
	case "distance":
		return DistanceWeight{}, nil
	}
	return nil, fmt.Errorf("unknown weight policy %q", name)
}
