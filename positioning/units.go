package positioning

import (
	"fmt"
	"strings"
)

// DistanceUnit is the length unit distances and coordinates are expressed in.
type DistanceUnit int

const (
	Millimeters DistanceUnit = iota
	Centimeters
	Meters
)

func (u DistanceUnit) String() string {
	switch u {
	case Millimeters:
		return "mm"
	case Centimeters:
		return "cm"
	case Meters:
		return "m"
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

// PerMeter is how many of u fit in one meter.
func (u DistanceUnit) PerMeter() float64 {
	switch u {
	case Millimeters:
		return 1000
	case Meters:
		return 1
	default:
		return 100
	}
}

// ToMeters converts v from u to meters.
func (u DistanceUnit) ToMeters(v float64) float64 { return v / u.PerMeter() }

// FromMeters converts v meters to u.
func (u DistanceUnit) FromMeters(v float64) float64 { return v * u.PerMeter() }

// ConfidenceScale is 100 cm expressed in u.
func (u DistanceUnit) ConfidenceScale() float64 {
	return Centimeters.ToMeters(ConfidenceScaleCM) * u.PerMeter()
}

// ParseUnit accepts the short and long unit names.
func ParseUnit(s string) (DistanceUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mm", "millimeter", "millimeters":
		return Millimeters, nil
	case "cm", "centimeter", "centimeters", "":
		return Centimeters, nil
	case "m", "meter", "meters":
		return Meters, nil
	}
	return Centimeters, fmt.Errorf("unknown distance unit %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (u DistanceUnit) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *DistanceUnit) UnmarshalText(b []byte) error {
	v, err := ParseUnit(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
