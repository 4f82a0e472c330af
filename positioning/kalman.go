package positioning

import (
	"fmt"
	"strings"
	"time"
)

// Point is a position in the result unit.
type Point struct {
	X, Y, Z float64
}

func (r LocationResult) Point() Point { return Point{X: r.X, Y: r.Y, Z: r.Z} }

// ScalarFilter is a one-dimensional constant-value Kalman filter.
type ScalarFilter struct {
	Q     float64 // process noise
	R     float64 // measurement noise
	P     float64 // error covariance
	Value float64
}

func NewScalarFilter(q, r, initial float64) *ScalarFilter {
	return &ScalarFilter{Q: q, R: r, P: InitialCovariance, Value: initial}
}

// Update folds in one measurement and returns the new estimate.
func (f *ScalarFilter) Update(m float64) float64 {
	f.P += f.Q
	k := f.P / (f.P + f.R)
	f.Value += k * (m - f.Value)
	f.P = (1 - k) * f.P
	return f.Value
}

func (f *ScalarFilter) Reset(v float64) {
	f.Value = v
	f.P = InitialCovariance
}

// Smoother keeps recursive state for one tracked tag. Implementations are
// not safe for concurrent use.
type Smoother interface {
	Update(p Point, elapsed time.Duration) Point
	State() Point
	Reset(p Point)
}

// AxisSmoother runs an independent ScalarFilter on each axis.
type AxisSmoother struct {
	x, y, z *ScalarFilter
}

func NewAxisSmoother(q, r float64, init Point) *AxisSmoother {
	return &AxisSmoother{
		x: NewScalarFilter(q, r, init.X),
		y: NewScalarFilter(q, r, init.Y),
		z: NewScalarFilter(q, r, init.Z),
	}
}

// Update ignores elapsed.
func (s *AxisSmoother) Update(p Point, _ time.Duration) Point {
	return Point{X: s.x.Update(p.X), Y: s.y.Update(p.Y), Z: s.z.Update(p.Z)}
}

func (s *AxisSmoother) State() Point {
	return Point{X: s.x.Value, Y: s.y.Value, Z: s.z.Value}
}

func (s *AxisSmoother) Reset(p Point) {
	s.x.Reset(p.X)
	s.y.Reset(p.Y)
	s.z.Reset(p.Z)
}

// VelocitySmoother tracks planar position and velocity. It predicts with the
// current velocity over the elapsed time, corrects toward the measurement and
// takes the new velocity from the correction residual. A zero or negative elapsed
// time keeps the velocity. Height goes through a ScalarFilter.
type VelocitySmoother struct {
	X, Y   float64
	VX, VY float64

	pxx, pyy, pvv float64
	z             *ScalarFilter
}

func NewVelocitySmoother(q, r float64, init Point) *VelocitySmoother {
	s := &VelocitySmoother{z: NewScalarFilter(q, r, init.Z)}
	s.Reset(init)
	return s
}

func (s *VelocitySmoother) Update(p Point, elapsed time.Duration) Point {
	dt := elapsed.Seconds()
	if dt < 0 {
		dt = 0
	}

	s.X += s.VX * dt
	s.Y += s.VY * dt
	s.pxx += s.pvv*dt*dt + VelProcessAdd
	s.pyy += s.pvv*dt*dt + VelProcessAdd

	kx := s.pxx / (s.pxx + VelMeasurementNoise)
	ky := s.pyy / (s.pyy + VelMeasurementNoise)
	dx := p.X - s.X
	dy := p.Y - s.Y
	s.X += kx * dx
	s.Y += ky * dy
	if dt > 0 {
		s.VX = dx / (dt + VelDtEps)
		s.VY = dy / (dt + VelDtEps)
	}
	s.pxx = (1 - kx) * s.pxx
	s.pyy = (1 - ky) * s.pyy

	return Point{X: s.X, Y: s.Y, Z: s.z.Update(p.Z)}
}

func (s *VelocitySmoother) State() Point {
	return Point{X: s.X, Y: s.Y, Z: s.z.Value}
}

func (s *VelocitySmoother) Reset(p Point) {
	s.X, s.Y = p.X, p.Y
	s.VX, s.VY = 0, 0
	s.pxx, s.pyy, s.pvv = VelPosCovariance, VelPosCovariance, VelVelCovariance
	s.z.Reset(p.Z)
}

// Smoother kinds.
const (
	SmootherAxis     = "axis"
	SmootherVelocity = "velocity"
	SmootherNone     = "none"
)

// NewSmoother builds a smoother by kind. "none" returns nil.
func NewSmoother(kind string, q, r float64, init Point) (Smoother, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", SmootherAxis, "kalman":
		return NewAxisSmoother(q, r, init), nil
	case SmootherVelocity:
		return NewVelocitySmoother(q, r, init), nil
	case SmootherNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown smoother %q", kind)
}

// Smooth feeds raw into s and returns a new result carrying the smoothed
// coordinates and raw's confidence, error, method and count.
func Smooth(raw LocationResult, s Smoother, elapsed time.Duration) LocationResult {
	if s == nil {
		return raw
	}
	p := s.Update(raw.Point(), elapsed)
	out := raw
	out.X, out.Y, out.Z = p.X, p.Y, p.Z
	return out
}
