package positioning

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Range is one anchor paired with the distance estimated from its reading.
type Range struct {
	Anchor   Anchor
	Distance float64
	RSSI     int16
}

// Solver turns ranges into a position. Implementations return
// ErrInsufficientInput or ErrDegenerateGeometry instead of a guess.
type Solver interface {
	Solve(ranges []Range, unit DistanceUnit) (LocationResult, error)
	Method() string
}

// Exact solves the first three ranges by circle differencing and Cramer's
// rule. Height is the mean anchor height.
type Exact struct{}

func (Exact) Method() string { return MethodExact }

func (Exact) Solve(ranges []Range, unit DistanceUnit) (LocationResult, error) {
	if len(ranges) < MinAnchors {
		return LocationResult{}, ErrInsufficientInput
	}
	x, y, err := solve3(ranges[:3], [3]float64{1, 1, 1})
	if err != nil {
		return LocationResult{}, err
	}
	z := (ranges[0].Anchor.Z + ranges[1].Anchor.Z + ranges[2].Anchor.Z) / 3
	return newResult(x, y, z, rmsError(ranges[:3], x, y), MethodExact, 3, unit), nil
}

// Weighted is Exact with each differenced equation scaled by the weight of
// the anchor it introduces. Height is the weighted mean.
type Weighted struct {
	Policy WeightPolicy
}

func (Weighted) Method() string { return MethodWeighted }

func (s Weighted) Solve(ranges []Range, unit DistanceUnit) (LocationResult, error) {
	if len(ranges) < MinAnchors {
		return LocationResult{}, ErrInsufficientInput
	}
	policy := s.Policy
	if policy == nil {
		policy = RSSIWeight{}
	}
	var w [3]float64
	for i := range w {
		w[i] = policy.Weight(ranges[i], unit)
	}
	x, y, err := solve3(ranges[:3], w)
	if err != nil {
		return LocationResult{}, err
	}
	wsum := w[0] + w[1] + w[2]
	var z float64
	if wsum != 0 {
		z = (ranges[0].Anchor.Z*w[0] + ranges[1].Anchor.Z*w[1] + ranges[2].Anchor.Z*w[2]) / wsum
	} else {
		z = (ranges[0].Anchor.Z + ranges[1].Anchor.Z + ranges[2].Anchor.Z) / 3
	}
	return newResult(x, y, z, rmsError(ranges[:3], x, y), MethodWeighted, 3, unit), nil
}

// solve3 builds the 2x2 system from the first range against the other two.
// Row i is scaled by w[i+1].
func solve3(r []Range, w [3]float64) (float64, float64, error) {
	x1, y1, r1 := r[0].Anchor.X, r[0].Anchor.Y, r[0].Distance
	x2, y2, r2 := r[1].Anchor.X, r[1].Anchor.Y, r[1].Distance
	x3, y3, r3 := r[2].Anchor.X, r[2].Anchor.Y, r[2].Distance

	a11 := 2 * (x2 - x1) * w[1]
	a12 := 2 * (y2 - y1) * w[1]
	a21 := 2 * (x3 - x1) * w[2]
	a22 := 2 * (y3 - y1) * w[2]

	b1 := (r1*r1 - r2*r2 - x1*x1 + x2*x2 - y1*y1 + y2*y2) * w[1]
	b2 := (r1*r1 - r3*r3 - x1*x1 + x3*x3 - y1*y1 + y3*y3) * w[2]

	det := a11*a22 - a12*a21
	if math.Abs(det) < DegenerateDet {
		return 0, 0, ErrDegenerateGeometry
	}
	return (b1*a22 - b2*a12) / det, (a11*b2 - a21*b1) / det, nil
}

// LeastSquares refines an Exact seed (or the anchor centroid) over all
// ranges with a fixed number of residual-weighted descent steps. It is a
// heuristic, not an exact minimizer. A positive Tolerance stops early once a
// step moves the estimate less than Tolerance.
type LeastSquares struct {
	Iterations int
	StepSize   float64
	Tolerance  float64
}

func (LeastSquares) Method() string { return MethodLeastSquares }

func (s LeastSquares) Solve(ranges []Range, unit DistanceUnit) (LocationResult, error) {
	if len(ranges) < MinAnchors {
		return LocationResult{}, ErrInsufficientInput
	}
	iters := s.Iterations
	if iters <= 0 {
		iters = DefaultIterations
	}
	step := s.StepSize
	if step <= 0 {
		step = DefaultStepSize
	}

	x, y, err := solve3(ranges[:3], [3]float64{1, 1, 1})
	if err != nil {
		x, y = centroid(ranges)
	}

	for i := 0; i < iters; i++ {
		var sumWX, sumWY, sumWF, sumW float64
		for _, r := range ranges {
			ax, ay := r.Anchor.X, r.Anchor.Y
			dist := math.Hypot(x-ax, y-ay)
			e := dist - r.Distance
			w := 1 / (1 + maxF(math.Abs(e)/r.Distance, ResidualFloor))
			var dx, dy float64
			if dist > DirectionEps {
				dx = (x - ax) / dist
				dy = (y - ay) / dist
			}
			sumWX += w * dx
			sumWY += w * dy
			sumWF += w * e
			sumW += w
		}
		if sumW < WeightSumEps {
			break
		}
		mx := step * sumWX * sumWF / sumW
		my := step * sumWY * sumWF / sumW
		x -= mx
		y -= my
		if s.Tolerance > 0 && math.Hypot(mx, my) < s.Tolerance {
			break
		}
	}

	var z float64
	for _, r := range ranges {
		z += r.Anchor.Z
	}
	z /= float64(len(ranges))
	return newResult(x, y, z, rmsError(ranges, x, y), MethodLeastSquares, len(ranges), unit), nil
}

// Linear solves the linearized system of all ranges against the first one
// by QR least squares.
type Linear struct{}

func (Linear) Method() string { return MethodLinear }

func (Linear) Solve(ranges []Range, unit DistanceUnit) (LocationResult, error) {
	if len(ranges) < MinAnchors {
		return LocationResult{}, ErrInsufficientInput
	}
	ref := ranges[0]
	x0, y0, r0 := ref.Anchor.X, ref.Anchor.Y, ref.Distance
	rows := len(ranges) - 1
	a := mat.NewDense(rows, 2, nil)
	b := mat.NewVecDense(rows, nil)
	for i, r := range ranges[1:] {
		xi, yi, ri := r.Anchor.X, r.Anchor.Y, r.Distance
		a.Set(i, 0, 2*(xi-x0))
		a.Set(i, 1, 2*(yi-y0))
		b.SetVec(i, r0*r0-ri*ri-x0*x0+xi*xi-y0*y0+yi*yi)
	}

	var qr mat.QR
	qr.Factorize(a)
	if c := qr.Cond(); math.IsNaN(c) || c > MaxCondition {
		return LocationResult{}, ErrDegenerateGeometry
	}
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, b); err != nil {
		return LocationResult{}, fmt.Errorf("%w: %v", ErrDegenerateGeometry, err)
	}
	x, y := sol.AtVec(0), sol.AtVec(1)

	var z float64
	for _, r := range ranges {
		z += r.Anchor.Z
	}
	z /= float64(len(ranges))
	return newResult(x, y, z, rmsError(ranges, x, y), MethodLinear, len(ranges), unit), nil
}

func centroid(ranges []Range) (float64, float64) {
	var x, y float64
	for _, r := range ranges {
		x += r.Anchor.X
		y += r.Anchor.Y
	}
	n := float64(len(ranges))
	return x / n, y / n
}

// rmsError is the RMS of planar distance minus measured distance.
func rmsError(ranges []Range, x, y float64) float64 {
	if len(ranges) == 0 {
		return 0
	}
	var sum float64
	for _, r := range ranges {
		d := math.Hypot(x-r.Anchor.X, y-r.Anchor.Y)
		sum += pow2(d - r.Distance)
	}
	return math.Sqrt(sum / float64(len(ranges)))
}

// Algorithm names accepted by ParseAlgorithm.
const (
	AlgoExact        = "exact"
	AlgoWeighted     = "weighted"
	AlgoLeastSquares = "least_squares"
	AlgoLinear       = "linear"
)

// ParseAlgorithm maps a configured algorithm name to a solver. The weight
// policy applies to "weighted" only.
func ParseAlgorithm(name string, policy WeightPolicy, ls LeastSquares) (Solver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case AlgoExact, "basic", MethodExact:
		return Exact{}, nil
	case AlgoWeighted, MethodWeighted:
		return Weighted{Policy: policy}, nil
	case AlgoLeastSquares, "ls", MethodLeastSquares:
		return ls, nil
	case AlgoLinear, "qr", MethodLinear:
		return Linear{}, nil
	}
	return nil, fmt.Errorf("unknown algorithm %q", name)
}
