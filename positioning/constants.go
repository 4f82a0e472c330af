package positioning

// Solver and smoother tuning knobs.
const (
	// MinAnchors is the smallest number of ranges any solver accepts.
	MinAnchors = 3

	// DegenerateDet is the determinant magnitude under which the 3-point
	// system is treated as singular.
	DegenerateDet = 1e-10

	// MaxCondition bounds the condition number of the linearized N-point system.
	MaxCondition = 1e10

	DefaultIterations = 5
	DefaultStepSize   = 0.05

	// Least-squares residual weighting floor and direction epsilon.
	ResidualFloor = 0.1
	DirectionEps  = 1e-6
	WeightSumEps  = 1e-10

	// ConfidenceScaleCM is the error, in centimeters, at which confidence drops to 0.5.
	ConfidenceScaleCM = 100.0

	// HighQualityConfidence and HighQualityErrorM gate IsHighQuality.
	HighQualityConfidence = 0.7
	HighQualityErrorM     = 1.0
)

// Scalar filter defaults.
const (
	DefaultProcessNoise     = 0.001
	DefaultMeasurementNoise = 0.1
	InitialCovariance       = 1.0
)

// Velocity smoother constants.
const (
	VelPosCovariance    = 100.0
	VelVelCovariance    = 1.0
	VelProcessAdd       = 10.0
	VelMeasurementNoise = 50.0
	VelDtEps            = 1e-10
)

// Weight policy constants.
const (
	RSSIWeightScale   = 100.0
	RSSIWeightOffset  = 0.1
	NearThresholdCM   = 50.0
	DistanceWeightRef = 10000.0
)

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func pow2(x float64) float64 { return x * x }
