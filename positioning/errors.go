package positioning

import "errors"

var (
	// ErrInsufficientInput means fewer than MinAnchors usable ranges.
	ErrInsufficientInput = errors.New("positioning: fewer than 3 usable anchors")
	// ErrDegenerateGeometry means the anchors give a singular or ill-conditioned system.
	ErrDegenerateGeometry = errors.New("positioning: degenerate anchor geometry")
	ErrNoResults          = errors.New("positioning: no results to fuse")
	ErrZeroWeight         = errors.New("positioning: fusion weights sum to zero")
	ErrEmptyHistory       = errors.New("positioning: history is empty")

	ErrSlopeNotNegative       = errors.New("slope must be negative")
	ErrReferencePowerPositive = errors.New("reference power must be negative dBm")
)
