package positioning

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// History is an ordered record of results. With a positive capacity the
// oldest entries are dropped once it is full. It does no locking.
type History struct {
	results  []LocationResult
	capacity int
}

func NewHistory() *History { return &History{} }

// NewBoundedHistory keeps at most capacity results.
func NewBoundedHistory(capacity int) *History { return &History{capacity: capacity} }

func (h *History) Append(r LocationResult) {
	h.results = append(h.results, r)
	if h.capacity > 0 && len(h.results) > h.capacity {
		n := copy(h.results, h.results[len(h.results)-h.capacity:])
		h.results = h.results[:n]
	}
}

// All returns a copy of the recorded results, oldest first.
func (h *History) All() []LocationResult {
	out := make([]LocationResult, len(h.results))
	copy(out, h.results)
	return out
}

func (h *History) Last() (LocationResult, bool) {
	if len(h.results) == 0 {
		return LocationResult{}, false
	}
	return h.results[len(h.results)-1], true
}

func (h *History) Len() int { return len(h.results) }

func (h *History) Clear() { h.results = h.results[:0] }

// Average is the unweighted mean over the whole history.
func (h *History) Average() (LocationResult, error) {
	return average(h.results, MethodAverage)
}

// AverageLast averages the last n results; n larger than the history is
// clamped.
func (h *History) AverageLast(n int) (LocationResult, error) {
	if n <= 0 {
		return LocationResult{}, ErrEmptyHistory
	}
	start := 0
	if len(h.results) > n {
		start = len(h.results) - n
	}
	return average(h.results[start:], fmt.Sprintf("average_last_%d", n))
}

// Spread is the standard deviation of x and y over the last n results
// (all of them when n <= 0).
func (h *History) Spread(n int) (sx, sy float64, err error) {
	window := h.results
	if n > 0 && len(window) > n {
		window = window[len(window)-n:]
	}
	if len(window) == 0 {
		return 0, 0, ErrEmptyHistory
	}
	if len(window) == 1 {
		return 0, 0, nil
	}
	xs := column(window, func(r LocationResult) float64 { return r.X })
	ys := column(window, func(r LocationResult) float64 { return r.Y })
	return stat.StdDev(xs, nil), stat.StdDev(ys, nil), nil
}

func average(rs []LocationResult, method string) (LocationResult, error) {
	if len(rs) == 0 {
		return LocationResult{}, ErrEmptyHistory
	}
	return LocationResult{
		X:           stat.Mean(column(rs, func(r LocationResult) float64 { return r.X }), nil),
		Y:           stat.Mean(column(rs, func(r LocationResult) float64 { return r.Y }), nil),
		Z:           stat.Mean(column(rs, func(r LocationResult) float64 { return r.Z }), nil),
		Confidence:  stat.Mean(column(rs, func(r LocationResult) float64 { return r.Confidence }), nil),
		Error:       stat.Mean(column(rs, func(r LocationResult) float64 { return r.Error }), nil),
		Method:      method,
		BeaconCount: 0,
		Unit:        rs[len(rs)-1].Unit,
		Timestamp:   time.Now(),
	}, nil
}

func column(rs []LocationResult, f func(LocationResult) float64) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = f(r)
	}
	return out
}
