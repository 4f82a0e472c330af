// Package tracking owns the per-tag state around the positioning core: the
// live snapshot, staleness policy, smoother and result history, each guarded
// for use from an ingest goroutine and an estimation loop at the same time.
package tracking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"blunav-go/internal/logx"
	"blunav-go/positioning"
)

// Config is the per-tag pipeline setup shared by every tracker of a Manager.
type Config struct {
	Estimator    *positioning.Estimator
	Fusion       []positioning.FusionMember
	SmootherKind string
	ProcessNoise float64
	MeasureNoise float64
	MaxAge       time.Duration
	MinBeacons   int
	// HistoryLimit caps the results a tracker keeps; older ones are dropped.
	// Zero keeps everything.
	HistoryLimit int
}

// Tracker estimates the position of one tag.
type Tracker struct {
	tag     string
	session string
	reg     *positioning.Registry
	cfg     Config
	log     *logx.Logger

	mu       sync.Mutex
	snap     *positioning.Snapshot
	smoother positioning.Smoother
	history  *positioning.History
	lastFix  time.Time
}

func NewTracker(tag, session string, reg *positioning.Registry, cfg Config, log *logx.Logger) *Tracker {
	if cfg.MinBeacons < positioning.MinAnchors {
		cfg.MinBeacons = positioning.MinAnchors
	}
	if log == nil {
		log = logx.Nop()
	}
	return &Tracker{
		tag:     tag,
		session: session,
		reg:     reg,
		cfg:     cfg,
		log:     log.With("tag", tag),
		snap:    positioning.NewSnapshot(),
		history: positioning.NewBoundedHistory(cfg.HistoryLimit),
	}
}

func (t *Tracker) Tag() string     { return t.tag }
func (t *Tracker) Session() string { return t.session }

// Observe records a reading. Readings without a time are stamped now.
func (t *Tracker) Observe(m positioning.Measurement) {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	t.mu.Lock()
	t.snap.Record(m)
	t.mu.Unlock()
}

// Locate drops readings older than MaxAge, estimates, smooths and records
// the result. It returns the smoothed and the raw estimate.
func (t *Tracker) Locate(now time.Time) (smoothed, raw positioning.LocationResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.MaxAge > 0 {
		if n := t.snap.Prune(now.Add(-t.cfg.MaxAge)); n > 0 {
			t.log.Debug("pruned stale readings", "count", n)
		}
	}
	if t.snap.Len() < t.cfg.MinBeacons {
		return positioning.LocationResult{}, positioning.LocationResult{},
			fmt.Errorf("tag %s has %d readings: %w", t.tag, t.snap.Len(), positioning.ErrInsufficientInput)
	}

	if len(t.cfg.Fusion) > 0 {
		raw, err = t.cfg.Estimator.EstimateFused(t.reg, t.snap, t.cfg.Fusion)
	} else {
		raw, err = t.cfg.Estimator.Estimate(t.reg, t.snap)
	}
	if err != nil {
		return positioning.LocationResult{}, positioning.LocationResult{}, err
	}
	raw.Timestamp = now

	var elapsed time.Duration
	if t.smoother == nil && t.cfg.SmootherKind != positioning.SmootherNone {
		t.smoother, err = positioning.NewSmoother(t.cfg.SmootherKind, t.cfg.ProcessNoise, t.cfg.MeasureNoise, raw.Point())
		if err != nil {
			return positioning.LocationResult{}, positioning.LocationResult{}, err
		}
	} else if !t.lastFix.IsZero() {
		elapsed = now.Sub(t.lastFix)
	}
	smoothed = positioning.Smooth(raw, t.smoother, elapsed)

	t.history.Append(smoothed)
	t.lastFix = now
	return smoothed, raw, nil
}

// Reset clears the readings, the history and the smoother state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Clear()
	t.history.Clear()
	t.smoother = nil
	t.lastFix = time.Time{}
}

func (t *Tracker) Last() (positioning.LocationResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.Last()
}

// Results returns the retained results, oldest first. With a HistoryLimit
// only the newest HistoryLimit fixes are kept.
func (t *Tracker) Results() []positioning.LocationResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.All()
}

// Average averages the last n results, or all retained ones when n <= 0.
// The retained window is bounded by HistoryLimit.
func (t *Tracker) Average(n int) (positioning.LocationResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 {
		return t.history.Average()
	}
	return t.history.AverageLast(n)
}

// Readings is the number of beacons currently in the snapshot.
func (t *Tracker) Readings() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Len()
}

// IsNoFix reports whether err only means there was not enough to estimate.
func IsNoFix(err error) bool {
	return errors.Is(err, positioning.ErrInsufficientInput) || errors.Is(err, positioning.ErrDegenerateGeometry)
}
