package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"blunav-go/internal/logx"
	"blunav-go/positioning"
)

// Fix is one smoothed position for a tag.
type Fix struct {
	Tag     string
	Session string
	Seq     uint32
	Result  positioning.LocationResult
	Raw     positioning.LocationResult
}

// Sink receives fixes from Manager.Run.
type Sink interface {
	HandleFix(f Fix)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f Fix)

func (s SinkFunc) HandleFix(f Fix) { s(f) }

// Recorder is told about every estimation attempt.
type Recorder interface {
	RecordEstimate(tag string, res positioning.LocationResult, err error)
}

// Manager maps tags to trackers, creating them on first sight.
type Manager struct {
	reg *positioning.Registry
	cfg Config
	log *logx.Logger
	rec Recorder

	mu       sync.RWMutex
	trackers map[string]*Tracker
	seq      map[string]uint32
}

func NewManager(reg *positioning.Registry, cfg Config, log *logx.Logger) *Manager {
	if log == nil {
		log = logx.Nop()
	}
	return &Manager{
		reg:      reg,
		cfg:      cfg,
		log:      log,
		trackers: make(map[string]*Tracker),
		seq:      make(map[string]uint32),
	}
}

func (m *Manager) Registry() *positioning.Registry { return m.reg }

// SetRecorder installs r; call before Run.
func (m *Manager) SetRecorder(r Recorder) { m.rec = r }

// Tracker returns the tracker for tag, creating it if needed.
func (m *Manager) Tracker(tag string) *Tracker {
	m.mu.RLock()
	t, ok := m.trackers[tag]
	m.mu.RUnlock()
	if ok {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok = m.trackers[tag]; ok {
		return t
	}
	t = NewTracker(tag, uuid.NewString(), m.reg, m.cfg, m.log)
	m.trackers[tag] = t
	m.log.Info("new tag", "tag", tag, "session", t.Session())
	return t
}

func (m *Manager) Observe(tag string, ms ...positioning.Measurement) {
	t := m.Tracker(tag)
	for _, meas := range ms {
		t.Observe(meas)
	}
}

// Tags returns the known tags in sorted order.
func (m *Manager) Tags() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.trackers))
	for tag := range m.trackers {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the tracker for tag without creating one.
func (m *Manager) Lookup(tag string) (*Tracker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trackers[tag]
	return t, ok
}

// LocateAll runs one estimation cycle over every tag and returns the fixes
// that succeeded, ordered by tag.
func (m *Manager) LocateAll(now time.Time) []Fix {
	var fixes []Fix
	for _, tag := range m.Tags() {
		t, _ := m.Lookup(tag)
		res, raw, err := t.Locate(now)
		if m.rec != nil {
			m.rec.RecordEstimate(tag, raw, err)
		}
		if err != nil {
			if IsNoFix(err) {
				m.log.Debug("no fix", "tag", tag, "err", err)
			} else {
				m.log.Warn("estimate failed", "tag", tag, "err", err)
			}
			continue
		}
		m.mu.Lock()
		m.seq[tag]++
		seq := m.seq[tag]
		m.mu.Unlock()
		fixes = append(fixes, Fix{Tag: tag, Session: t.Session(), Seq: seq, Result: res, Raw: raw})
	}
	return fixes
}

// Run estimates every interval until ctx is done, handing fixes to sinks.
func (m *Manager) Run(ctx context.Context, interval time.Duration, sinks ...Sink) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, f := range m.LocateAll(now) {
				for _, s := range sinks {
					s.HandleFix(f)
				}
			}
		}
	}
}
