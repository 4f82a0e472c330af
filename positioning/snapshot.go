package positioning

import (
	"sort"
	"time"
)

// Measurement is one report from the scanning side. Time is advisory.
type Measurement struct {
	BeaconID string
	RSSI     int16
	Time     time.Time
}

type reading struct {
	rssi int16
	at   time.Time
}

// Snapshot holds the latest RSSI per beacon for one measurement cycle.
// It does no locking; tracking.Tracker guards it when shared.
type Snapshot struct {
	readings map[string]reading
}

func NewSnapshot() *Snapshot {
	return &Snapshot{readings: make(map[string]reading)}
}

func SnapshotFromMeasurements(ms []Measurement) *Snapshot {
	s := NewSnapshot()
	for _, m := range ms {
		s.Record(m)
	}
	return s
}

// SnapshotFromMap builds an untimestamped snapshot.
func SnapshotFromMap(m map[string]int16) *Snapshot {
	s := NewSnapshot()
	for id, rssi := range m {
		s.Set(id, rssi)
	}
	return s
}

// Set overwrites the reading for id.
func (s *Snapshot) Set(id string, rssi int16) {
	s.Record(Measurement{BeaconID: id, RSSI: rssi})
}

func (s *Snapshot) Record(m Measurement) {
	if s.readings == nil {
		s.readings = make(map[string]reading)
	}
	s.readings[m.BeaconID] = reading{rssi: m.RSSI, at: m.Time}
}

func (s *Snapshot) Get(id string) (int16, bool) {
	r, ok := s.readings[id]
	return r.rssi, ok
}

func (s *Snapshot) Contains(id string) bool {
	_, ok := s.readings[id]
	return ok
}

func (s *Snapshot) Len() int { return len(s.readings) }

func (s *Snapshot) Clear() { s.readings = make(map[string]reading) }

// Prune drops timestamped readings older than cutoff and returns how many
// were removed. Readings without a timestamp are kept.
func (s *Snapshot) Prune(cutoff time.Time) int {
	n := 0
	for id, r := range s.readings {
		if !r.at.IsZero() && r.at.Before(cutoff) {
			delete(s.readings, id)
			n++
		}
	}
	return n
}

// IDs returns the beacon ids in sorted order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.readings))
	for id := range s.readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent copy.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{readings: make(map[string]reading, len(s.readings))}
	for id, r := range s.readings {
		c.readings[id] = r
	}
	return c
}
