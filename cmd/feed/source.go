package main

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"blunav-go/internal/config"
	"blunav-go/positioning"
	"blunav-go/server"
)

// parseScanLine accepts "<id>,<rssi>" or "<id> <rssi>" as printed by the
// scanner firmware. Ids are normalized the way the anchor config is.
func parseScanLine(line string) (server.Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return server.Sample{}, fmt.Errorf("empty line")
	}
	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == ';' })
	if len(fields) < 2 {
		return server.Sample{}, fmt.Errorf("expected id and rssi in %q", line)
	}
	rssi, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return server.Sample{}, fmt.Errorf("bad rssi in %q: %w", line, err)
	}
	return server.Sample{BeaconID: config.NormalizeID(fields[0]), RSSI: int16(math.Round(rssi))}, nil
}

// latest keeps the newest reading per beacon between sends.
type latest struct {
	mu sync.Mutex
	m  map[string]int16
}

func newLatest() *latest { return &latest{m: make(map[string]int16)} }

func (l *latest) put(s server.Sample) {
	l.mu.Lock()
	l.m[s.BeaconID] = s.RSSI
	l.mu.Unlock()
}

// take drains the readings, strongest first, capped at max.
func (l *latest) take(max int) []server.Sample {
	l.mu.Lock()
	out := make([]server.Sample, 0, len(l.m))
	for id, r := range l.m {
		out = append(out, server.Sample{BeaconID: id, RSSI: r})
	}
	l.m = make(map[string]int16)
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].BeaconID < out[j].BeaconID
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// readScanner feeds every parsable line of r into l until r ends.
func readScanner(r io.Reader, l *latest) (good, bad int, err error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s, err := parseScanLine(sc.Text())
		if err != nil {
			bad++
			continue
		}
		l.put(s)
		good++
	}
	return good, bad, sc.Err()
}

// demoSequences are the three reading sets of the reference walk-through.
var demoSequences = [][3]int16{{-52, -77, -86}, {-48, -70, -80}, {-65, -68, -50}}

// walker simulates a tag circling the anchor centroid; readings come from
// the inverse model plus gaussian shadowing.
type walker struct {
	anchors []positioning.Anchor
	model   positioning.DistanceModel
	cx, cy  float64
	radius  float64
	period  float64
	noise   distuv.Normal
}

func newWalker(anchors []positioning.Anchor, model positioning.DistanceModel, sigma float64, seed uint64) *walker {
	w := &walker{anchors: anchors, model: model, period: 20}
	minX, maxX, minY, maxY := math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)
	for _, a := range anchors {
		w.cx += a.X / float64(len(anchors))
		w.cy += a.Y / float64(len(anchors))
		minX, maxX = math.Min(minX, a.X), math.Max(maxX, a.X)
		minY, maxY = math.Min(minY, a.Y), math.Max(maxY, a.Y)
	}
	w.radius = math.Min(maxX-minX, maxY-minY) / 4
	w.noise = distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	return w
}

// at returns the true position and the readings at t seconds.
func (w *walker) at(t float64) (positioning.Point, []server.Sample) {
	phase := 2 * math.Pi * t / w.period
	p := positioning.Point{X: w.cx + w.radius*math.Cos(phase), Y: w.cy + w.radius*math.Sin(phase)}
	out := make([]server.Sample, 0, len(w.anchors))
	for _, a := range w.anchors {
		d := math.Hypot(a.X-p.X, a.Y-p.Y)
		rssi := w.model.RSSIFromDistance(d)
		if w.noise.Sigma > 0 {
			rssi += w.noise.Rand()
		}
		out = append(out, server.Sample{BeaconID: a.ID, RSSI: int16(math.Round(rssi))})
	}
	return p, out
}
