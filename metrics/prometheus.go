// Package metrics exposes estimator and ingest counters in Prometheus form.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blunav-go/positioning"
	"blunav-go/server"
	"blunav-go/tracking"
)

const namespace = "blunav"

// Collector implements tracking.Recorder and server.FrameObserver.
type Collector struct {
	reg *prometheus.Registry

	estimates   *prometheus.CounterVec
	confidence  *prometheus.GaugeVec
	errorGauge  *prometheus.GaugeVec
	beacons     *prometheus.GaugeVec
	frames      *prometheus.CounterVec
	frameErrors *prometheus.CounterVec
	fixes       prometheus.Counter
}

func New() *Collector {
	c := &Collector{reg: prometheus.NewRegistry()}

	c.estimates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimates_total",
			Help:      "Estimation attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)
	c.confidence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "confidence",
			Help:      "Confidence of the last raw estimate for each tag",
		},
		[]string{"tag"},
	)
	c.errorGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "error",
			Help:      "RMS range residual of the last raw estimate for each tag, in result units",
		},
		[]string{"tag"},
	)
	c.beacons = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "beacons",
			Help:      "Beacons used by the last raw estimate for each tag",
		},
		[]string{"tag"},
	)
	c.frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Decoded gateway frames by type",
		},
		[]string{"type"},
	)
	c.frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Datagrams that failed to decode, by reason",
		},
		[]string{"reason"},
	)
	c.fixes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fixes_total",
		Help:      "Fixes handed to sinks",
	})

	c.reg.MustRegister(c.estimates, c.confidence, c.errorGauge, c.beacons, c.frames, c.frameErrors, c.fixes)
	return c
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) RecordEstimate(tag string, res positioning.LocationResult, err error) {
	switch {
	case err == nil:
		c.estimates.WithLabelValues(res.Method, "ok").Inc()
		c.confidence.WithLabelValues(tag).Set(res.Confidence)
		c.errorGauge.WithLabelValues(tag).Set(res.Error)
		c.beacons.WithLabelValues(tag).Set(float64(res.BeaconCount))
	case errors.Is(err, positioning.ErrInsufficientInput):
		c.estimates.WithLabelValues("", "insufficient").Inc()
	case errors.Is(err, positioning.ErrDegenerateGeometry):
		c.estimates.WithLabelValues("", "degenerate").Inc()
	default:
		c.estimates.WithLabelValues("", "error").Inc()
	}
}

func (c *Collector) ObserveFrame(typ uint16) {
	c.frames.WithLabelValues(frameType(typ)).Inc()
}

func (c *Collector) ObserveFrameError(err error) {
	reason := "other"
	switch {
	case errors.Is(err, server.ErrCRC):
		reason = "crc"
	case errors.Is(err, server.ErrTruncated):
		reason = "truncated"
	case errors.Is(err, server.ErrShortPacket):
		reason = "short"
	}
	c.frameErrors.WithLabelValues(reason).Inc()
}

// HandleFix counts fixes leaving the estimation loop.
func (c *Collector) HandleFix(tracking.Fix) { c.fixes.Inc() }

func frameType(typ uint16) string {
	switch typ {
	case server.TypeRssiReport:
		return "rssi"
	case server.TypeRssiReportNamed:
		return "rssi_named"
	case server.TypeBatch:
		return "batch"
	}
	return "other"
}
