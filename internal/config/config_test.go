package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blunav-go/positioning"
)

const sampleYAML = `
model:
  kind: log_distance
  a: -52
  b: -35
  unit: m
anchors:
  - id: 20a7165ec5d6
    name: RFstar_C5D6
    x: 7.64
    y: 2.16
    z: 0.63
  - id: "20:A7:16:61:0C:F1"
    x: 0
    y: 1.52
    z: 1.57
estimator:
  algorithm: weighted
  weight: distance
  fusion:
    - algorithm: exact
      weight: 1
    - algorithm: least_squares
      weight: 2
smoother:
  kind: velocity
tracking:
  interval: 250ms
  max_age: 3s
publish:
  udp:
    - addr: 127.0.0.1:9000
      mask: 3
  mqtt:
    enabled: true
    broker: mqtt.local
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultConfigValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, positioning.AlgoLeastSquares, cfg.Estimator.Algorithm)
	assert.Equal(t, 500*time.Millisecond, cfg.Tracking.Interval)
	assert.Equal(t, ":44333", cfg.Server.UDPAddr)
	assert.Equal(t, "blunav", cfg.Publish.MQTT.TopicPrefix)

	m, err := cfg.Model.Build()
	require.NoError(t, err)
	assert.Equal(t, positioning.DefaultModel(), m)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "blunav.yaml", sampleYAML))
	require.NoError(t, err)

	m, err := cfg.Model.Build()
	require.NoError(t, err)
	assert.Equal(t, positioning.LogDistance(-52, -35, positioning.Meters), m)

	reg, err := cfg.Registry(m.Unit)
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())
	a, ok := reg.Get("20:A7:16:5E:C5:D6")
	require.True(t, ok)
	assert.Equal(t, "RFstar_C5D6", a.Name)
	assert.Equal(t, 7.64, a.X)

	pc, err := cfg.Pipeline(m)
	require.NoError(t, err)
	assert.Equal(t, positioning.MethodWeighted, pc.Estimator.Solver.Method())
	require.Len(t, pc.Fusion, 2)
	assert.Equal(t, positioning.MethodLeastSquares, pc.Fusion[1].Solver.Method())
	assert.Equal(t, 2.0, pc.Fusion[1].Weight)
	assert.Equal(t, positioning.SmootherVelocity, pc.SmootherKind)
	assert.Equal(t, 3*time.Second, pc.MaxAge)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracking.Interval)

	require.Len(t, cfg.Publish.UDP, 1)
	assert.Equal(t, uint32(3), cfg.Publish.UDP[0].Mask)
	assert.True(t, cfg.Publish.MQTT.Enabled)
	assert.Equal(t, "mqtt.local", cfg.Publish.MQTT.Broker)
	assert.Equal(t, 1883, cfg.Publish.MQTT.Port)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BLUNAV_ESTIMATOR_ALGORITHM", "linear")
	t.Setenv("BLUNAV_TRACKING_MAX_AGE", "10s")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "linear", cfg.Estimator.Algorithm)
	assert.Equal(t, 10*time.Second, cfg.Tracking.MaxAge)
}

func TestLoadWithBoundValue(t *testing.T) {
	v := viper.New()
	v.Set("server.udp_addr", ":5000")
	cfg, err := LoadWith(v, "")
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.Server.UDPAddr)
}

func weight(w float64) *float64 { return &w }

func TestFusionMemberWeights(t *testing.T) {
	e := DefaultConfig().Estimator
	e.Fusion = []FusionConfig{
		{Algorithm: "exact"},
		{Algorithm: "least_squares", Weight: weight(0)},
		{Algorithm: "linear", Weight: weight(2.5)},
	}
	members, err := e.FusionMembers()
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, 1.0, members[0].Weight)
	assert.Equal(t, 0.0, members[1].Weight)
	assert.Equal(t, 2.5, members[2].Weight)
}

func TestFusionExplicitZeroWeightFromYAML(t *testing.T) {
	body := `
estimator:
  fusion:
    - algorithm: exact
      weight: 0
    - algorithm: least_squares
`
	cfg, err := Load(writeFile(t, "zero.yaml", body))
	require.NoError(t, err)
	members, err := cfg.Estimator.FusionMembers()
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, 0.0, members[0].Weight)
	assert.Equal(t, 1.0, members[1].Weight)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unit", func(c *Config) { c.Model.Unit = "furlong" }, "model.unit"},
		{"algorithm", func(c *Config) { c.Estimator.Algorithm = "magic" }, "estimator"},
		{"weight", func(c *Config) { c.Estimator.Weight = "vibes" }, "estimator"},
		{"smoother", func(c *Config) { c.Smoother.Kind = "median" }, "smoother"},
		{"noise", func(c *Config) { c.Smoother.MeasurementNoise = 0 }, "smoother"},
		{"interval", func(c *Config) { c.Tracking.Interval = 0 }, "tracking.interval"},
		{"anchor", func(c *Config) { c.Anchors = []AnchorConfig{{ID: " "}} }, "anchors[0]"},
		{"fusion", func(c *Config) { c.Estimator.Fusion = []FusionConfig{{Algorithm: "exact", Weight: weight(-1)}} }, "fusion[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestModelKinds(t *testing.T) {
	m, err := ModelConfig{Kind: "free_space", A: -45, Unit: "cm"}.Build()
	require.NoError(t, err)
	assert.Equal(t, positioning.FreeSpace(-45, positioning.Centimeters), m)

	m, err = ModelConfig{Kind: "log_normal_shadow", A: -50, N: 2.5, Unit: "mm"}.Build()
	require.NoError(t, err)
	assert.Equal(t, -25.0, m.B)

	m, err = ModelConfig{Kind: "warehouse", A: -50, B: -30, N: 3, Unit: "m"}.Build()
	require.NoError(t, err)
	assert.Equal(t, "warehouse", m.Kind)

	// an implausible model still builds; Validate flags it
	m, err = ModelConfig{A: -50, B: 10, Unit: "cm"}.Build()
	require.NoError(t, err)
	assert.ErrorIs(t, m.Validate(), positioning.ErrSlopeNotNegative)
}

const projectXML = `<?xml version="1.0" encoding="UTF-8"?>
<project>
  <anchorlist>
    <deviceItem id="0001" pos="1,2,3"/>
  </anchorlist>
  <beaconlist>
    <deviceItem id="20a7165ec5d6" name="RFstar_C5D6" pos="764,216,63" class="1:0"/>
    <deviceItem id="20:A7:16:61:0C:F1" pos="0,152,157"/>
    <deviceItem id="BEEF" pos="309,748"/>
    <deviceItem pos="1,1,1"/>
    <deviceItem id="20A71660FBFC" pos="309, 748, 63"/>
  </beaconlist>
</project>`

func TestDecodeBeaconList(t *testing.T) {
	anchors, err := DecodeBeaconList(strings.NewReader(projectXML), positioning.Meters)
	require.NoError(t, err)
	require.Len(t, anchors, 3)
	assert.Equal(t, "20:A7:16:5E:C5:D6", anchors[0].ID)
	assert.Equal(t, "RFstar_C5D6", anchors[0].Name)
	assert.InDelta(t, 7.64, anchors[0].X, 1e-12)
	assert.InDelta(t, 0.63, anchors[0].Z, 1e-12)
	assert.Equal(t, "20:A7:16:61:0C:F1", anchors[1].ID)
	assert.Equal(t, "20:A7:16:60:FB:FC", anchors[2].ID)
	assert.InDelta(t, 7.48, anchors[2].Y, 1e-12)

	cfg := DefaultConfig()
	cfg.AnchorsXML = writeFile(t, "project.xml", projectXML)
	reg, err := cfg.Registry(positioning.Centimeters)
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())
	a, _ := reg.Get("20:A7:16:60:FB:FC")
	assert.InDelta(t, 748, a.Y, 1e-9)
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "20:A7:16:5E:C5:D6", NormalizeID("0x20a7165ec5d6"))
	assert.Equal(t, "20:A7:16:5E:C5:D6", NormalizeID(" 20:a7:16:5e:c5:d6 "))
	assert.Equal(t, "BEACON-7", NormalizeID("beacon-7"))
	assert.Equal(t, "ZZZZZZZZZZZZ", NormalizeID("zzzzzzzzzzzz"))
}
