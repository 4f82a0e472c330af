// Package config loads the positiond configuration and turns it into the
// positioning and tracking objects the daemon runs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"blunav-go/positioning"
	"blunav-go/publish"
	"blunav-go/tracking"
)

// EnvPrefix is prepended to environment overrides, e.g. BLUNAV_SERVER_UDP_ADDR.
const EnvPrefix = "BLUNAV"

type Config struct {
	Model      ModelConfig     `mapstructure:"model" yaml:"model"`
	Anchors    []AnchorConfig  `mapstructure:"anchors" yaml:"anchors"`
	AnchorsXML string          `mapstructure:"anchors_xml" yaml:"anchors_xml"`
	Estimator  EstimatorConfig `mapstructure:"estimator" yaml:"estimator"`
	Smoother   SmootherConfig  `mapstructure:"smoother" yaml:"smoother"`
	Tracking   TrackingConfig  `mapstructure:"tracking" yaml:"tracking"`
	Server     ServerConfig    `mapstructure:"server" yaml:"server"`
	Web        WebConfig       `mapstructure:"web" yaml:"web"`
	Publish    PublishConfig   `mapstructure:"publish" yaml:"publish"`
	Store      StoreConfig     `mapstructure:"store" yaml:"store"`
	Metrics    MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Logging    LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// ModelConfig describes the path-loss model. Unit is also the unit of every
// anchor coordinate and of the results.
type ModelConfig struct {
	Kind string  `mapstructure:"kind" yaml:"kind"`
	A    float64 `mapstructure:"a" yaml:"a"`
	B    float64 `mapstructure:"b" yaml:"b"`
	N    float64 `mapstructure:"n" yaml:"n"`
	Unit string  `mapstructure:"unit" yaml:"unit"`
}

type AnchorConfig struct {
	ID   string  `mapstructure:"id" yaml:"id"`
	Name string  `mapstructure:"name" yaml:"name"`
	X    float64 `mapstructure:"x" yaml:"x"`
	Y    float64 `mapstructure:"y" yaml:"y"`
	Z    float64 `mapstructure:"z" yaml:"z"`
}

type EstimatorConfig struct {
	Algorithm  string         `mapstructure:"algorithm" yaml:"algorithm"`
	Weight     string         `mapstructure:"weight" yaml:"weight"`
	Iterations int            `mapstructure:"iterations" yaml:"iterations"`
	StepSize   float64        `mapstructure:"step_size" yaml:"step_size"`
	Tolerance  float64        `mapstructure:"tolerance" yaml:"tolerance"`
	Fusion     []FusionConfig `mapstructure:"fusion" yaml:"fusion"`
}

// FusionConfig is one solver in a fused estimate. An unset weight means 1;
// an explicit 0 keeps the member but gives it no say.
type FusionConfig struct {
	Algorithm string   `mapstructure:"algorithm" yaml:"algorithm"`
	Weight    *float64 `mapstructure:"weight" yaml:"weight,omitempty"`
}

type SmootherConfig struct {
	Kind             string  `mapstructure:"kind" yaml:"kind"`
	ProcessNoise     float64 `mapstructure:"q" yaml:"q"`
	MeasurementNoise float64 `mapstructure:"r" yaml:"r"`
}

type TrackingConfig struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxAge       time.Duration `mapstructure:"max_age" yaml:"max_age"`
	MinBeacons   int           `mapstructure:"min_beacons" yaml:"min_beacons"`
	HistoryLimit int           `mapstructure:"history_limit" yaml:"history_limit"`
}

type ServerConfig struct {
	UDPAddr   string `mapstructure:"udp_addr" yaml:"udp_addr"`
	Record    string `mapstructure:"record" yaml:"record"`
	VerifyCRC bool   `mapstructure:"verify_crc" yaml:"verify_crc"`
}

type WebConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
	DistDir string `mapstructure:"dist_dir" yaml:"dist_dir"`
}

// TargetConfig is one downstream UDP or TCP consumer. Mask selects the
// publish flags it receives.
type TargetConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	Mask uint32 `mapstructure:"mask" yaml:"mask"`
}

type PublishConfig struct {
	Header string             `mapstructure:"header" yaml:"header"`
	UDP    []TargetConfig     `mapstructure:"udp" yaml:"udp"`
	TCP    []TargetConfig     `mapstructure:"tcp" yaml:"tcp"`
	MQTT   publish.MQTTConfig `mapstructure:"mqtt" yaml:"mqtt"`
}

// StoreConfig enables the sqlite result log when Path is set.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func DefaultConfig() *Config {
	m := positioning.DefaultModel()
	return &Config{
		Model: ModelConfig{Kind: m.Kind, A: m.A, B: m.B, N: m.N, Unit: m.Unit.String()},
		Estimator: EstimatorConfig{
			Algorithm:  positioning.AlgoLeastSquares,
			Weight:     "rssi",
			Iterations: positioning.DefaultIterations,
			StepSize:   positioning.DefaultStepSize,
		},
		Smoother: SmootherConfig{
			Kind:             positioning.SmootherAxis,
			ProcessNoise:     positioning.DefaultProcessNoise,
			MeasurementNoise: positioning.DefaultMeasurementNoise,
		},
		Tracking: TrackingConfig{
			Interval:     500 * time.Millisecond,
			MaxAge:       5 * time.Second,
			MinBeacons:   positioning.MinAnchors,
			HistoryLimit: 1000,
		},
		Server:  ServerConfig{UDPAddr: ":44333", VerifyCRC: true},
		Web:     WebConfig{Enabled: true, Addr: ":8080", DistDir: "web/dist"},
		Publish: PublishConfig{MQTT: publish.DefaultMQTTConfig()},
		Metrics: MetricsConfig{Enabled: true},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers DefaultConfig's scalar values with v so that env
// overrides and bound flags resolve against known keys.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	defaults := map[string]interface{}{
		"model.kind":                   d.Model.Kind,
		"model.a":                      d.Model.A,
		"model.b":                      d.Model.B,
		"model.n":                      d.Model.N,
		"model.unit":                   d.Model.Unit,
		"anchors_xml":                  d.AnchorsXML,
		"estimator.algorithm":          d.Estimator.Algorithm,
		"estimator.weight":             d.Estimator.Weight,
		"estimator.iterations":         d.Estimator.Iterations,
		"estimator.step_size":          d.Estimator.StepSize,
		"estimator.tolerance":          d.Estimator.Tolerance,
		"smoother.kind":                d.Smoother.Kind,
		"smoother.q":                   d.Smoother.ProcessNoise,
		"smoother.r":                   d.Smoother.MeasurementNoise,
		"tracking.interval":            d.Tracking.Interval,
		"tracking.max_age":             d.Tracking.MaxAge,
		"tracking.min_beacons":         d.Tracking.MinBeacons,
		"tracking.history_limit":       d.Tracking.HistoryLimit,
		"server.udp_addr":              d.Server.UDPAddr,
		"server.record":                d.Server.Record,
		"server.verify_crc":            d.Server.VerifyCRC,
		"web.enabled":                  d.Web.Enabled,
		"web.addr":                     d.Web.Addr,
		"web.dist_dir":                 d.Web.DistDir,
		"publish.header":               d.Publish.Header,
		"publish.mqtt.enabled":         d.Publish.MQTT.Enabled,
		"publish.mqtt.broker":          d.Publish.MQTT.Broker,
		"publish.mqtt.port":            d.Publish.MQTT.Port,
		"publish.mqtt.client_id":       d.Publish.MQTT.ClientID,
		"publish.mqtt.username":        d.Publish.MQTT.Username,
		"publish.mqtt.password":        d.Publish.MQTT.Password,
		"publish.mqtt.topic_prefix":    d.Publish.MQTT.TopicPrefix,
		"publish.mqtt.qos":             d.Publish.MQTT.QoS,
		"publish.mqtt.retain":          d.Publish.MQTT.Retain,
		"publish.mqtt.connect_timeout": d.Publish.MQTT.ConnectTimeout,
		"store.path":                   d.Store.Path,
		"metrics.enabled":              d.Metrics.Enabled,
		"logging.level":                d.Logging.Level,
		"logging.format":               d.Logging.Format,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load reads path (optional) with env overrides into a validated Config.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied viper, so cobra flags bound to it
// take part.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with. Model plausibility
// is not checked here; see ModelConfig.Build.
func (c *Config) Validate() error {
	var errs []error
	if _, err := positioning.ParseUnit(c.Model.Unit); err != nil {
		errs = append(errs, fmt.Errorf("model.unit: %w", err))
	}
	if _, err := c.Estimator.Solver(); err != nil {
		errs = append(errs, fmt.Errorf("estimator: %w", err))
	}
	for i, f := range c.Estimator.Fusion {
		if f.Weight != nil && *f.Weight < 0 {
			errs = append(errs, fmt.Errorf("estimator.fusion[%d]: negative weight", i))
		}
	}
	if c.Estimator.Iterations < 0 || c.Estimator.StepSize < 0 || c.Estimator.Tolerance < 0 {
		errs = append(errs, errors.New("estimator: iterations, step_size and tolerance must be non-negative"))
	}
	if _, err := positioning.NewSmoother(c.Smoother.Kind, 1, 1, positioning.Point{}); err != nil {
		errs = append(errs, fmt.Errorf("smoother: %w", err))
	}
	if c.Smoother.ProcessNoise < 0 || c.Smoother.MeasurementNoise <= 0 {
		errs = append(errs, errors.New("smoother: q must be >= 0 and r > 0"))
	}
	if c.Tracking.Interval <= 0 {
		errs = append(errs, errors.New("tracking.interval must be positive"))
	}
	if c.Tracking.MaxAge < 0 {
		errs = append(errs, errors.New("tracking.max_age must not be negative"))
	}
	for i, a := range c.Anchors {
		if strings.TrimSpace(a.ID) == "" {
			errs = append(errs, fmt.Errorf("anchors[%d]: empty id", i))
		}
	}
	return errors.Join(errs...)
}

// Build returns the distance model. It does not call Validate; an
// implausible calibration is the caller's to warn about.
func (m ModelConfig) Build() (positioning.DistanceModel, error) {
	unit, err := positioning.ParseUnit(m.Unit)
	if err != nil {
		return positioning.DistanceModel{}, err
	}
	var model positioning.DistanceModel
	switch strings.ToLower(m.Kind) {
	case "", positioning.KindLogDistance:
		model = positioning.LogDistance(m.A, m.B, unit)
	case positioning.KindFreeSpace:
		model = positioning.FreeSpace(m.A, unit)
	case positioning.KindLogNormalShadow:
		model = positioning.LogNormalShadow(m.A, m.N, unit)
	case positioning.KindFitted:
		model = positioning.Fitted(m.A, m.B, m.N, unit)
	default:
		model = positioning.Custom(m.A, m.B, m.N, m.Kind, unit)
	}
	return model, nil
}

func (e EstimatorConfig) leastSquares() positioning.LeastSquares {
	return positioning.LeastSquares{Iterations: e.Iterations, StepSize: e.StepSize, Tolerance: e.Tolerance}
}

// Solver builds the primary solver.
func (e EstimatorConfig) Solver() (positioning.Solver, error) {
	return e.solverFor(e.Algorithm)
}

func (e EstimatorConfig) solverFor(name string) (positioning.Solver, error) {
	policy, err := positioning.ParseWeightPolicy(e.Weight)
	if err != nil {
		return nil, err
	}
	return positioning.ParseAlgorithm(name, policy, e.leastSquares())
}

// FusionMembers builds the fused solver set; nil when fusion is off.
func (e EstimatorConfig) FusionMembers() ([]positioning.FusionMember, error) {
	var out []positioning.FusionMember
	for _, f := range e.Fusion {
		s, err := e.solverFor(f.Algorithm)
		if err != nil {
			return nil, err
		}
		w := 1.0
		if f.Weight != nil {
			w = *f.Weight
		}
		out = append(out, positioning.FusionMember{Solver: s, Weight: w})
	}
	return out, nil
}

// Registry collects the inline anchors and, if set, the XML beacon list.
// XML coordinates are centimeters and are converted to unit.
func (c *Config) Registry(unit positioning.DistanceUnit) (*positioning.Registry, error) {
	reg := positioning.NewRegistry()
	if c.AnchorsXML != "" {
		anchors, err := ParseBeaconList(c.AnchorsXML, unit)
		if err != nil {
			return nil, err
		}
		for _, a := range anchors {
			reg.Add(a)
		}
	}
	for _, a := range c.Anchors {
		reg.Add(positioning.Anchor{ID: NormalizeID(a.ID), Name: a.Name, X: a.X, Y: a.Y, Z: a.Z})
	}
	return reg, nil
}

// Pipeline assembles the per-tag tracking settings.
func (c *Config) Pipeline(model positioning.DistanceModel) (tracking.Config, error) {
	solver, err := c.Estimator.Solver()
	if err != nil {
		return tracking.Config{}, err
	}
	members, err := c.Estimator.FusionMembers()
	if err != nil {
		return tracking.Config{}, err
	}
	return tracking.Config{
		Estimator:    positioning.NewEstimator(model, solver),
		Fusion:       members,
		SmootherKind: c.Smoother.Kind,
		ProcessNoise: c.Smoother.ProcessNoise,
		MeasureNoise: c.Smoother.MeasurementNoise,
		MaxAge:       c.Tracking.MaxAge,
		MinBeacons:   c.Tracking.MinBeacons,
		HistoryLimit: c.Tracking.HistoryLimit,
	}, nil
}
