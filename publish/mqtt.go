package publish

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"blunav-go/internal/logx"
	"blunav-go/tracking"
)

// MQTTConfig configures position publishing to a broker.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker"`
	Port        int    `mapstructure:"port" yaml:"port"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         int    `mapstructure:"qos" yaml:"qos"`
	Retain      bool   `mapstructure:"retain" yaml:"retain"`

	// ConnectTimeout bounds how long Connect waits for the first connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// ErrConnectPending is returned by Connect when the broker did not answer in
// time. The client keeps retrying and publishing starts once it connects.
var ErrConnectPending = errors.New("mqtt connect pending")

func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "blunav",
		TopicPrefix: "blunav",
		QoS:         0,

		ConnectTimeout: mqttConnectTimeout,
	}
}

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
}

// MQTTPublisher publishes each fix as JSON to <prefix>/tags/<tag>/position.
type MQTTPublisher struct {
	cfg       MQTTConfig
	log       *logx.Logger
	client    MQTT.Client
	pub       mqttPublisher
	connected atomic.Bool
}

func NewMQTTPublisher(cfg MQTTConfig, log *logx.Logger) *MQTTPublisher {
	if log == nil {
		log = logx.Nop()
	}
	return &MQTTPublisher{cfg: cfg, log: log.With("component", "mqtt")}
}

// Connect dials the broker with auto-reconnect. It waits at most
// ConnectTimeout and then returns ErrConnectPending while retries continue in
// the background; Disconnect stops them.
func (p *MQTTPublisher) Connect() error {
	if !p.cfg.Enabled {
		p.log.Debug("mqtt disabled")
		return nil
	}
	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.cfg.Broker, p.cfg.Port))
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		p.connected.Store(true)
		p.log.Info("mqtt connected", "broker", p.cfg.Broker, "port", p.cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		p.connected.Store(false)
		p.log.Warn("mqtt connection lost", "err", err)
	})

	p.client = MQTT.NewClient(opts)
	p.pub = p.client
	wait := p.cfg.ConnectTimeout
	if wait <= 0 {
		wait = mqttConnectTimeout
	}
	token := p.client.Connect()
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("%w: %s:%d after %s", ErrConnectPending, p.cfg.Broker, p.cfg.Port, wait)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker: %w", err)
	}
	return nil
}

func (p *MQTTPublisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.connected.Store(false)
}

// Topic is where fixes for tag are published.
func (p *MQTTPublisher) Topic(tag string) string {
	return fmt.Sprintf("%s/tags/%s/position", p.cfg.TopicPrefix, tag)
}

func (p *MQTTPublisher) HandleFix(f tracking.Fix) {
	if err := p.Publish(f); err != nil {
		p.log.Warn("mqtt publish failed", "tag", f.Tag, "err", err)
	}
}

// Publish sends f; it is a no-op while disabled or disconnected.
func (p *MQTTPublisher) Publish(f tracking.Fix) error {
	if !p.cfg.Enabled || p.pub == nil || !p.connected.Load() {
		return nil
	}
	payload, err := FormatJSON(f.Tag, f.Session, f.Seq, f.Result)
	if err != nil {
		return err
	}
	token := p.pub.Publish(p.Topic(f.Tag), byte(p.cfg.QoS), p.cfg.Retain, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish to %s timed out", p.Topic(f.Tag))
	}
	return token.Error()
}
