// Package mqtttelemetry optionally publishes fused last-known-location
// fixes and Engine state transitions to an MQTT broker, on topics
// "<prefix>/location/fix" and "<prefix>/engine/state". Disabled by
// default; every Publish* call is a no-op when disabled or disconnected.
package mqtttelemetry

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/ubports/locationd/pkg/logx"
	"github.com/ubports/locationd/pkg/units"
)

// Config configures the MQTT telemetry publisher. Disabled by default.
type Config struct {
	Broker      string
	Port        int
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	Enabled     bool
}

// DefaultConfig returns the disabled-by-default configuration.
func DefaultConfig() Config {
	return Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "locationd",
		TopicPrefix: "locationd",
		QoS:         1,
		Enabled:     false,
	}
}

// Publisher publishes Engine state and fix updates to an MQTT broker.
type Publisher struct {
	client    MQTT.Client
	logger    *logx.Logger
	cfg       Config
	connected bool
}

// NewPublisher constructs a Publisher. Connect must be called before any
// Publish* call has effect.
func NewPublisher(cfg Config, logger *logx.Logger) *Publisher {
	return &Publisher{cfg: cfg, logger: logger}
}

// Connect dials the configured broker. A no-op if cfg.Enabled is false.
func (p *Publisher) Connect() error {
	if !p.cfg.Enabled {
		p.logger.Debug("mqtt telemetry disabled")
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
	opts.SetOnConnectHandler(func(MQTT.Client) { p.connected = true })
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		p.connected = false
		p.logger.Warn("mqtt telemetry connection lost", "error", err.Error())
	})

	p.client = MQTT.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtttelemetry: connect: %w", token.Error())
	}
	p.logger.Info("mqtt telemetry connected", "broker", p.cfg.Broker, "port", p.cfg.Port)
	return nil
}

// Disconnect tears the connection down, if one was established.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.connected {
		p.client.Disconnect(250)
		p.connected = false
	}
}

type fixMessage struct {
	Timestamp int64   `json:"timestamp_ns"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`
}

// PublishFix publishes a last-known-location fix to
// "<prefix>/location/fix". A no-op when disabled or not yet connected.
func (p *Publisher) PublishFix(u units.Update[units.Position]) error {
	if !p.cfg.Enabled || !p.connected {
		return nil
	}
	msg := fixMessage{
		Timestamp: u.Timestamp,
		Latitude:  u.Value.Latitude.Degrees(),
		Longitude: u.Value.Longitude.Degrees(),
	}
	if u.Value.Accuracy.Horizontal != nil {
		msg.AccuracyM = u.Value.Accuracy.Horizontal.Meters()
	}
	return p.publishJSON(p.cfg.TopicPrefix+"/location/fix", msg)
}

// PublishEngineState publishes an engine_state transition to
// "<prefix>/engine/state". A no-op when disabled or not yet connected.
func (p *Publisher) PublishEngineState(state string) error {
	if !p.cfg.Enabled || !p.connected {
		return nil
	}
	return p.publishJSON(p.cfg.TopicPrefix+"/engine/state", map[string]string{"state": state})
}

func (p *Publisher) publishJSON(topic string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mqtttelemetry: marshal: %w", err)
	}
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, body)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtttelemetry: publish %s: %w", topic, err)
	}
	return nil
}
