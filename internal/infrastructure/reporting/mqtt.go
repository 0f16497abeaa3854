package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
)

// ══════════════════════════════════════════════════════════════════════════════
// MQTT
// ══════════════════════════════════════════════════════════════════════════════

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish within the configured timeout.
var ErrPublishTimeout = errors.New("reporting: publish timed out")

// MQTTConfig configures the MQTT reporter.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker   string
	ClientID string
	Topic    string
	QoS      byte

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// DefaultMQTTConfig returns a configuration for a local broker.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "studyup-loadgen",
		Topic:          "studyup/loadgen/events",
		QoS:            0,
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// mqttPublisher is the part of mqtt.Client the reporter needs.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes each batch as a JSON array on one topic.
type MQTT struct {
	client  mqttPublisher
	topic   string
	qos     byte
	timeout time.Duration
}

// DialMQTT connects to the broker and returns the reporter.
func DialMQTT(cfg MQTTConfig) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, err)
	}
	return newMQTT(client, cfg), nil
}

func newMQTT(client mqttPublisher, cfg MQTTConfig) *MQTT {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultMQTTConfig().PublishTimeout
	}
	return &MQTT{client: client, topic: cfg.Topic, qos: cfg.QoS, timeout: timeout}
}

// Name implements messaging.Reporter.
func (m *MQTT) Name() string { return "mqtt" }

// Report implements messaging.Reporter.
func (m *MQTT) Report(ctx context.Context, events []metric.Event) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	token := m.client.Publish(m.topic, m.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeout):
		return ErrPublishTimeout
	}
}

// Close disconnects from the broker after in-flight work is flushed.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
