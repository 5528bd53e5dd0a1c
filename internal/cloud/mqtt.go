package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/srg/lbridge/internal/property"
)

// ErrPublishTimeout is returned when the broker does not acknowledge a publish in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Publisher is the part of a paho client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Unsubscribe(topics ...string) pahomqtt.Token
}

// MQTTOptions configures an MQTTSink.
type MQTTOptions struct {
	// Prefix is the topic root, e.g. "lbridge".
	Prefix         string
	QoS            byte
	PublishTimeout time.Duration
}

// WriteRequest is a property write requested by the cloud mirror.
type WriteRequest struct {
	DeviceID string
	Name     property.Name
	// Value is the raw JSON value: a number, bool or string.
	Value json.RawMessage
}

// Text renders the value for codec.Table.ParseValue.
func (w WriteRequest) Text() (string, error) {
	dec := json.NewDecoder(bytes.NewReader(w.Value))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("write request for %s: %w", w.Name, err)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return fmt.Sprint(t), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("write request for %s: unsupported value %s", w.Name, string(w.Value))
	}
}

// MQTTSink publishes datapoints to <prefix>/<deviceID>/datapoints/<property> and
// listens for writes on <prefix>/<deviceID>/set/<property>.
type MQTTSink struct {
	client Publisher
	opts   MQTTOptions
	logger *logrus.Logger
}

// NewMQTTSink creates a sink over a connected client.
func NewMQTTSink(client Publisher, opts MQTTOptions, logger *logrus.Logger) *MQTTSink {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Prefix == "" {
		opts.Prefix = "lbridge"
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &MQTTSink{client: client, opts: opts, logger: logger}
}

// DatapointTopic returns the topic a datapoint is published to.
func (m *MQTTSink) DatapointTopic(deviceID string, name property.Name) string {
	return fmt.Sprintf("%s/%s/datapoints/%s", m.opts.Prefix, deviceID, name)
}

func (m *MQTTSink) setTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/set/+", m.opts.Prefix, deviceID)
}

// Push publishes one datapoint and waits for the broker acknowledgement.
func (m *MQTTSink) Push(ctx context.Context, dp Datapoint) error {
	payload, err := json.Marshal(dp)
	if err != nil {
		return fmt.Errorf("encode datapoint %s: %w", dp.Property, err)
	}
	return m.wait(ctx, m.client.Publish(m.DatapointTopic(dp.DeviceID, dp.Property), m.opts.QoS, false, payload))
}

func (m *MQTTSink) wait(ctx context.Context, token pahomqtt.Token) error {
	timer := time.NewTimer(m.opts.PublishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeWrites delivers cloud write requests for deviceID to handler. Messages
// with a malformed topic or property name are logged and dropped. The returned
// function removes the subscription.
func (m *MQTTSink) SubscribeWrites(ctx context.Context, deviceID string, handler func(WriteRequest)) (func() error, error) {
	topic := m.setTopic(deviceID)
	prefix := strings.TrimSuffix(topic, "+")

	callback := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		log := m.logger.WithField("topic", msg.Topic())
		raw := strings.TrimPrefix(msg.Topic(), prefix)
		if raw == msg.Topic() {
			log.Warn("Ignoring write on unexpected topic")
			return
		}
		name, err := property.ParseName(raw)
		if err != nil {
			log.WithField("error", err).Warn("Ignoring write for malformed property name")
			return
		}
		var body struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(msg.Payload(), &body); err != nil || len(body.Value) == 0 {
			log.WithField("error", err).Warn("Ignoring write with malformed payload")
			return
		}
		handler(WriteRequest{DeviceID: deviceID, Name: name, Value: body.Value})
	}

	if err := m.wait(ctx, m.client.Subscribe(topic, m.opts.QoS, callback)); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	m.logger.WithField("topic", topic).Info("Listening for cloud writes")

	return func() error {
		return m.wait(context.Background(), m.client.Unsubscribe(topic))
	}, nil
}
