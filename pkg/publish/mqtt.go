package publish

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/godiode/pkg/config"
	"github.com/itohio/godiode/pkg/daqerr"
	"github.com/itohio/godiode/pkg/experiment"
	"github.com/rs/zerolog"
)

const (
	publishTimeout = 5 * time.Second
	quiesce        = 250 // ms
)

var _ Publisher = (*MQTT)(nil)

// MQTT publishes every step as a JSON message on a single topic.
type MQTT struct {
	client mqtt.Client
	topic  string
}

// NewMQTT connects to the broker in cfg.
func NewMQTT(cfg config.MQTTConfig) (*MQTT, error) {
	if cfg.Server == "" {
		return nil, fmt.Errorf("%w: mqtt server not set", daqerr.ErrInvalidArgument)
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("%w: mqtt connect %s: %w", daqerr.ErrConnection, cfg.Server, token.Error())
	}

	return newMQTT(client, cfg.Topic), nil
}

func newMQTT(client mqtt.Client, topic string) *MQTT {
	return &MQTT{client: client, topic: topic}
}

// Publish sends one step.
func (m *MQTT) Publish(index int, r experiment.StepResult) error {
	b, err := Payload(index, r)
	if err != nil {
		return err
	}

	token := m.client.Publish(m.topic, 0, false, b)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: mqtt publish to %s timed out", daqerr.ErrConnection, m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: mqtt publish to %s: %w", daqerr.ErrConnection, m.topic, err)
	}
	return nil
}

// StepFunc adapts the publisher to experiment step callbacks. Publish errors
// are logged and do not interrupt the scan.
func StepFunc(p Publisher, logger zerolog.Logger) experiment.StepFunc {
	return func(index int, r experiment.StepResult) {
		if err := p.Publish(index, r); err != nil {
			logger.Warn().Err(err).Int("index", index).Msg("failed to publish step")
		}
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client != nil {
		m.client.Disconnect(quiesce)
	}
	return nil
}
