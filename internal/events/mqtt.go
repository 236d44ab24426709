package events

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/agsys/relay-controller/internal/relay"
)

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Broker         string // tcp://host:1883
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// DefaultMQTTConfig returns default MQTT configuration
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		ClientID:       "relayctl",
		TopicPrefix:    "relayctl",
		QoS:            1,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// DialMQTT connects to the configured broker. The client reconnects on its
// own after the first successful connection.
func DialMQTT(config MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(config.ConnectTimeout)
	opts.SetWill(config.TopicPrefix+"/status", "offline", config.QoS, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.WithField("broker", config.Broker).Info("Connected to MQTT broker")
		c.Publish(config.TopicPrefix+"/status", config.QoS, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("failed to connect to %s: timeout", config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Broker, err)
	}
	return client, nil
}

// Publisher mirrors relay state and events to MQTT
type Publisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewPublisher creates a publisher on an established client
func NewPublisher(client mqtt.Client, config MQTTConfig) *Publisher {
	return &Publisher{
		client:  client,
		prefix:  config.TopicPrefix,
		qos:     config.QoS,
		timeout: config.PublishTimeout,
	}
}

// StateTopic returns the retained state topic of a relay
func (p *Publisher) StateTopic(relayID string) string {
	return p.prefix + "/" + relayID + "/state"
}

// EventsTopic returns the topic carrying every event
func (p *Publisher) EventsTopic() string {
	return p.prefix + "/events"
}

// PublishStates publishes the retained state of every relay
func (p *Publisher) PublishStates(states map[string]relay.State) error {
	for id, st := range states {
		if err := p.publish(p.StateTopic(id), true, st.String()); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent publishes ev, and the new retained state for relay changes
func (p *Publisher) HandleEvent(ev Event) error {
	if rp, ok := ev.Payload.(*RelayPayload); ok {
		if err := p.publish(p.StateTopic(rp.RelayID), true, rp.To.String()); err != nil {
			return err
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.publish(p.EventsTopic(), false, data)
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	p.client.Publish(p.prefix+"/status", p.qos, true, "offline").WaitTimeout(p.timeout)
	p.client.Disconnect(250)
}

func (p *Publisher) publish(topic string, retained bool, payload interface{}) error {
	token := p.client.Publish(topic, p.qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
