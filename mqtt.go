package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/uwbtools/tdoatag/internal/monitoring"
	"github.com/uwbtools/tdoatag/internal/tdoa3"
)

const mqttConnectTimeout = 5 * time.Second

// Publisher pushes distance-difference measurements to an MQTT broker as
// JSON, one message per measurement.
type Publisher struct {
	client mqtt.Client
	topic  string
}

// NewPublisher connects to the configured broker. An empty broker address
// returns a nil publisher, which is safe to use and publishes nothing.
func NewPublisher(cfg MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) {
		monitoring.Logf("mqtt: connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Logf("mqtt: connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt: timed out connecting to %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connecting to %s: %w", cfg.Broker, err)
	}

	return &Publisher{client: client, topic: cfg.Topic}, nil
}

// PublishMeasurement sends one measurement. Publish failures are logged,
// not returned: the positioning path must not stall on broker trouble.
func (p *Publisher) PublishMeasurement(m tdoa3.Measurement) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(m)
	if err != nil {
		monitoring.Logf("mqtt: encoding measurement: %v", err)
		return
	}
	p.client.Publish(p.topic, 0, false, payload)
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.client.Disconnect(250)
}
