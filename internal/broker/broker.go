package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/slhuckstead/accountmap/internal/config"
	"github.com/slhuckstead/accountmap/internal/domains"
)

var ErrNotConnected = errors.New("broker not connected")

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
)

// Publisher handles publishing messages to the broker
type Publisher struct {
	client  mqtt.Client
	timeout time.Duration
}

// NewPublisher creates an MQTT publisher. If the first connection attempt
// times out the client keeps retrying in the background and the publisher
// reports itself disconnected until it succeeds.
func NewPublisher(cfg *config.BrokerConfig) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Println("[broker] Connected to message broker")
		}).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Printf("[broker] Connection lost: %v", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if token.WaitTimeout(connectTimeout) {
		if token.Error() != nil {
			return nil, fmt.Errorf("failed to connect to broker: %w", token.Error())
		}
	} else {
		log.Println("[broker] Connection timeout, retrying in background")
	}

	return NewPublisherWithClient(client), nil
}

// NewPublisherWithClient wraps an existing client.
func NewPublisherWithClient(client mqtt.Client) *Publisher {
	return &Publisher{client: client, timeout: publishTimeout}
}

// PublishEvent publishes a mapping change event
func (p *Publisher) PublishEvent(event *domains.MappingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := BuildTopic(event.EventType)
	if err := p.PublishRaw(topic, payload); err != nil {
		return err
	}

	log.Printf("[broker] Published to %s", topic)
	return nil
}

// PublishRaw publishes raw bytes to a specific topic
func (p *Publisher) PublishRaw(topic string, payload []byte) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, 1, false, payload)
	if token.WaitTimeout(p.timeout) {
		if token.Error() != nil {
			return fmt.Errorf("failed to publish: %w", token.Error())
		}
	} else {
		return fmt.Errorf("publish timeout")
	}
	return nil
}

func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}

func (p *Publisher) Client() mqtt.Client {
	return p.client
}

// Close closes the broker connection
func (p *Publisher) Close() {
	p.client.Disconnect(1000)
	log.Println("[broker] Disconnected from message broker")
}
