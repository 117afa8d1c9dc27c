// Package relay implements the low-latency side channel between paired
// devices over an MQTT broker. The channel is strictly best-effort: it never
// blocks the caller, never retries, and carries no durability guarantees.
// The outbox sync path remains the source of truth.
package relay

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	// incomingBuffer bounds the receive queue. When the consumer falls
	// behind, new payloads are dropped rather than blocking the broker
	// callback; the pull loop recovers anything missed.
	incomingBuffer = 64
)

// Config describes the broker connection for one device pair.
type Config struct {
	Broker   string // e.g. tcp://host:1883
	ClientID string
	Username string
	Password string
	Topic    string // shared pair topic, e.g. heatsync/<pair-id>/changes
}

// Channel is an MQTT-backed peer relay. It satisfies sync.PeerRelay.
type Channel struct {
	client   mqtt.Client
	topic    string
	incoming chan []byte
}

// Dial connects to the broker and subscribes to the pair topic. A broker that
// is down is an error here, so the caller can log it and run without the
// relay rather than carrying a dead channel.
func Dial(cfg Config) (*Channel, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("relay: broker and topic are required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)

	ch := &Channel{
		topic:    cfg.Topic,
		incoming: make(chan []byte, incomingBuffer),
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// Resubscribe on every (re)connect; clean sessions drop state.
		if token := c.Subscribe(cfg.Topic, 0, ch.onMessage); token.Wait() && token.Error() != nil {
			slog.Warn("relay subscribe", "topic", cfg.Topic, "err", token.Error())
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("relay: connect %s: %w", cfg.Broker, token.Error())
	}
	ch.client = client
	return ch, nil
}

func (ch *Channel) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	select {
	case ch.incoming <- payload:
	default:
		slog.Debug("relay receive queue full, dropping", "topic", msg.Topic())
	}
}

// Publish sends a payload at QoS 0 without waiting for completion. A
// disconnected broker silently drops the message.
func (ch *Channel) Publish(payload []byte) {
	if !ch.client.IsConnected() {
		return
	}
	ch.client.Publish(ch.topic, 0, false, payload)
}

// Incoming returns the channel of received payloads.
func (ch *Channel) Incoming() <-chan []byte {
	return ch.incoming
}

// Close disconnects from the broker and closes the incoming channel.
func (ch *Channel) Close() {
	ch.client.Disconnect(250)
	close(ch.incoming)
}
