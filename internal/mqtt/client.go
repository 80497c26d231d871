// Package mqtt adapts a paho MQTT client to the mesh transport.
package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned when publishing while the broker link is down.
var ErrNotConnected = errors.New("mqtt not connected")

// Config holds MQTT client configuration.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Handler receives inbound messages.
type Handler func(topic string, payload []byte)

// Client is a connected broker session. Subscriptions are remembered and
// restored every time the connection comes back.
type Client struct {
	client pahomqtt.Client
	qos    byte
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

func newClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		qos:    cfg.QoS,
		logger: logger.With("component", "mqtt"),
		subs:   make(map[string]Handler),
	}
}

func (c *Client) options(cfg Config) *pahomqtt.ClientOptions {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "domator"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			c.logger.Info("MQTT connected", "broker", cfg.Broker)
			c.resubscribe()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			c.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// Connect dials the broker and waits up to timeout for the session.
func Connect(cfg Config, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	c := newClient(cfg, logger)
	client := pahomqtt.NewClient(c.options(cfg))
	c.client = client

	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

// Subscribe registers handler for filter. The subscription is replayed on
// reconnect.
func (c *Client) Subscribe(filter string, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subs[filter] = handler
	c.mu.Unlock()

	if c.client == nil || !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(filter, handler)
}

func (c *Client) subscribe(filter string, handler Handler) error {
	token := c.client.Subscribe(filter, c.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	c.logger.Debug("subscribed", "filter", filter)
	return nil
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for f, h := range c.subs {
		subs[f] = h
	}
	c.mu.Unlock()

	for f, h := range subs {
		if err := c.subscribe(f, h); err != nil {
			c.logger.Error("resubscribe failed", "err", err)
		}
	}
}

// Publish sends payload without waiting for the broker acknowledgement.
// Delivery failures surface in the log.
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	if c.client == nil || !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, false, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			c.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			c.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
	return nil
}

// Close disconnects, allowing in-flight work a short grace period.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect(1000)
	}
	c.logger.Info("MQTT disconnected")
}
