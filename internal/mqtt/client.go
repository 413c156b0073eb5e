// Package mqtt manages the inbound MQTT session: connecting with TLS and client ID
// templating, subscribing the reading topics, tracking connection health and
// rebuilding the session when the health monitor asks for it.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"energybridge/internal/metrics"
	"energybridge/pkg/types"
	"energybridge/pkg/validation"
)

const (
	defaultClientID   = "energybridge-{random}"
	disconnectQuiesce = 250
)

// ErrNotConnected is returned when an operation needs an established session.
var ErrNotConnected = errors.New("mqtt session not connected")

// ClientFactory builds the underlying paho client. Tests substitute a fake.
type ClientFactory func(opts *paho.ClientOptions) paho.Client

// Client owns one MQTT session at a time and records its ConnectionState.
type Client struct {
	config    *types.MQTTConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
	newClient ClientFactory
	now       func() time.Time

	messageHandler func(*types.MQTTMessage)

	mu                sync.Mutex
	client            paho.Client
	state             types.SessionState
	lastMessageTime   time.Time
	reconnectAttempts int
}

// Option customises a Client.
type Option func(*Client)

// WithClientFactory replaces paho.NewClient.
func WithClientFactory(f ClientFactory) Option {
	return func(c *Client) {
		c.newClient = f
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a disconnected session manager.
func NewClient(config *types.MQTTConfig, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		config:    config,
		logger:    logger.With(zap.String("component", "mqtt")),
		metrics:   m,
		newClient: paho.NewClient,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetMessageHandler sets the callback for incoming messages. It must be set before Subscribe.
func (c *Client) SetMessageHandler(handler func(*types.MQTTMessage)) {
	c.messageHandler = handler
}

// BrokerURL returns the broker address the session dials.
func (c *Client) BrokerURL() string {
	scheme := "tcp"
	if c.config.Broker.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.config.Broker.Host, c.config.Broker.Port)
}

// ClientID expands the {random} placeholder and sanitizes the result.
func ClientID(template string) string {
	if template == "" {
		template = defaultClientID
	}
	if strings.Contains(template, "{random}") {
		template = strings.ReplaceAll(template, "{random}", uuid.NewString()[:8])
	}
	return validation.SanitizeClientID(template)
}

// Options builds the paho options for a new session.
func (c *Client) Options() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.BrokerURL())
	opts.SetClientID(ClientID(c.config.Client.ClientID))

	if c.config.Auth.Username != "" {
		opts.SetUsername(validation.SanitizeUsername(c.config.Auth.Username))
		opts.SetPassword(validation.SanitizePassword(c.config.Auth.Password))
	}

	if c.config.Broker.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: c.config.Broker.Host,
			MinVersion: tls.VersionTLS12,
		}
		if c.config.Broker.UseOSCerts {
			pool, err := x509.SystemCertPool()
			if err != nil {
				return nil, fmt.Errorf("failed to load system certificate pool: %w", err)
			}
			tlsConfig.RootCAs = pool
		}
		opts.SetTLSConfig(tlsConfig)
		c.logger.Info("TLS enabled", zap.String("sni", c.config.Broker.Host))
	}

	opts.SetKeepAlive(c.config.Client.KeepAlive)
	opts.SetConnectTimeout(c.config.Client.ConnectTimeout)
	opts.SetCleanSession(c.config.Client.CleanSession)
	// reconnection is driven by the health monitor
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetDefaultPublishHandler(c.onMessage)
	return opts, nil
}

// Connect opens a new session. On failure the state stays Disconnected and the
// error is returned; retrying is left to the caller.
func (c *Client) Connect(ctx context.Context) error {
	opts, err := c.Options()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.state = types.SessionConnecting
	c.mu.Unlock()

	client := c.newClient(opts)
	c.logger.Info("Connecting to MQTT broker",
		zap.String("broker", c.BrokerURL()),
		zap.String("client_id", opts.ClientID),
		zap.Bool("tls", c.config.Broker.UseTLS))

	if err := waitToken(ctx, client.Connect()); err != nil {
		c.mu.Lock()
		c.state = types.SessionDisconnected
		c.mu.Unlock()
		c.metrics.SetMQTTConnected(false)
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.state = types.SessionConnected
	c.lastMessageTime = c.now()
	c.mu.Unlock()
	c.metrics.SetMQTTConnected(true)

	c.logger.Info("✓ Connected to MQTT broker")
	return nil
}

// Subscribe registers every configured topic pattern with the dispatch callback.
func (c *Client) Subscribe(ctx context.Context) error {
	client := c.current()
	if client == nil {
		return ErrNotConnected
	}

	for _, topic := range c.config.Topics.Subscribe {
		c.logger.Info("Subscribing to MQTT topic", zap.String("topic", topic), zap.Uint8("qos", c.config.Client.QoS))
		if err := waitToken(ctx, client.Subscribe(topic, c.config.Client.QoS, c.onMessage)); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
		c.logger.Info("✓ Subscribed", zap.String("topic", topic))
	}
	return nil
}

// Reconnect tears the current session down and builds a fresh one. A failure
// counts against the reconnect attempts; a success resets them.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Disconnect()

	err := c.Connect(ctx)
	if err == nil {
		err = c.Subscribe(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.reconnectAttempts++
		return err
	}
	c.reconnectAttempts = 0
	c.lastMessageTime = c.now()
	return nil
}

// Publish publishes a message on the current session.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	client := c.current()
	if client == nil {
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect closes the session. Teardown errors are ignored.
func (c *Client) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.state = types.SessionDisconnected
	c.mu.Unlock()
	c.metrics.SetMQTTConnected(false)

	if client == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Warn("MQTT disconnect panicked", zap.Any("panic", r))
			}
		}()
		if client.IsConnectionOpen() {
			c.logger.Info("Disconnecting from MQTT broker")
		}
		client.Disconnect(disconnectQuiesce)
	}()
}

// State returns a snapshot of the session health.
func (c *Client) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return types.ConnectionState{
		State:             c.state,
		Connected:         c.state == types.SessionConnected,
		LastMessageTime:   c.lastMessageTime,
		ReconnectAttempts: c.reconnectAttempts,
	}
}

func (c *Client) current() paho.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Client) onConnect(_ paho.Client) {
	c.logger.Debug("MQTT client connected")
}

func (c *Client) onConnectionLost(client paho.Client, err error) {
	c.mu.Lock()
	if c.client == client {
		c.state = types.SessionDisconnected
	}
	c.mu.Unlock()
	c.metrics.SetMQTTConnected(false)
	c.logger.Warn("MQTT connection lost", zap.Error(err))
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	now := c.now()
	c.mu.Lock()
	c.lastMessageTime = now
	c.mu.Unlock()

	if c.messageHandler == nil {
		return
	}
	c.messageHandler(&types.MQTTMessage{
		Topic:     msg.Topic(),
		Payload:   msg.Payload(),
		QoS:       msg.Qos(),
		Retained:  msg.Retained(),
		Timestamp: now,
	})
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
