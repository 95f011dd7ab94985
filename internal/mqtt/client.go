package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/parking.report/internal/metrics"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("not connected to MQTT broker")

// Client is the subset of an MQTT client the Publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// Config holds the broker connection settings.
type Config struct {
	Broker         string // e.g. tcp://localhost:1883
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "parking-report"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
	return c
}

// PahoClient is a Client backed by the Eclipse Paho library. It keeps
// reconnecting in the background after the first connection.
type PahoClient struct {
	cfg     Config
	client  paho.Client
	metrics *metrics.MQTTMetrics

	mu        sync.RWMutex
	connected bool
}

var _ Client = (*PahoClient)(nil)

// Dial connects to the broker. m may be nil.
func Dial(ctx context.Context, cfg Config, m *metrics.MQTTMetrics) (*PahoClient, error) {
	cfg = cfg.withDefaults()
	c := &PahoClient{cfg: cfg, metrics: m}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) { c.setConnected(true) })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.setConnected(false)
		opsf("[Client] Connection to %s lost, reconnecting: %v", cfg.Broker, err)
	})

	c.client = paho.NewClient(opts)
	diagf("[Client] Connecting to %s as %s", cfg.Broker, cfg.ClientID)

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(cfg.ConnectTimeout):
		// With ConnectRetry the client keeps trying; report the timeout
		// but hand back a usable client.
		opsf("[Client] No connection to %s after %v, retrying in background", cfg.Broker, cfg.ConnectTimeout)
		return c, nil
	}
	if err := token.Error(); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return c, nil
}

func (c *PahoClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(v)
	}
	if v {
		diagf("[Client] Connected to %s", c.cfg.Broker)
	}
}

// IsConnected reports the last known connection state.
func (c *PahoClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Publish sends payload and waits up to the publish timeout for the
// broker to acknowledge it.
func (c *PahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return fmt.Errorf("publish to %s timed out after %v", topic, c.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Disconnect closes the connection with a 250ms grace period.
func (c *PahoClient) Disconnect() {
	if c.client != nil && c.client.IsConnectionOpen() {
		c.client.Disconnect(250)
		diagf("[Client] Disconnected from %s", c.cfg.Broker)
	}
	c.setConnected(false)
}
