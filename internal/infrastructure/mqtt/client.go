package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/hwsim/internal/infrastructure/config"
)

// Logger defines the logging interface used by the client.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives a message on a subscribed topic. Handlers run on
// paho's delivery goroutine and should hand work off rather than block.
// A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Client is a paho client that publishes the hwsim status topic and
// restores its subscriptions after every reconnect.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	subs   map[string]subscription
	subsMu sync.Mutex

	connected atomic.Bool
	logger    atomic.Value // Logger
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and waits for the first connection.
//
// Parameters:
//   - ctx: bounds the wait for the initial connection
//   - cfg: MQTT section of the configuration
//
// Returns:
//   - *Client: connected client; "online" has been published retained
//   - error: ErrConnectionFailed if the broker is unreachable before ctx ends
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}
	c.logger.Store(Logger(noopLogger{}))

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.connected.Store(false)
		c.log().Warn("mqtt connection lost", "error", err)
	})
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("mqtt reconnecting", "broker", cfg.Broker.Host)
	})

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark connected here so callers
	// see a usable client as soon as Connect returns.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) onConnect() {
	c.connected.Store(true)

	c.subsMu.Lock()
	for topic, s := range c.subs {
		c.paho.Subscribe(topic, s.qos, c.wrap(s.handler))
	}
	c.subsMu.Unlock()

	c.paho.Publish(Topics{}.SystemStatus(), 1, true, statusPayload(StatusOnline, c.cfg.Broker.ClientID, ""))
}

// SetLogger sets the logger for connection events and handler failures.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	c.logger.Store(l)
}

func (c *Client) log() Logger {
	return c.logger.Load().(Logger) //nolint:forcetypeassert // only Logger is stored
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.paho.IsConnected()
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close publishes a graceful "offline" status and disconnects. The status
// differs from the LWT by its reason.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.paho.Publish(Topics{}.SystemStatus(), 1, true,
			statusPayload(StatusOffline, c.cfg.Broker.ClientID, "shutdown"))
		token.WaitTimeout(defaultOpTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

func (c *Client) wrap(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := h(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
