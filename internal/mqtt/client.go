// Package mqtt wraps paho.mqtt.golang with connection tracking,
// subscription restore on reconnect and rate-limited JSON publishing.
package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/dokzlo13/motionlightd/internal/config"
)

// MessageHandler is the callback signature for received messages. It is
// called on paho's router goroutine and must not block.
type MessageHandler func(topic string, payload []byte) error

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is a broker connection. All methods are safe for concurrent use.
type Client struct {
	client   pahomqtt.Client
	clientID string

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected atomic.Bool
}

// Connect creates a client and starts connecting. When the broker is not
// reachable within the connect timeout the client keeps retrying in the
// background and Connect returns the client together with an error
// wrapping ErrConnectionFailed; subscriptions registered meanwhile are
// applied once the connection comes up.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	clientID := ClientID(cfg)
	opts := buildClientOptions(cfg, clientID)
	configureLWT(opts, clientID)

	c := &Client{
		clientID:      clientID,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		log.Debug().Str("broker", cfg.Broker).Msg("Reconnecting to MQTT broker")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	timeout := cfg.ConnectTimeout.Duration()
	if !token.WaitTimeout(timeout) {
		return c, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return c, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connected.Store(true)
	log.Info().Str("broker", cfg.Broker).Str("client_id", clientID).Msg("Connected to MQTT broker")
	return c, nil
}

// handleConnect is called on initial connect and on every reconnect.
func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.client.Publish(StatusTopic, 1, true, statusPayload("online", c.clientID, ""))
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	log.Warn().Err(err).Msg("MQTT connection lost")
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		log.Debug().Str("topic", sub.topic).Msg("Subscription restored")
	}
}

// Subscribe registers a handler for a topic pattern. The subscription is
// tracked and restored on reconnect; while disconnected it is only
// tracked.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	if !c.IsConnected() {
		log.Warn().Str("topic", topic).Msg("MQTT not connected, subscription deferred")
		return nil
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	log.Info().Str("topic", topic).Uint8("qos", qos).Msg("Subscribed")
	return nil
}

// Publish sends a message without waiting for delivery. Delivery failures
// are logged when paho reports them.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	go func() {
		if !token.WaitTimeout(defaultPublishTimeout) {
			log.Warn().Str("topic", topic).Msg("MQTT publish not acknowledged in time")
			return
		}
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
	return nil
}

// Close announces a graceful shutdown and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(StatusTopic, 1, true, statusPayload("offline", c.clientID, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	log.Info().Msg("Disconnected from MQTT broker")
	return nil
}

// HealthCheck reports whether the connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("MQTT handler panic recovered")
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("MQTT handler returned error")
		}
	}
}
