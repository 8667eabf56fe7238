package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/dokzlo13/motionlightd/internal/config"
)

// Connection constants.
const (
	// defaultPublishTimeout is the maximum time to wait for a publish or subscribe acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// maxPayloadSize guards against runaway payloads.
	maxPayloadSize = 1 << 20
)

// StatusTopic is where the daemon announces online/offline, retained.
const StatusTopic = "motionlightd/status"

// ClientID returns the configured client id or a generated one.
func ClientID(cfg config.MQTTConfig) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return "motionlightd-" + uuid.NewString()[:8]
}

// buildClientOptions creates paho options from config: broker, auth,
// protocol version and auto-reconnect with backoff.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetProtocolVersion(cfg.ProtocolVersion)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)

	// Messages must reach the event bus in arrival order
	opts.SetOrderMatters(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.MinRetryBackoff.Duration())
	opts.SetMaxReconnectInterval(cfg.MaxRetryBackoff.Duration())
	opts.SetConnectTimeout(cfg.ConnectTimeout.Duration())
	opts.SetKeepAlive(defaultKeepAlive)

	return opts
}

// configureLWT makes the broker announce us offline if we vanish.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetWill(StatusTopic, statusPayload("offline", clientID, "unexpected_disconnect"), 1, true)
}

func statusPayload(status, clientID, reason string) string {
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`,
			status, clientID, time.Now().UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`,
		status, clientID, reason, time.Now().UTC().Format(time.RFC3339))
}
