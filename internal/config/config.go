package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log                 LogConfig             `yaml:"log"`
	MQTT                MQTTConfig            `yaml:"mqtt"`
	Brightness          BrightnessConfig      `yaml:"brightness"`
	Geo                 GeoConfig             `yaml:"geo"`
	Motion              map[string]MotionArea `yaml:"motion"`
	UnnecessaryPayloads []string              `yaml:"unnecessary_payloads"`
	State               StateConfig           `yaml:"state"`
	Database            DatabaseConfig        `yaml:"database"`
	Ledger              LedgerConfig          `yaml:"ledger"`
	HTTP                HTTPConfig            `yaml:"http"`
	Telemetry           TelemetryConfig       `yaml:"telemetry"`
	EventBus            EventBusConfig        `yaml:"eventbus"`
	ShutdownTimeout     Duration              `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// MQTTConfig contains broker connection and topic settings
type MQTTConfig struct {
	Broker          string   `yaml:"broker"` // e.g. tcp://127.0.0.1:1883
	ClientID        string   `yaml:"client_id"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	ProtocolVersion uint     `yaml:"protocol_version"` // 3 or 4; paho speaks MQTT 3.1/3.1.1
	Topics          []string `yaml:"topics"`
	QoS             byte     `yaml:"qos"`

	// Namespace is the first topic segment of physical device reports (zigbee2mqtt base topic)
	Namespace        string `yaml:"namespace"`
	VirtualNamespace string `yaml:"virtual_namespace"`

	PublishRateLimit float64  `yaml:"publish_rate_limit"` // commands per second
	ConnectTimeout   Duration `yaml:"connect_timeout"`
	MinRetryBackoff  Duration `yaml:"min_retry_backoff"`
	MaxRetryBackoff  Duration `yaml:"max_retry_backoff"`
}

// BrightnessConfig contains the circadian curve parameters
type BrightnessConfig struct {
	Up   float64 `yaml:"up"`   // hour the curve crosses its midpoint going up
	Down float64 `yaml:"down"` // hour the curve crosses its midpoint going down
	Gain float64 `yaml:"gain"`

	// FollowSun replaces Up/Down with today's sunrise and sunset hours
	FollowSun bool `yaml:"follow_sun"`

	// Script is an optional Lua file defining brightness(hour, up, down, gain)
	Script string `yaml:"script"`

	RefreshInterval Duration `yaml:"refresh_interval"`
}

// GeoConfig contains the site location used for sun times
type GeoConfig struct {
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Timezone string  `yaml:"timezone"`
}

// MotionArea overrides motion behaviour for one area
type MotionArea struct {
	// ToggleableLights lists the bulbs (area_<bulb>) driven by motion instead of the area light
	ToggleableLights []string `yaml:"toggleable_lights"`
	// Night restricts motion activation to night time
	Night bool `yaml:"night"`
}

// StateConfig contains snapshot persistence settings
type StateConfig struct {
	Backend string `yaml:"backend"` // yaml or sqlite
	Path    string `yaml:"path"`    // yaml backend only
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains command ledger settings
type LedgerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	RetentionPeriod Duration `yaml:"retention_period"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// HTTPConfig contains the read-only status server settings
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// TelemetryConfig contains InfluxDB settings
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// EventBusConfig contains work queue settings
type EventBusConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler so /config round-trips
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file.
// A missing file yields the built-in defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = Config{}
	case err != nil:
		return nil, err
	default:
		// Expand environment variables
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyDefaults()

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://127.0.0.1:1883"
	}
	if cfg.MQTT.ProtocolVersion == 0 {
		cfg.MQTT.ProtocolVersion = 4
	}
	if cfg.MQTT.Namespace == "" {
		cfg.MQTT.Namespace = "z2m_cc2652p"
	}
	if cfg.MQTT.VirtualNamespace == "" {
		cfg.MQTT.VirtualNamespace = "virtual"
	}
	if len(cfg.MQTT.Topics) == 0 {
		cfg.MQTT.Topics = []string{cfg.MQTT.Namespace + "/#", cfg.MQTT.VirtualNamespace + "/#"}
	}
	if cfg.MQTT.PublishRateLimit == 0 {
		cfg.MQTT.PublishRateLimit = 20
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.MinRetryBackoff == 0 {
		cfg.MQTT.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.MQTT.MaxRetryBackoff == 0 {
		cfg.MQTT.MaxRetryBackoff = Duration(2 * time.Minute)
	}

	// Brightness curve defaults
	if cfg.Brightness.Up == 0 && cfg.Brightness.Down == 0 {
		cfg.Brightness.Up = 6
		cfg.Brightness.Down = 18
	}
	if cfg.Brightness.Gain == 0 {
		cfg.Brightness.Gain = 2.54
	}
	if cfg.Brightness.RefreshInterval == 0 {
		cfg.Brightness.RefreshInterval = Duration(time.Minute)
	}

	if cfg.Geo.Timezone == "" {
		cfg.Geo.Timezone = "Local"
	}
	if cfg.Motion == nil {
		cfg.Motion = make(map[string]MotionArea)
	}

	// State defaults
	if cfg.State.Backend == "" {
		cfg.State.Backend = "yaml"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "./state.yml"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./motionlightd.sqlite"
	}

	// Ledger defaults
	if cfg.Ledger.RetentionPeriod == 0 {
		cfg.Ledger.RetentionPeriod = Duration(7 * 24 * time.Hour)
	}
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}

	// HTTP defaults
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}

	// Telemetry defaults
	if cfg.Telemetry.BatchSize == 0 {
		cfg.Telemetry.BatchSize = 100
	}
	if cfg.Telemetry.FlushInterval == 0 {
		cfg.Telemetry.FlushInterval = 10
	}

	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 100
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks values that cannot be defaulted away
func (cfg *Config) Validate() error {
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	if cfg.MQTT.ProtocolVersion != 3 && cfg.MQTT.ProtocolVersion != 4 {
		return fmt.Errorf("mqtt.protocol_version must be 3 or 4, got %d", cfg.MQTT.ProtocolVersion)
	}
	if cfg.MQTT.PublishRateLimit < 0 {
		return fmt.Errorf("mqtt.publish_rate_limit must not be negative")
	}
	b := cfg.Brightness
	if b.Up < 0 || b.Up >= 24 || b.Down < 0 || b.Down >= 24 {
		return fmt.Errorf("brightness.up and brightness.down must be hours in [0,24)")
	}
	if b.Up >= b.Down {
		return fmt.Errorf("brightness.up (%g) must be earlier than brightness.down (%g)", b.Up, b.Down)
	}
	if b.Gain < 0 {
		return fmt.Errorf("brightness.gain must not be negative")
	}
	if tz := cfg.Geo.Timezone; tz != "" && tz != "Local" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("geo.timezone %q is not a known zone: %w", tz, err)
		}
	}
	switch cfg.State.Backend {
	case "yaml", "sqlite":
	default:
		return fmt.Errorf("state.backend must be yaml or sqlite, got %q", cfg.State.Backend)
	}
	for area, m := range cfg.Motion {
		if strings.Contains(area, "_") {
			return fmt.Errorf("motion area %q must not contain '_'", area)
		}
		for _, bulb := range m.ToggleableLights {
			if bulb == "" {
				return fmt.Errorf("motion area %q has an empty toggleable light", area)
			}
		}
	}
	return nil
}

// GetShutdownTimeout returns the shutdown timeout
func (cfg *Config) GetShutdownTimeout() time.Duration {
	return cfg.ShutdownTimeout.Duration()
}

// Location resolves the configured timezone. Validate rejects unknown zones,
// so the local fallback only applies to an unvalidated config.
func (c GeoConfig) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	tz, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return tz
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// Redacted returns a copy safe to expose on the status endpoint
func (cfg *Config) Redacted() Config {
	out := *cfg
	if out.MQTT.Password != "" {
		out.MQTT.Password = "***"
	}
	if out.Telemetry.Token != "" {
		out.Telemetry.Token = "***"
	}
	return out
}
