// Package telemetry records the brightness target and published commands
// as InfluxDB time series.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motionlightd/internal/config"
)

const (
	defaultConnectTimeout = 10 * time.Second

	millisecondsPerSecond = 1000

	measurementTarget  = "brightness_target"
	measurementCommand = "light_command"
)

var (
	// ErrDisabled is returned by Connect when telemetry is disabled.
	ErrDisabled = errors.New("telemetry: disabled")
	// ErrConnectionFailed is returned when InfluxDB cannot be reached.
	ErrConnectionFailed = errors.New("telemetry: connection failed")
)

// Recorder receives controller measurements. Implementations must not block.
type Recorder interface {
	Target(at time.Time, brightness int, night bool)
	Command(at time.Time, topic string, payload map[string]any)
	Close() error
}

// Noop discards everything.
type Noop struct{}

func (Noop) Target(time.Time, int, bool)               {}
func (Noop) Command(time.Time, string, map[string]any) {}
func (Noop) Close() error                              { return nil }

// Influx writes points through the non-blocking, batching write API.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Connect creates the client and verifies the server answers a ping.
func Connect(cfg config.TelemetryConfig) (*Influx, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("Telemetry write failed")
		}
	}()

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("Telemetry connected to InfluxDB")
	return &Influx{client: client, writeAPI: writeAPI}, nil
}

// Target records the computed brightness target.
func (i *Influx) Target(at time.Time, brightness int, night bool) {
	i.writeAPI.WritePoint(TargetPoint(at, brightness, night))
}

// Command records one published light command.
func (i *Influx) Command(at time.Time, topic string, payload map[string]any) {
	i.writeAPI.WritePoint(CommandPoint(at, topic, payload))
}

// Close flushes pending writes and closes the client.
func (i *Influx) Close() error {
	i.writeAPI.Flush()
	i.client.Close()
	return nil
}

// TargetPoint builds the brightness target point.
func TargetPoint(at time.Time, brightness int, night bool) *write.Point {
	return write.NewPoint(
		measurementTarget,
		map[string]string{},
		map[string]interface{}{
			"brightness": brightness,
			"night":      night,
		},
		at,
	)
}

// CommandPoint builds a light command point tagged by topic. Only the
// numeric brightness and the power state are kept as fields.
func CommandPoint(at time.Time, topic string, payload map[string]any) *write.Point {
	fields := map[string]interface{}{"count": 1}
	if state, ok := payload["state"].(string); ok {
		fields["state"] = state
	}
	switch b := payload["brightness"].(type) {
	case int:
		fields["brightness"] = b
	case float64:
		fields["brightness"] = int(b)
	}
	return write.NewPoint(
		measurementCommand,
		map[string]string{"topic": topic},
		fields,
		at,
	)
}
