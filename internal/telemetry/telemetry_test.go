package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"

	"github.com/dokzlo13/motionlightd/internal/config"
)

var at = time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)

func TestTargetPoint(t *testing.T) {
	line := write.PointToLineProtocol(TargetPoint(at, 200, false), time.Second)
	assert.Equal(t, "brightness_target brightness=200i,night=false 1718971200", strings.TrimSpace(line))
}

func TestCommandPoint(t *testing.T) {
	line := write.PointToLineProtocol(
		CommandPoint(at, "z2m/light/hall/set", map[string]any{"state": "ON", "brightness": 120, "color_temp": 370}),
		time.Second,
	)
	assert.Equal(t, `light_command,topic=z2m/light/hall/set brightness=120i,count=1i,state="ON" 1718971200`, strings.TrimSpace(line))
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.TelemetryConfig{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	r.Target(at, 1, true)
	r.Command(at, "t", nil)
	assert.NoError(t, r.Close())
}
