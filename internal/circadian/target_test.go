package circadian

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTarget_Noon(t *testing.T) {
	got := ComputeTarget(12, 6, 18, 2.54)
	assert.GreaterOrEqual(t, got, 235)
	assert.LessOrEqual(t, got, 254)
}

func TestComputeTarget_Midpoints(t *testing.T) {
	// atan(0) puts the curve exactly halfway at up and down
	assert.Equal(t, 127, ComputeTarget(6, 6, 18, 2.54))
	assert.Equal(t, 127, ComputeTarget(18, 6, 18, 2.54))
}

func TestComputeTarget_Midnight(t *testing.T) {
	got := ComputeTarget(0, 6, 18, 2.54)
	assert.LessOrEqual(t, got, 20)
	assert.Equal(t, got, ComputeTarget(23.99, 6, 18, 2.54))
}

func TestComputeTarget_Idempotent(t *testing.T) {
	for _, h := range []float64{0, 3.25, 6, 11.5, 17.99, 23.75} {
		assert.Equal(t, ComputeTarget(h, 6, 18, 2.54), ComputeTarget(h, 6, 18, 2.54))
	}
}

func TestComputeTarget_Clamped(t *testing.T) {
	for h := 0.0; h < 24; h += 0.25 {
		got := ComputeTarget(h, 6, 18, 10)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, 254)
	}
	assert.Equal(t, 0, ComputeTarget(12, 6, 18, 0))
}

func TestComputeTarget_Continuous(t *testing.T) {
	params := []struct{ up, down float64 }{
		{6, 18},
		{5.5, 21},
		{7.25, 16.75},
		{2, 10},
	}
	const step = 1.0 / 60
	const epsilon = 3

	for _, p := range params {
		prev := ComputeTarget(0, p.up, p.down, 2.54)
		for i := 1; i <= 24*60; i++ {
			h := math.Mod(float64(i)*step, 24)
			got := ComputeTarget(h, p.up, p.down, 2.54)
			assert.LessOrEqualf(t, abs(got-prev), epsilon,
				"jump at %.3fh for up=%v down=%v: %d -> %d", h, p.up, p.down, prev, got)
			prev = got
		}
	}
}

func TestHourOf(t *testing.T) {
	ts := time.Date(2024, 3, 1, 13, 45, 59, 0, time.UTC)
	assert.Equal(t, 13.75, HourOf(ts))
}

func TestScriptCurve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "curve.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
function brightness(hour, up, down, gain)
  if hour >= up and hour < down then
    return 300
  end
  return hour * 2.6
end
`), 0o600))

	curve, err := LoadScript(path, nil)
	require.NoError(t, err)
	defer curve.Close()

	assert.Equal(t, 254, curve.Target(12, 6, 18, 2.54))
	assert.Equal(t, 5, curve.Target(2, 6, 18, 2.54))
}

func TestScriptCurve_FallsBackOnBadReturn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curve.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function brightness() return "bright" end`), 0o600))

	curve, err := LoadScript(path, nil)
	require.NoError(t, err)
	defer curve.Close()

	assert.Equal(t, ComputeTarget(12, 6, 18, 2.54), curve.Target(12, 6, 18, 2.54))
}

func TestLoadScript_RequiresFunction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curve.lua")
	require.NoError(t, os.WriteFile(path, []byte(`x = 1`), 0o600))

	_, err := LoadScript(path, nil)
	assert.Error(t, err)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
