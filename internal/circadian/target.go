// Package circadian computes the time-of-day brightness target.
package circadian

import (
	"math"
	"time"

	"github.com/dokzlo13/motionlightd/internal/entity"
)

// Curve computes a brightness target for an hour of the day.
type Curve interface {
	Target(hour, up, down, gain float64) int
}

// CurveFunc adapts a function to Curve.
type CurveFunc func(hour, up, down, gain float64) int

// Target implements Curve.
func (f CurveFunc) Target(hour, up, down, gain float64) int {
	return f(hour, up, down, gain)
}

// Default is the built-in arctangent curve.
var Default Curve = CurveFunc(ComputeTarget)

// ComputeTarget returns the brightness for hour on a sigmoid that rises
// around up and falls around down. All arguments are hours on a 24h clock
// (fractions allowed) except gain, which scales the 0..100 curve.
func ComputeTarget(now, up, down, gain float64) int {
	mid := (up + down) / 2

	var x float64
	if (now < mid && now > mid-12) || now > mid+12 {
		// night -> day
		if now > down {
			x = math.Atan(now - up - 24)
		} else {
			x = math.Atan(now - up)
		}
		x = math.Pi/2 + x
	} else {
		// day -> night
		if now > up {
			x = math.Atan(now - down)
		} else {
			x = math.Atan(now - down + 24)
		}
		x = math.Pi/2 - x
	}

	return entity.ClampBrightness(int(math.Round(x / math.Pi * 100 * gain)))
}

// HourOf converts a wall clock instant to fractional hours.
func HourOf(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}
