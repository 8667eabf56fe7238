// Package geo computes the site's daily sun times and the night flag.
package geo

import (
	"fmt"
	"math"
	"time"

	"github.com/bluele/gcache"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motionlightd/internal/entity"
)

// Days kept in the sun time cache.
const cacheDays = 7

// Calculator calculates sun times for a fixed location, caching one entry
// per local calendar day.
type Calculator struct {
	lat, lon float64
	tz       *time.Location
	cache    gcache.Cache
}

// NewCalculator creates a calculator for the given coordinates.
func NewCalculator(lat, lon float64, tz *time.Location) *Calculator {
	if tz == nil {
		tz = time.Local
	}
	c := &Calculator{lat: lat, lon: lon, tz: tz}
	c.cache = gcache.New(cacheDays).
		LRU().
		LoaderFunc(func(key interface{}) (interface{}, error) {
			day, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("invalid cache key %v", key)
			}
			date, err := time.ParseInLocation("2006-01-02", day, c.tz)
			if err != nil {
				return nil, err
			}
			return c.calculate(date), nil
		}).
		Build()

	log.Info().
		Float64("lat", lat).
		Float64("lon", lon).
		Str("timezone", tz.String()).
		Msg("Geo calculator initialized")

	return c
}

// Times returns the sun times of the local day containing t.
func (c *Calculator) Times(t time.Time) (*entity.SunTimes, error) {
	day := t.In(c.tz).Format("2006-01-02")
	v, err := c.cache.Get(day)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sun times for %s: %w", day, err)
	}
	times := *v.(*entity.SunTimes)
	return &times, nil
}

// IsNight reports whether t lies outside the sunrise..sunset window.
func IsNight(t time.Time, times *entity.SunTimes) bool {
	if times == nil {
		return false
	}
	return t.Before(times.Sunrise) || !t.Before(times.Sunset)
}

// Night computes the sun times for t and whether it is night.
func (c *Calculator) Night(t time.Time) (*entity.SunTimes, bool, error) {
	times, err := c.Times(t)
	if err != nil {
		return nil, false, err
	}
	return times, IsNight(t, times), nil
}

// calculate computes sun times using the NOAA sunrise equation.
func (c *Calculator) calculate(date time.Time) *entity.SunTimes {
	// The equation expects the Julian day at noon, not midnight
	jd := toJulianDay(date) + 0.5

	return &entity.SunTimes{
		Dawn:    c.sunTime(jd, date, -6.0, true),
		Sunrise: c.sunTime(jd, date, -0.833, true),
		Noon:    julianToTime(solarTransit(jd, c.lon).transit, c.tz, date),
		Sunset:  c.sunTime(jd, date, -0.833, false),
		Dusk:    c.sunTime(jd, date, -6.0, false),
	}
}

type transit struct {
	transit   float64
	lambdaRad float64
}

func solarTransit(jd, lon float64) transit {
	n := jd - 2451545.0 + 0.0008

	// Mean solar noon
	jStar := n - lon/360.0

	// Solar mean anomaly
	m := math.Mod(357.5291+0.98560028*jStar, 360.0)
	mRad := m * math.Pi / 180.0

	// Equation of center
	eq := 1.9148*math.Sin(mRad) + 0.02*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)

	// Ecliptic longitude
	lambda := math.Mod(m+eq+180+102.9372, 360.0)
	lambdaRad := lambda * math.Pi / 180.0

	return transit{
		transit:   2451545.0 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lambdaRad),
		lambdaRad: lambdaRad,
	}
}

// sunTime calculates the time the sun crosses angle degrees of altitude.
func (c *Calculator) sunTime(jd float64, date time.Time, angle float64, rising bool) time.Time {
	tr := solarTransit(jd, c.lon)

	// Declination of the sun
	dec := math.Asin(math.Sin(tr.lambdaRad) * math.Sin(23.44*math.Pi/180.0))

	latRad := c.lat * math.Pi / 180.0
	angleRad := angle * math.Pi / 180.0
	cosOmega := (math.Sin(angleRad) - math.Sin(latRad)*math.Sin(dec)) / (math.Cos(latRad) * math.Cos(dec))

	// Polar day and night clamp to noon or midnight
	if cosOmega > 1 {
		cosOmega = 1
	} else if cosOmega < -1 {
		cosOmega = -1
	}

	omega := math.Acos(cosOmega) * 180.0 / math.Pi

	jTime := tr.transit + omega/360.0
	if rising {
		jTime = tr.transit - omega/360.0
	}
	return julianToTime(jTime, c.tz, date)
}

// toJulianDay converts a date to Julian day number
func toJulianDay(t time.Time) float64 {
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())

	if m <= 2 {
		y--
		m += 12
	}

	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + b - 1524.5
}

// julianToTime converts a Julian day to a wall clock time on refDate in tz.
func julianToTime(jd float64, tz *time.Location, refDate time.Time) time.Time {
	unixTime := (jd - 2440587.5) * 86400.0
	t := time.Unix(int64(unixTime), int64((unixTime-math.Floor(unixTime))*1e9)).In(tz)

	return time.Date(
		refDate.Year(), refDate.Month(), refDate.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, tz,
	)
}
