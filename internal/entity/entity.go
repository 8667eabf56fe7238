// Package entity holds the in-memory entity map the controller decides on.
//
// Areas and lights share the Entity record: a key without '_' names an area
// (and its single light, if it has one), a key "area_bulb" names one bulb of
// that area.
package entity

import (
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Power states as reported by zigbee2mqtt.
const (
	On  = "ON"
	Off = "OFF"
)

// MaxBrightness is the zigbee level ceiling.
const MaxBrightness = 254

// Entity is the attribute record of one area or light.
type Entity struct {
	State              string    `yaml:"state,omitempty" json:"state,omitempty"`
	Brightness         *int      `yaml:"brightness,omitempty" json:"brightness,omitempty"`
	ColorTemp          *int      `yaml:"color_temp,omitempty" json:"color_temp,omitempty"`
	Dimmed             bool      `yaml:"dimmed,omitempty" json:"dimmed,omitempty"`
	Motion             bool      `yaml:"motion,omitempty" json:"motion,omitempty"`
	AdaptiveBrightness string    `yaml:"adaptive_brightness,omitempty" json:"adaptive_brightness,omitempty"`
	OccupancyTimeouts  []float64 `yaml:"occupancy_timeouts,omitempty" json:"occupancy_timeouts,omitempty"`

	// Extra keeps every other reported attribute.
	Extra map[string]any `yaml:",inline" json:"-"`
}

// IsOn reports whether the last known state is ON.
func (e *Entity) IsOn() bool {
	return e != nil && e.State == On
}

// AdaptiveOn reports whether adaptive brightness is enabled for this area.
func (e *Entity) AdaptiveOn() bool {
	return e != nil && e.AdaptiveBrightness == On
}

// BrightnessOr returns the stored brightness or def when unknown.
func (e *Entity) BrightnessOr(def int) int {
	if e == nil || e.Brightness == nil {
		return def
	}
	return *e.Brightness
}

// SetBrightness stores a clamped brightness.
func (e *Entity) SetBrightness(v int) {
	v = ClampBrightness(v)
	e.Brightness = &v
}

// SetColorTemp stores a color temperature.
func (e *Entity) SetColorTemp(v int) {
	e.ColorTemp = &v
}

// Merge copies reported attributes into the record. Known attributes
// land in typed fields; everything else goes to Extra. A known attribute
// with an unusable value is dropped, and a null brightness or color_temp
// clears the field.
func (e *Entity) Merge(attrs map[string]any) {
	for k, v := range attrs {
		if !knownAttribute(k) {
			if e.Extra == nil {
				e.Extra = make(map[string]any)
			}
			e.Extra[k] = v
			continue
		}
		if !e.mergeKnown(k, v) {
			log.Debug().Str("attribute", k).Interface("value", v).Msg("Ignoring attribute with unexpected type")
		}
	}
}

// knownAttribute reports whether k is stored in a typed field. Such keys
// must never reach Extra: it is inlined into the same YAML mapping.
func knownAttribute(k string) bool {
	switch k {
	case "state", "brightness", "color_temp", "dimmed", "motion",
		"adaptive_brightness", "occupancy_timeouts":
		return true
	}
	return false
}

func (e *Entity) mergeKnown(k string, v any) bool {
	switch k {
	case "state":
		if s, ok := v.(string); ok {
			e.State = strings.ToUpper(s)
			return true
		}
	case "brightness":
		if v == nil {
			e.Brightness = nil
			return true
		}
		if n, ok := toInt(v); ok {
			e.SetBrightness(n)
			return true
		}
	case "color_temp":
		if v == nil {
			e.ColorTemp = nil
			return true
		}
		if n, ok := toInt(v); ok {
			e.SetColorTemp(n)
			return true
		}
	case "dimmed":
		if b, ok := v.(bool); ok {
			e.Dimmed = b
			return true
		}
	case "motion":
		if b, ok := v.(bool); ok {
			e.Motion = b
			return true
		}
	case "adaptive_brightness":
		if s, ok := v.(string); ok {
			e.AdaptiveBrightness = strings.ToUpper(s)
			return true
		}
	case "occupancy_timeouts":
		if ts, ok := ToFloats(v); ok {
			e.OccupancyTimeouts = ts
			return true
		}
	}
	return false
}

// Clone returns a deep-enough copy for snapshots.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Brightness != nil {
		b := *e.Brightness
		c.Brightness = &b
	}
	if e.ColorTemp != nil {
		ct := *e.ColorTemp
		c.ColorTemp = &ct
	}
	if e.OccupancyTimeouts != nil {
		c.OccupancyTimeouts = append([]float64(nil), e.OccupancyTimeouts...)
	}
	if e.Extra != nil {
		c.Extra = make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// SunTimes is the pass-through record of today's solar events.
type SunTimes struct {
	Dawn    time.Time `yaml:"dawn" json:"dawn"`
	Sunrise time.Time `yaml:"sunrise" json:"sunrise"`
	Noon    time.Time `yaml:"noon" json:"noon"`
	Sunset  time.Time `yaml:"sunset" json:"sunset"`
	Dusk    time.Time `yaml:"dusk" json:"dusk"`
}

// Global is the site-wide record.
type Global struct {
	AdaptiveBrightness int       `yaml:"adaptive_brightness" json:"adaptive_brightness"`
	Night              bool      `yaml:"night" json:"night"`
	SunTimes           *SunTimes `yaml:"sun_times,omitempty" json:"sun_times,omitempty"`
}

// Snapshot is the persisted document.
type Snapshot struct {
	Global   Global             `yaml:"global" json:"global"`
	Entities map[string]*Entity `yaml:"entities" json:"entities"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Global:   Global{AdaptiveBrightness: MaxBrightness},
		Entities: make(map[string]*Entity),
	}
}

// ClampBrightness clamps v to [0, MaxBrightness].
func ClampBrightness(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxBrightness {
		return MaxBrightness
	}
	return v
}

// SplitKey splits "area_bulb" into its area and bulb parts.
func SplitKey(key string) (area, bulb string) {
	area, bulb, _ = strings.Cut(key, "_")
	return area, bulb
}

// LightKey joins an area and an optional bulb into an entity key.
func LightKey(area, bulb string) string {
	if bulb == "" {
		return area
	}
	return area + "_" + bulb
}

// ToFloats converts a decoded JSON/YAML list of numbers.
func ToFloats(v any) ([]float64, bool) {
	switch list := v.(type) {
	case []float64:
		return append([]float64(nil), list...), true
	case []any:
		out := make([]float64, 0, len(list))
		for _, item := range list {
			f, ok := ToFloat(item)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	}
	return nil, false
}

// ToFloat converts a decoded JSON/YAML number.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	f, ok := ToFloat(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}
