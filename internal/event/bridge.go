package event

import (
	"sort"
	"strings"

	"github.com/dokzlo13/motionlightd/internal/entity"
)

// AreaTimeouts is the occupancy timeout list configured on the bridge for
// one area.
type AreaTimeouts struct {
	Area     string
	Timeouts []float64
}

// BridgeTimeouts extracts no_occupancy_since lists from a bridge config
// payload. The area is the second segment of the device friendly_name
// ("motion/kitchen" -> "kitchen"). Devices may be an object keyed by
// address or an array. Results are sorted by area.
func BridgeTimeouts(payload map[string]any) []AreaTimeouts {
	cfg, ok := payload["config"].(map[string]any)
	if !ok {
		return nil
	}

	var devices []any
	switch d := cfg["devices"].(type) {
	case map[string]any:
		for _, dev := range d {
			devices = append(devices, dev)
		}
	case []any:
		devices = d
	default:
		return nil
	}

	var out []AreaTimeouts
	for _, raw := range devices {
		dev, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		timeouts, ok := entity.ToFloats(dev["no_occupancy_since"])
		if !ok || len(timeouts) == 0 {
			continue
		}
		name, _ := dev["friendly_name"].(string)
		parts := strings.Split(name, "/")
		if len(parts) < 2 || parts[1] == "" {
			continue
		}
		out = append(out, AreaTimeouts{Area: parts[1], Timeouts: timeouts})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Area < out[j].Area })
	return out
}

// StrictlyIncreasing reports whether ts is a valid staged timeout list.
func StrictlyIncreasing(ts []float64) bool {
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			return false
		}
	}
	return len(ts) > 0
}
