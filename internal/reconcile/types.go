// Package reconcile turns desired light state into the minimal set of
// outbound commands, diffed against the entity store.
package reconcile

import (
	"github.com/dokzlo13/motionlightd/internal/entity"
)

// Publisher sends one command. Implementations must not block for long:
// publishing is fire-and-forget from the reconciler's point of view.
type Publisher interface {
	Publish(topic string, payload map[string]any) error
}

// Desired is the light state a decision asks for. Nil fields are left
// alone.
type Desired struct {
	State      string
	Brightness *int
	ColorTemp  *int
}

// Payload renders the desired state as a zigbee2mqtt set payload.
func (d Desired) Payload() map[string]any {
	p := make(map[string]any, 3)
	if d.State != "" {
		p["state"] = d.State
	}
	if d.Brightness != nil {
		p["brightness"] = *d.Brightness
	}
	if d.ColorTemp != nil {
		p["color_temp"] = *d.ColorTemp
	}
	return p
}

// Apply writes the desired fields back to the record.
func (d Desired) Apply(e *entity.Entity) {
	if d.State != "" {
		e.State = d.State
	}
	if d.Brightness != nil {
		e.SetBrightness(*d.Brightness)
	}
	if d.ColorTemp != nil {
		e.SetColorTemp(*d.ColorTemp)
	}
}

// Differs reports whether any desired field differs from the record.
func Differs(d Desired, actual *entity.Entity) bool {
	if actual == nil {
		return true
	}
	if d.State != "" && d.State != actual.State {
		return true
	}
	if d.Brightness != nil && (actual.Brightness == nil || *actual.Brightness != *d.Brightness) {
		return true
	}
	if d.ColorTemp != nil && (actual.ColorTemp == nil || *actual.ColorTemp != *d.ColorTemp) {
		return true
	}
	return false
}

func intPtr(v int) *int {
	return &v
}
