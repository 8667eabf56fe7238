// Package occupancy drives motion lighting: lights follow an area's
// occupancy, dimming in stages as the bridge reports vacancy checkpoints.
package occupancy

import (
	"github.com/dokzlo13/motionlightd/internal/entity"
)

// State is the motion state of an area.
type State int

const (
	StateIdle State = iota
	StateOccupied
)

// String returns a human-readable name for the state.
func (s State) String() string {
	if s == StateOccupied {
		return "occupied"
	}
	return "idle"
}

// Action is what the area's lights should do.
type Action int

const (
	ActionNone Action = iota
	ActionTurnOn
	ActionDim
	ActionTurnOff
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionTurnOn:
		return "turn_on"
	case ActionDim:
		return "dim"
	case ActionTurnOff:
		return "turn_off"
	default:
		return "unknown"
	}
}

// Report is the part of a motion sensor payload the machine reacts to.
type Report struct {
	Occupancy        *bool
	NoOccupancySince *float64
}

// ParseReport extracts occupancy fields from a motion payload.
func ParseReport(payload map[string]any) Report {
	var r Report
	if v, ok := payload["occupancy"].(bool); ok {
		r.Occupancy = &v
	}
	if v, ok := entity.ToFloat(payload["no_occupancy_since"]); ok {
		r.NoOccupancySince = &v
	}
	return r
}

// Decision is the outcome of one report.
type Decision struct {
	Next    State
	Action  Action
	Percent float64 // of the target brightness, for ActionDim
}

// Decide computes the transition for a report. Occupancy takes precedence
// over a vacancy checkpoint, which takes precedence over a plain vacancy.
// timeouts must be strictly increasing; its last element means the area
// is fully vacant.
func Decide(state State, report Report, timeouts []float64, nightOnly, night bool) Decision {
	stay := Decision{Next: state, Action: ActionNone}

	switch {
	case occupied(report):
		if nightOnly && !night {
			return stay
		}
		return Decision{Next: StateOccupied, Action: ActionTurnOn}

	case report.NoOccupancySince != nil:
		if state != StateOccupied || len(timeouts) == 0 {
			return stay
		}
		return decideCheckpoint(*report.NoOccupancySince, timeouts, stay)

	case vacant(report):
		return Decision{Next: StateIdle, Action: ActionTurnOff}
	}

	return stay
}

// decideCheckpoint matches a vacancy checkpoint against the staged
// timeouts. Values are compared exactly; their unit belongs to the bridge.
func decideCheckpoint(since float64, timeouts []float64, stay Decision) Decision {
	n := len(timeouts)
	if since == timeouts[n-1] {
		return Decision{Next: StateIdle, Action: ActionTurnOff}
	}
	for i, t := range timeouts[:n-1] {
		if since == t {
			return Decision{
				Next:    StateOccupied,
				Action:  ActionDim,
				Percent: DimPercent(i, n),
			}
		}
	}
	return stay
}

// DimPercent returns the brightness fraction for stage i of n.
func DimPercent(stage, n int) float64 {
	return 1 - float64(stage+1)/float64(n)
}

func occupied(r Report) bool {
	return r.Occupancy != nil && *r.Occupancy
}

func vacant(r Report) bool {
	return r.Occupancy != nil && !*r.Occupancy
}
