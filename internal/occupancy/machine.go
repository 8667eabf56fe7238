package occupancy

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motionlightd/internal/config"
	"github.com/dokzlo13/motionlightd/internal/entity"
)

// Lights executes light decisions.
type Lights interface {
	TurnOn(key string) bool
	TurnOff(key string) bool
	Dim(key string, percent float64) bool
}

// Machine applies occupancy decisions to the store and the lights.
type Machine struct {
	store  *entity.Store
	lights Lights
	areas  map[string]config.MotionArea
}

// NewMachine creates a machine. areas holds per-area overrides; areas
// without one drive their area light during the day and at night.
func NewMachine(store *entity.Store, lights Lights, areas map[string]config.MotionArea) *Machine {
	if areas == nil {
		areas = make(map[string]config.MotionArea)
	}
	return &Machine{store: store, lights: lights, areas: areas}
}

// Handle processes one motion report for area.
func (m *Machine) Handle(area string, payload map[string]any, night bool) Decision {
	report := ParseReport(payload)
	override := m.areas[area]

	rec := m.store.Get(area)
	state := StateIdle
	var timeouts []float64
	if rec != nil {
		if rec.Motion {
			state = StateOccupied
		}
		timeouts = rec.OccupancyTimeouts
	}

	d := Decide(state, report, timeouts, override.Night, night)
	if d.Action == ActionNone && d.Next == state {
		log.Debug().Str("area", area).Str("state", state.String()).Msg("Motion report ignored")
		return d
	}

	m.store.Ensure(area).Motion = d.Next == StateOccupied

	switch d.Action {
	case ActionTurnOn:
		for _, key := range m.Targets(area) {
			log.Info().Str("area", area).Str("light", key).Msg("Motion detected, turning on")
			m.lights.TurnOn(key)
		}
	case ActionDim:
		for _, key := range m.DimTargets(area) {
			log.Info().Str("area", area).Str("light", key).Float64("percent", d.Percent).Msg("No motion, dimming")
			m.lights.Dim(key, d.Percent)
		}
	case ActionTurnOff:
		for _, key := range m.Targets(area) {
			log.Info().Str("area", area).Str("light", key).Msg("Area vacant, turning off")
			m.lights.TurnOff(key)
		}
	}
	return d
}

// Targets returns the lights switched on and off for an area: its
// toggleable bulbs when configured, else the area light.
func (m *Machine) Targets(area string) []string {
	bulbs := m.areas[area].ToggleableLights
	if len(bulbs) == 0 {
		return []string{area}
	}
	keys := make([]string, 0, len(bulbs))
	for _, b := range bulbs {
		keys = append(keys, entity.LightKey(area, b))
	}
	return keys
}

// DimTargets returns the lights dimmed for an area: its toggleable bulbs
// when configured, else every known light of the area.
func (m *Machine) DimTargets(area string) []string {
	if len(m.areas[area].ToggleableLights) > 0 {
		return m.Targets(area)
	}
	return m.store.LightsOf(area)
}
