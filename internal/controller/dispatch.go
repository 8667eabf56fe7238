package controller

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motionlightd/internal/entity"
	"github.com/dokzlo13/motionlightd/internal/event"
)

// Dispatch routes a classified event to its handler.
func (c *Controller) Dispatch(ev event.Event) {
	switch ev.Kind {
	case event.KindVirtualLight:
		c.store.Merge(ev.Key, ev.Payload)
		c.reconciler.Forward(ev.Key, ev.Payload)

	case event.KindSwitchGet:
		c.reconciler.ReportAdaptiveMode(ev.Key)

	case event.KindSwitchSet:
		c.handleSwitchSet(ev)

	case event.KindBridge:
		c.handleBridge(ev)

	case event.KindButtonSingle:
		log.Info().Str("area", ev.Key).Msg("Button pressed, toggling light")
		c.reconciler.Toggle(ev.Key)

	case event.KindButtonHold:
		if !c.reconciler.AdjustBrightness(ev.Key) {
			c.reconciler.ToggleAdaptiveMode(ev.Key)
		}

	case event.KindLight:
		c.store.Merge(ev.Key, ev.Payload)

	case event.KindMotion:
		c.machine.Handle(ev.Key, ev.Payload, c.store.Global().Night)

	case event.KindSwitchReport:
		log.Info().Str("topic", ev.Topic).Msg("Switch report received")
		log.Debug().Interface("payload", ev.Payload).Msg("Switch report payload")

	default:
		log.Warn().Str("topic", ev.Topic).Msg("Received message in unexpected topic")
		log.Debug().Interface("payload", ev.Payload).Msg("Unexpected message payload")
	}
}

// handleSwitchSet stores the adaptive mode carried as "state" and merges
// the remaining attributes into the area record.
func (c *Controller) handleSwitchSet(ev event.Event) {
	attrs := make(map[string]any, len(ev.Payload))
	for k, v := range ev.Payload {
		attrs[k] = v
	}

	raw, _ := attrs["state"].(string)
	delete(attrs, "state")
	if len(attrs) > 0 {
		c.store.Merge(ev.Key, attrs)
	}

	mode := strings.ToUpper(raw)
	if mode != entity.On && mode != entity.Off {
		log.Warn().Str("area", ev.Key).Interface("state", ev.Payload["state"]).Msg("Invalid adaptive brightness mode")
		return
	}
	c.reconciler.SetAdaptiveMode(ev.Key, mode)
}

// handleBridge stores the occupancy timeouts the bridge reports for each
// motion sensor. Lists that are not strictly increasing are rejected and
// the previous list is kept.
func (c *Controller) handleBridge(ev event.Event) {
	for _, at := range event.BridgeTimeouts(ev.Payload) {
		if !event.StrictlyIncreasing(at.Timeouts) {
			log.Warn().
				Str("area", at.Area).
				Interface("timeouts", at.Timeouts).
				Msg("Occupancy timeouts not strictly increasing, ignoring")
			continue
		}
		c.store.Ensure(at.Area).OccupancyTimeouts = at.Timeouts
		log.Debug().Str("area", at.Area).Interface("timeouts", at.Timeouts).Msg("Occupancy timeouts updated")
	}
}
