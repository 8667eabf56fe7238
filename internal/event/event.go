// Package event turns raw MQTT messages into tagged intents.
package event

import "github.com/dokzlo13/motionlightd/internal/entity"

// Kind identifies what an inbound message asks the controller to do.
type Kind string

const (
	KindVirtualLight Kind = "virtual_light"
	KindSwitchGet    Kind = "switch_get"
	KindSwitchSet    Kind = "switch_set"
	KindBridge       Kind = "bridge"
	KindButtonSingle Kind = "button_single"
	KindButtonHold   Kind = "button_hold"
	KindLight        Kind = "light"
	KindMotion       Kind = "motion"
	KindSwitchReport Kind = "switch_report"
	KindUnknown      Kind = "unknown"
)

// Button actions reported by zigbee2mqtt.
const (
	ActionSingle = "single"
	ActionHold   = "hold"
)

// VerbGet is the trailing topic segment of a state query.
const VerbGet = "get"

// Event is one classified message.
type Event struct {
	Kind Kind

	// Namespace is the first topic segment.
	Namespace string
	// Key is the entity key from the topic (segment 2), e.g. "kitchen_table".
	Key string
	// Area and Bulb are Key split on the first '_'.
	Area string
	Bulb string
	// Verb is the trailing segment (virtual switch) or the button action.
	Verb string

	Topic   string
	Payload map[string]any
}

func newEvent(kind Kind, topic, namespace, key string, payload map[string]any) Event {
	area, bulb := entity.SplitKey(key)
	return Event{
		Kind:      kind,
		Namespace: namespace,
		Key:       key,
		Area:      area,
		Bulb:      bulb,
		Topic:     topic,
		Payload:   payload,
	}
}
