package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPayload is returned for empty messages and for payloads that
	// carry nothing after stripping.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrInvalidPayload is returned when the payload is not a JSON object.
	ErrInvalidPayload = errors.New("payload is not a JSON object")
)

// Classifier parses and classifies inbound messages for one site.
type Classifier struct {
	namespace string
	virtual   string
	strip     map[string]struct{}
}

// NewClassifier creates a classifier for the sensor namespace, the virtual
// namespace and the list of payload fields to discard.
func NewClassifier(namespace, virtual string, unnecessary []string) *Classifier {
	strip := make(map[string]struct{}, len(unnecessary))
	for _, k := range unnecessary {
		strip[k] = struct{}{}
	}
	return &Classifier{namespace: namespace, virtual: virtual, strip: strip}
}

// Decode parses raw, strips unnecessary fields and classifies the result.
// Any error means the message must be dropped without touching state.
func (c *Classifier) Decode(topic string, raw []byte) (Event, error) {
	payload, err := c.Parse(raw)
	if err != nil {
		return Event{}, err
	}
	return c.Classify(topic, payload), nil
}

// Parse decodes a JSON object payload and removes unnecessary fields.
func (c *Classifier) Parse(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload == nil {
		return nil, ErrInvalidPayload
	}

	for k := range c.strip {
		delete(payload, k)
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	return payload, nil
}

// Classify maps a topic and stripped payload to an Event.
func (c *Classifier) Classify(topic string, payload map[string]any) Event {
	segs := strings.Split(topic, "/")
	ns := segs[0]
	key := segment(segs, 2)

	unknown := newEvent(KindUnknown, topic, ns, key, payload)

	switch ns {
	case c.virtual:
		if key == "" {
			return unknown
		}
		switch segment(segs, 1) {
		case "light":
			return newEvent(KindVirtualLight, topic, ns, key, payload)
		case "switch":
			if segment(segs, 3) == VerbGet {
				ev := newEvent(KindSwitchGet, topic, ns, key, payload)
				ev.Verb = VerbGet
				return ev
			}
			return newEvent(KindSwitchSet, topic, ns, key, payload)
		}

	case c.namespace:
		switch segment(segs, 1) {
		case "bridge":
			ev := newEvent(KindBridge, topic, ns, "", payload)
			ev.Verb = strings.Join(segs[2:], "/")
			return ev
		case "switch":
			return newEvent(KindSwitchReport, topic, ns, key, payload)
		}
		if key == "" {
			return unknown
		}
		switch segment(segs, 1) {
		case "button":
			action, _ := payload["action"].(string)
			var ev Event
			switch action {
			case ActionSingle:
				ev = newEvent(KindButtonSingle, topic, ns, key, payload)
			case ActionHold:
				ev = newEvent(KindButtonHold, topic, ns, key, payload)
			default:
				ev = unknown
			}
			ev.Verb = action
			return ev
		case "light":
			// color_temp is a write-only set parameter, not observable state
			delete(payload, "color_temp")
			return newEvent(KindLight, topic, ns, key, payload)
		case "motion":
			return newEvent(KindMotion, topic, ns, key, payload)
		}
	}

	return unknown
}

func segment(segs []string, i int) string {
	if i < len(segs) {
		return segs[i]
	}
	return ""
}
