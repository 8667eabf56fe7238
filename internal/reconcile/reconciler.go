package reconcile

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motionlightd/internal/entity"
)

// Reconciler decides which light commands to publish. It owns no state of
// its own: every decision is diffed against the store, and every publish
// is written back to the store so a repeated decision is suppressed until
// the device reports otherwise.
//
// A Reconciler is used from the controller worker only.
type Reconciler struct {
	store     *entity.Store
	pub       Publisher
	namespace string
	virtual   string
}

// New creates a Reconciler publishing light commands under namespace and
// switch states under virtual.
func New(store *entity.Store, pub Publisher, namespace, virtual string) *Reconciler {
	return &Reconciler{
		store:     store,
		pub:       pub,
		namespace: namespace,
		virtual:   virtual,
	}
}

// LightTopic returns the set topic of a light.
func (r *Reconciler) LightTopic(key string) string {
	return r.namespace + "/light/" + key + "/set"
}

// SwitchTopic returns the virtual switch topic of an area.
func (r *Reconciler) SwitchTopic(area string) string {
	return r.virtual + "/switch/" + area
}

// Target returns the brightness a light should have right now: the global
// adaptive target when its area has adaptive brightness ON, else full.
func (r *Reconciler) Target(key string) int {
	if r.store.AreaOf(key).AdaptiveOn() {
		return entity.ClampBrightness(r.store.Global().AdaptiveBrightness)
	}
	return entity.MaxBrightness
}

// TurnOn switches a light on at its target brightness, keeping the last
// known color temperature.
func (r *Reconciler) TurnOn(key string) bool {
	e := r.store.Ensure(key)
	e.Dimmed = false

	desired := Desired{State: entity.On, Brightness: intPtr(r.Target(key))}
	if ct := r.colorTemp(key); ct != nil {
		desired.ColorTemp = intPtr(*ct)
	}
	if !Differs(desired, e) {
		log.Debug().Str("light", key).Msg("Light already on at target, suppressed")
		return false
	}

	log.Info().Str("light", key).Int("brightness", *desired.Brightness).Msg("Turning on light")
	return r.publish(key, desired)
}

// TurnOff switches a light off.
func (r *Reconciler) TurnOff(key string) bool {
	e := r.store.Ensure(key)
	e.Dimmed = false

	desired := Desired{State: entity.Off}
	if !Differs(desired, e) {
		log.Debug().Str("light", key).Msg("Light already off, suppressed")
		return false
	}

	log.Info().Str("light", key).Msg("Turning off light")
	return r.publish(key, desired)
}

// Dim sets an ON light to percent of its target brightness and marks it
// dimmed. Lights that are not ON are left alone.
func (r *Reconciler) Dim(key string, percent float64) bool {
	e := r.store.Get(key)
	if !e.IsOn() {
		return false
	}

	desired := Desired{Brightness: intPtr(entity.ClampBrightness(
		int(math.Round(float64(r.Target(key)) * percent)),
	))}
	if !Differs(desired, e) {
		return false
	}

	log.Info().
		Str("light", key).
		Float64("percent", percent).
		Int("brightness", *desired.Brightness).
		Msg("Dimming light")
	if !r.publish(key, desired) {
		return false
	}
	e.Dimmed = true
	return true
}

// Toggle flips the light of an area. A manual toggle takes the area away
// from the motion state machine.
func (r *Reconciler) Toggle(area string) bool {
	e := r.store.Get(area)
	if e == nil {
		return r.TurnOn(area)
	}

	e.Motion = false
	if e.IsOn() {
		return r.TurnOff(area)
	}
	return r.TurnOn(area)
}

// AdjustBrightness brings every ON light of an area to its target and
// reports whether anything was published.
func (r *Reconciler) AdjustBrightness(area string) bool {
	changed := false
	for _, key := range r.store.LightsOf(area) {
		e := r.store.Get(key)
		if !e.IsOn() {
			continue
		}
		desired := Desired{Brightness: intPtr(r.Target(key))}
		if !Differs(desired, e) {
			continue
		}

		log.Info().Str("light", key).Int("brightness", *desired.Brightness).Msg("Adjusting brightness")
		if r.publish(key, desired) {
			e.Dimmed = false
			r.store.Ensure(area).Motion = false
			changed = true
		}
	}
	return changed
}

// ToggleAdaptiveMode asks the virtual switch of an area to flip. The
// switch echo comes back as a switch set and stores the new mode.
func (r *Reconciler) ToggleAdaptiveMode(area string) {
	mode := entity.On
	if r.store.Ensure(area).AdaptiveOn() {
		mode = entity.Off
	}
	log.Info().Str("area", area).Str("mode", mode).Msg("Toggling adaptive brightness")
	r.send(r.SwitchTopic(area), map[string]any{"state": mode})
}

// ReportAdaptiveMode publishes the current adaptive mode of an area.
func (r *Reconciler) ReportAdaptiveMode(area string) {
	mode := r.store.Ensure(area).AdaptiveBrightness
	if mode == "" {
		mode = entity.Off
	}
	r.send(r.SwitchTopic(area), map[string]any{"state": mode})
}

// SetAdaptiveMode stores the mode of an area and pushes the resulting
// target to every ON light in it.
func (r *Reconciler) SetAdaptiveMode(area, mode string) int {
	r.store.Ensure(area).AdaptiveBrightness = mode
	log.Info().Str("area", area).Str("mode", mode).Msg("Adaptive brightness set")

	published := 0
	for _, key := range r.store.LightsOf(area) {
		e := r.store.Get(key)
		if !e.IsOn() {
			continue
		}
		desired := Desired{Brightness: intPtr(r.Target(key))}
		if !Differs(desired, e) {
			continue
		}
		if r.publish(key, desired) {
			e.Dimmed = false
			published++
		}
	}
	return published
}

// Refresh pushes the current target to every ON, undimmed light whose
// area has adaptive brightness enabled.
func (r *Reconciler) Refresh() int {
	published := 0
	for _, key := range r.store.Lights() {
		if !r.store.AreaOf(key).AdaptiveOn() {
			continue
		}
		e := r.store.Get(key)
		if !e.IsOn() || e.Dimmed {
			continue
		}
		desired := Desired{Brightness: intPtr(r.Target(key))}
		if !Differs(desired, e) {
			continue
		}
		log.Debug().Str("light", key).Int("brightness", *desired.Brightness).Msg("Refreshing brightness")
		if r.publish(key, desired) {
			published++
		}
	}
	if published > 0 {
		log.Info().Int("lights", published).Msg("Adaptive brightness refreshed")
	}
	return published
}

// Forward passes a user command for a light straight through when the
// light is ON. The payload has just been stored, so it is not diffed.
func (r *Reconciler) Forward(key string, payload map[string]any) bool {
	if !r.store.Get(key).IsOn() {
		return false
	}
	return r.send(r.LightTopic(key), payload)
}

// colorTemp returns the last known color temperature of a light, falling
// back to its area's.
func (r *Reconciler) colorTemp(key string) *int {
	if e := r.store.Get(key); e != nil && e.ColorTemp != nil {
		return e.ColorTemp
	}
	if a := r.store.AreaOf(key); a != nil {
		return a.ColorTemp
	}
	return nil
}

// publish sends a light command and writes it back on success.
func (r *Reconciler) publish(key string, desired Desired) bool {
	if !r.send(r.LightTopic(key), desired.Payload()) {
		return false
	}
	desired.Apply(r.store.Ensure(key))
	return true
}

func (r *Reconciler) send(topic string, payload map[string]any) bool {
	if err := r.pub.Publish(topic, payload); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to publish command")
		return false
	}
	return true
}
