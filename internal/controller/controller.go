// Package controller runs every decision of motionlightd: it classifies
// inbound messages, hands them to the occupancy machine or the
// reconciler, and persists the entity snapshot after each work item.
package controller

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motionlightd/internal/circadian"
	"github.com/dokzlo13/motionlightd/internal/config"
	"github.com/dokzlo13/motionlightd/internal/entity"
	"github.com/dokzlo13/motionlightd/internal/event"
	"github.com/dokzlo13/motionlightd/internal/eventbus"
	"github.com/dokzlo13/motionlightd/internal/occupancy"
	"github.com/dokzlo13/motionlightd/internal/persist"
	"github.com/dokzlo13/motionlightd/internal/reconcile"
	"github.com/dokzlo13/motionlightd/internal/telemetry"
)

// SourceTick is the ledger source of commands issued by the periodic tick.
const SourceTick = "tick"

// SunClock provides today's sun times and the night flag.
type SunClock interface {
	Night(t time.Time) (*entity.SunTimes, bool, error)
}

// Deps are the collaborators of a Controller. Store, Persister and
// Publisher are required.
type Deps struct {
	Store     *entity.Store
	Persister persist.Persister
	Publisher reconcile.Publisher

	Ledger   CommandLog
	Recorder telemetry.Recorder
	Sun      SunClock
	Curve    circadian.Curve
	Now      func() time.Time
}

// Controller owns the entity store. All of its methods must run on the
// event bus worker.
type Controller struct {
	cfg *config.Config
	loc *time.Location

	store      *entity.Store
	persister  persist.Persister
	classifier *event.Classifier
	reconciler *reconcile.Reconciler
	machine    *occupancy.Machine
	audit      *auditPublisher

	recorder telemetry.Recorder
	sun      SunClock
	curve    circadian.Curve
	now      func() time.Time
}

// New wires a controller from cfg and deps.
func New(cfg *config.Config, deps Deps) *Controller {
	if deps.Recorder == nil {
		deps.Recorder = telemetry.Noop{}
	}
	if deps.Curve == nil {
		deps.Curve = circadian.Default
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	audit := &auditPublisher{
		next:     deps.Publisher,
		log:      deps.Ledger,
		recorder: deps.Recorder,
		now:      deps.Now,
	}
	rec := reconcile.New(deps.Store, audit, cfg.MQTT.Namespace, cfg.MQTT.VirtualNamespace)

	return &Controller{
		cfg:        cfg,
		loc:        cfg.Geo.Location(),
		store:      deps.Store,
		persister:  deps.Persister,
		classifier: event.NewClassifier(cfg.MQTT.Namespace, cfg.MQTT.VirtualNamespace, cfg.UnnecessaryPayloads),
		reconciler: rec,
		machine:    occupancy.NewMachine(deps.Store, rec, cfg.Motion),
		audit:      audit,
		recorder:   deps.Recorder,
		sun:        deps.Sun,
		curve:      deps.Curve,
		now:        deps.Now,
	}
}

// Register subscribes the controller to message and tick events.
func (c *Controller) Register(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeMessage, func(ev eventbus.Event) {
		c.HandleMessage(ev.Topic, ev.Payload)
	})
	bus.Subscribe(eventbus.EventTypeTick, func(ev eventbus.Event) {
		c.Tick(ev.At)
	})
}

// HandleMessage processes one inbound MQTT message. Messages whose payload
// is empty or not a JSON object are dropped without touching state.
func (c *Controller) HandleMessage(topic string, raw []byte) {
	ev, err := c.classifier.Decode(topic, raw)
	if err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("Dropping message")
		return
	}

	c.audit.begin(uuid.NewString(), topic)
	c.Dispatch(ev)
	c.save()
}

// Tick refreshes the sun times and night flag, recomputes the adaptive
// brightness target and pushes it to every adaptive light.
func (c *Controller) Tick(at time.Time) {
	if at.IsZero() {
		at = c.now()
	}
	at = at.In(c.loc)
	c.audit.begin(uuid.NewString(), SourceTick)

	b := c.cfg.Brightness
	up, down := b.Up, b.Down

	g := c.store.Global()
	if c.sun != nil {
		times, night, err := c.sun.Night(at)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to compute sun times")
		} else {
			g.SunTimes = times
			if g.Night != night {
				log.Info().Bool("night", night).Msg("Night flag changed")
			}
			g.Night = night
			if b.FollowSun {
				up = circadian.HourOf(times.Sunrise.In(c.loc))
				down = circadian.HourOf(times.Sunset.In(c.loc))
			}
		}
	}

	target := entity.ClampBrightness(c.curve.Target(circadian.HourOf(at), up, down, b.Gain))
	if target != g.AdaptiveBrightness {
		log.Debug().Int("from", g.AdaptiveBrightness).Int("to", target).Msg("Adaptive brightness target changed")
	}
	g.AdaptiveBrightness = target
	c.recorder.Target(at, target, g.Night)

	c.reconciler.Refresh()
	c.save()
}

// Snapshot returns a copy of the entity map.
func (c *Controller) Snapshot() *entity.Snapshot {
	return c.store.Snapshot()
}

func (c *Controller) save() {
	if err := c.persister.Save(c.store.Snapshot()); err != nil {
		log.Error().Err(err).Msg("Failed to save state snapshot")
	}
}
