package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/motionlightd/internal/circadian"
	"github.com/dokzlo13/motionlightd/internal/config"
	"github.com/dokzlo13/motionlightd/internal/controller"
	"github.com/dokzlo13/motionlightd/internal/db"
	"github.com/dokzlo13/motionlightd/internal/entity"
	"github.com/dokzlo13/motionlightd/internal/eventbus"
	"github.com/dokzlo13/motionlightd/internal/geo"
	"github.com/dokzlo13/motionlightd/internal/ledger"
	"github.com/dokzlo13/motionlightd/internal/mqtt"
	"github.com/dokzlo13/motionlightd/internal/persist"
	"github.com/dokzlo13/motionlightd/internal/status"
	"github.com/dokzlo13/motionlightd/internal/telemetry"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB        *db.DB
	Ledger    *ledger.Ledger
	Persister persist.Persister

	// Decision state
	Store   *entity.Store
	GeoCalc *geo.Calculator
	Curve   circadian.Curve

	Bus      *eventbus.Bus
	Recorder telemetry.Recorder

	// Created in Run
	MQTT       *mqtt.Client
	Controller *controller.Controller
	Status     *status.Server
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// The database backs the ledger and the sqlite state backend
	if cfg.Ledger.Enabled || cfg.State.Backend == persist.BackendSQLite {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
	}
	if cfg.Ledger.Enabled {
		s.Ledger = ledger.New(s.DB.DB)
	}

	persister, err := openPersister(cfg.State, s.DB)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Persister = persister

	snap, err := persister.Load()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load state snapshot: %w", err)
	}
	s.Store = entity.NewStore(snap)
	log.Info().Int("entities", s.Store.Len()).Str("backend", cfg.State.Backend).Msg("State snapshot loaded")

	s.GeoCalc = geo.NewCalculator(cfg.Geo.Lat, cfg.Geo.Lon, cfg.Geo.Location())
	if cfg.Geo.Lat == 0 && cfg.Geo.Lon == 0 {
		log.Warn().Msg("No lat/lon configured, sun times are computed for 0,0")
	}

	s.Curve = circadian.Default
	if cfg.Brightness.Script != "" {
		script, err := circadian.LoadScript(cfg.Brightness.Script, circadian.Default)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Curve = script
	}

	s.Recorder = telemetry.Noop{}
	if cfg.Telemetry.Enabled {
		influx, err := telemetry.Connect(cfg.Telemetry)
		if err != nil {
			log.Warn().Err(err).Msg("Telemetry unavailable, continuing without it")
		} else {
			s.Recorder = influx
		}
	}

	s.Bus = eventbus.New(cfg.EventBus.QueueSize)

	return s, nil
}

func openPersister(cfg config.StateConfig, database *db.DB) (persist.Persister, error) {
	if database == nil {
		return persist.Open(cfg.Backend, cfg.Path, nil)
	}
	return persist.Open(cfg.Backend, cfg.Path, database.DB)
}

// Run connects to the broker, wires the controller and supervises the
// background loops until ctx is cancelled or one of them fails.
func (s *Services) Run(ctx context.Context) error {
	defer s.shutdown()

	client, err := mqtt.Connect(s.cfg.MQTT)
	if err != nil {
		log.Warn().Err(err).Msg("MQTT broker not reachable yet, retrying in background")
	}
	s.MQTT = client

	publisher := mqtt.NewPublisher(client, s.cfg.MQTT.QoS, s.cfg.MQTT.PublishRateLimit)
	deps := controller.Deps{
		Store:     s.Store,
		Persister: s.Persister,
		Publisher: publisher,
		Recorder:  s.Recorder,
		Sun:       s.GeoCalc,
		Curve:     s.Curve,
	}
	if s.Ledger != nil {
		deps.Ledger = s.Ledger
	}
	s.Controller = controller.New(s.cfg, deps)
	s.Controller.Register(s.Bus)

	for _, topic := range s.cfg.MQTT.Topics {
		if err := client.Subscribe(topic, s.cfg.MQTT.QoS, s.onMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runTicker(gctx, s.Bus, s.cfg.Brightness.RefreshInterval.Duration())
		return nil
	})

	if s.Ledger != nil {
		g.Go(func() error {
			runLedgerCleanup(gctx, s.Ledger, s.cfg.Ledger)
			return nil
		})
	}

	if s.cfg.HTTP.Enabled {
		var history status.CommandHistory
		if s.Ledger != nil {
			history = s.Ledger
		}
		s.Status = status.NewServer(s.cfg, s.snapshot, client, history)
		g.Go(func() error {
			return s.Status.Run(gctx, s.cfg.GetShutdownTimeout())
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// onMessage hands a broker message to the worker. It runs on paho's
// router goroutine and never blocks; the bus logs dropped messages.
func (s *Services) onMessage(topic string, payload []byte) error {
	s.Bus.Publish(eventbus.Event{
		Type:    eventbus.EventTypeMessage,
		Topic:   topic,
		Payload: payload,
	})
	return nil
}

// snapshot reads the entity map on the worker for the status server.
func (s *Services) snapshot(ctx context.Context) (*entity.Snapshot, error) {
	return eventbus.DoSyncWithResult(ctx, s.Bus, func() (*entity.Snapshot, error) {
		return s.Controller.Snapshot(), nil
	})
}

// ResetState clears the persisted snapshot.
func (s *Services) ResetState() error {
	if err := s.Persister.Reset(); err != nil {
		return err
	}
	s.Store.Restore(entity.NewSnapshot())
	return nil
}

// shutdown stops the broker connection first so no new work arrives, then
// drains the worker.
func (s *Services) shutdown() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()
	s.Bus.Close(ctx)

	s.Close()
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Recorder != nil {
		if err := s.Recorder.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close telemetry")
		}
	}
	if script, ok := s.Curve.(*circadian.ScriptCurve); ok {
		script.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
