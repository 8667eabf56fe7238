package controller

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/motionlightd/internal/circadian"
	"github.com/dokzlo13/motionlightd/internal/config"
	"github.com/dokzlo13/motionlightd/internal/entity"
	"github.com/dokzlo13/motionlightd/internal/eventbus"
	"github.com/dokzlo13/motionlightd/internal/ledger"
	"github.com/dokzlo13/motionlightd/internal/persist"
)

type published struct {
	topic   string
	payload map[string]any
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(topic string, payload map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic: topic, payload: payload})
	return nil
}

type memPersister struct {
	saves int
	last  *entity.Snapshot
}

func (m *memPersister) Load() (*entity.Snapshot, error) { return entity.NewSnapshot(), nil }
func (m *memPersister) Reset() error                    { return nil }
func (m *memPersister) Save(snap *entity.Snapshot) error {
	m.saves++
	m.last = snap
	return nil
}

type ledgerEntry struct {
	eventType     ledger.EventType
	correlationID string
	topic         string
	source        string
}

type fakeLedger struct {
	entries []ledgerEntry
}

func (f *fakeLedger) Append(eventType ledger.EventType, correlationID, topic, source string, _ map[string]any) error {
	f.entries = append(f.entries, ledgerEntry{eventType, correlationID, topic, source})
	return nil
}

type fakeRecorder struct {
	targets  []int
	commands []string
}

func (f *fakeRecorder) Target(_ time.Time, brightness int, _ bool) {
	f.targets = append(f.targets, brightness)
}

func (f *fakeRecorder) Command(_ time.Time, topic string, _ map[string]any) {
	f.commands = append(f.commands, topic)
}

func (f *fakeRecorder) Close() error { return nil }

type fakeSun struct {
	times *entity.SunTimes
	night bool
	err   error
}

func (f *fakeSun) Night(time.Time) (*entity.SunTimes, bool, error) {
	return f.times, f.night, f.err
}

type harness struct {
	ctrl     *Controller
	store    *entity.Store
	pub      *fakePublisher
	persist  *memPersister
	ledger   *fakeLedger
	recorder *fakeRecorder
}

func testConfig() *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{
			Namespace:        "z2m",
			VirtualNamespace: "virtual",
		},
		Brightness:          config.BrightnessConfig{Up: 6, Down: 18, Gain: 2.54},
		Geo:                 config.GeoConfig{Timezone: "UTC"},
		Motion:              map[string]config.MotionArea{},
		UnnecessaryPayloads: []string{"linkquality"},
	}
}

func newHarness(t *testing.T, cfg *config.Config, sun SunClock) *harness {
	t.Helper()
	h := &harness{
		store:    entity.NewStore(nil),
		pub:      &fakePublisher{},
		persist:  &memPersister{},
		ledger:   &fakeLedger{},
		recorder: &fakeRecorder{},
	}
	h.ctrl = New(cfg, Deps{
		Store:     h.store,
		Persister: h.persist,
		Publisher: h.pub,
		Ledger:    h.ledger,
		Recorder:  h.recorder,
		Sun:       sun,
	})
	return h
}

func TestHandleMessage_DropsUnusablePayloads(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	for _, raw := range []string{"", "  ", "{}", "[1,2]", "not json", `{"linkquality": 80}`} {
		h.ctrl.HandleMessage("z2m/light/kitchen", []byte(raw))
	}

	assert.Equal(t, 0, h.persist.saves)
	assert.Equal(t, 0, h.store.Len())
	assert.Empty(t, h.pub.sent)
}

func TestHandleMessage_UnknownTopicIsSaved(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.HandleMessage("elsewhere/thing", []byte(`{"a": 1}`))
	h.ctrl.HandleMessage("z2m/button/kitchen", []byte(`{"action": "double"}`))

	assert.Equal(t, 2, h.persist.saves)
	assert.Empty(t, h.pub.sent)
	assert.Equal(t, 0, h.store.Len())
}

func TestHandleMessage_LightReport(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.HandleMessage("z2m/light/kitchen_table",
		[]byte(`{"state":"ON","brightness":100,"color_temp":300,"linkquality":10,"power_on_behavior":"previous"}`))

	e := h.store.Get("kitchen_table")
	require.NotNil(t, e)
	assert.Equal(t, entity.On, e.State)
	assert.Equal(t, 100, e.BrightnessOr(0))
	assert.Nil(t, e.ColorTemp)
	assert.Equal(t, map[string]any{"power_on_behavior": "previous"}, e.Extra)
	assert.Equal(t, 1, h.persist.saves)
	assert.Equal(t, 100, h.persist.last.Entities["kitchen_table"].BrightnessOr(0))
}

func TestHandleMessage_MistypedAttributesKeepStatePersisted(t *testing.T) {
	file := persist.NewFile(filepath.Join(t.TempDir(), "state.yml"))
	store := entity.NewStore(nil)
	ctrl := New(testConfig(), Deps{Store: store, Persister: file, Publisher: &fakePublisher{}})

	ctrl.HandleMessage("z2m/light/kitchen", []byte(`{"state":"ON","brightness":null}`))
	ctrl.HandleMessage("virtual/light/hall", []byte(`{"state":true,"dimmed":"yes"}`))
	ctrl.HandleMessage("z2m/light/porch", []byte(`{"state":"OFF","brightness":40}`))

	snap, err := file.Load()
	require.NoError(t, err)
	require.Len(t, snap.Entities, 3)
	assert.True(t, snap.Entities["kitchen"].IsOn())
	assert.Nil(t, snap.Entities["kitchen"].Brightness)
	assert.Equal(t, 40, snap.Entities["porch"].BrightnessOr(0))
}

func TestHandleMessage_ButtonSingleToggles(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.store.Merge("kitchen", map[string]any{"state": "ON", "brightness": 254, "motion": true})

	h.ctrl.HandleMessage("z2m/button/kitchen", []byte(`{"action":"single"}`))

	require.Len(t, h.pub.sent, 1)
	assert.Equal(t, "z2m/light/kitchen/set", h.pub.sent[0].topic)
	assert.Equal(t, map[string]any{"state": "OFF"}, h.pub.sent[0].payload)
	assert.False(t, h.store.Get("kitchen").Motion)
}

func TestHandleMessage_ButtonHoldFallsBackToAdaptiveToggle(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.store.Merge("kitchen_table", map[string]any{"state": "ON", "brightness": 254})

	h.ctrl.HandleMessage("z2m/button/kitchen", []byte(`{"action":"hold"}`))

	require.Len(t, h.pub.sent, 1)
	assert.Equal(t, "virtual/switch/kitchen", h.pub.sent[0].topic)
	assert.Equal(t, map[string]any{"state": "ON"}, h.pub.sent[0].payload)
}

func TestHandleMessage_ButtonHoldAdjusts(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.store.Merge("kitchen_table", map[string]any{"state": "ON", "brightness": 90, "dimmed": true})

	h.ctrl.HandleMessage("z2m/button/kitchen", []byte(`{"action":"hold"}`))

	require.Len(t, h.pub.sent, 1)
	assert.Equal(t, "z2m/light/kitchen_table/set", h.pub.sent[0].topic)
	assert.Equal(t, map[string]any{"brightness": 254}, h.pub.sent[0].payload)
	assert.False(t, h.store.Get("kitchen_table").Dimmed)
}

func TestHandleMessage_SwitchSet(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.store.Global().AdaptiveBrightness = 120
	h.store.Merge("kitchen_table", map[string]any{"state": "ON", "brightness": 254})
	h.store.Merge("kitchen_wall", map[string]any{"state": "OFF", "brightness": 254})

	h.ctrl.HandleMessage("virtual/switch/kitchen", []byte(`{"state":"ON"}`))

	assert.Equal(t, entity.On, h.store.Get("kitchen").AdaptiveBrightness)
	require.Len(t, h.pub.sent, 1)
	assert.Equal(t, "z2m/light/kitchen_table/set", h.pub.sent[0].topic)
	assert.Equal(t, map[string]any{"brightness": 120}, h.pub.sent[0].payload)
}

func TestHandleMessage_SwitchSetRejectsUnknownMode(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.store.Merge("kitchen", map[string]any{"adaptive_brightness": "ON"})

	h.ctrl.HandleMessage("virtual/switch/kitchen", []byte(`{"state":"maybe"}`))

	assert.Equal(t, entity.On, h.store.Get("kitchen").AdaptiveBrightness)
	assert.Empty(t, h.pub.sent)
	assert.Equal(t, 1, h.persist.saves)
}

func TestHandleMessage_SwitchGetReportsMode(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.HandleMessage("virtual/switch/kitchen/get", []byte(`{"state":""}`))

	require.Len(t, h.pub.sent, 1)
	assert.Equal(t, "virtual/switch/kitchen", h.pub.sent[0].topic)
	assert.Equal(t, map[string]any{"state": "OFF"}, h.pub.sent[0].payload)
}

func TestHandleMessage_VirtualLightForwardsWhenOn(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.store.Merge("kitchen", map[string]any{"state": "ON", "brightness": 254})
	h.store.Merge("hall", map[string]any{"state": "OFF"})

	h.ctrl.HandleMessage("virtual/light/kitchen", []byte(`{"brightness":50}`))
	h.ctrl.HandleMessage("virtual/light/hall", []byte(`{"brightness":50}`))

	require.Len(t, h.pub.sent, 1)
	assert.Equal(t, "z2m/light/kitchen/set", h.pub.sent[0].topic)
	assert.Equal(t, map[string]any{"brightness": float64(50)}, h.pub.sent[0].payload)
	assert.Equal(t, 50, h.store.Get("kitchen").BrightnessOr(0))
	assert.Equal(t, 50, h.store.Get("hall").BrightnessOr(0))
}

func TestHandleMessage_BridgeTimeouts(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.store.Merge("hall", map[string]any{"occupancy_timeouts": []any{float64(10), float64(20)}})

	h.ctrl.HandleMessage("z2m/bridge/info", []byte(`{"config":{"devices":[
		{"friendly_name":"motion/kitchen","no_occupancy_since":[30,60,120]},
		{"friendly_name":"motion/hall","no_occupancy_since":[60,30]}
	]}}`))

	assert.Equal(t, []float64{30, 60, 120}, h.store.Get("kitchen").OccupancyTimeouts)
	assert.Equal(t, []float64{10, 20}, h.store.Get("hall").OccupancyTimeouts)
}

func TestHandleMessage_MotionLifecycle(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.store.Merge("kitchen", map[string]any{"occupancy_timeouts": []any{float64(30), float64(60)}})

	h.ctrl.HandleMessage("z2m/motion/kitchen", []byte(`{"occupancy":true}`))
	require.Len(t, h.pub.sent, 1)
	assert.Equal(t, map[string]any{"state": "ON", "brightness": 254}, h.pub.sent[0].payload)
	assert.True(t, h.store.Get("kitchen").Motion)

	h.ctrl.HandleMessage("z2m/motion/kitchen", []byte(`{"occupancy":false,"no_occupancy_since":30}`))
	require.Len(t, h.pub.sent, 2)
	assert.Equal(t, map[string]any{"brightness": 127}, h.pub.sent[1].payload)
	assert.True(t, h.store.Get("kitchen").Dimmed)

	h.ctrl.HandleMessage("z2m/motion/kitchen", []byte(`{"occupancy":false,"no_occupancy_since":60}`))
	require.Len(t, h.pub.sent, 3)
	assert.Equal(t, map[string]any{"state": "OFF"}, h.pub.sent[2].payload)
	assert.False(t, h.store.Get("kitchen").Motion)
	assert.Equal(t, 3, h.persist.saves)
}

func TestHandleMessage_NightOnlyMotion(t *testing.T) {
	cfg := testConfig()
	cfg.Motion["hall"] = config.MotionArea{Night: true}
	h := newHarness(t, cfg, nil)

	h.ctrl.HandleMessage("z2m/motion/hall", []byte(`{"occupancy":true}`))
	assert.Empty(t, h.pub.sent)

	h.store.Global().Night = true
	h.ctrl.HandleMessage("z2m/motion/hall", []byte(`{"occupancy":true}`))
	require.Len(t, h.pub.sent, 1)
	assert.Equal(t, "z2m/light/hall/set", h.pub.sent[0].topic)
}

func TestHandleMessage_LedgerCorrelation(t *testing.T) {
	cfg := testConfig()
	cfg.Motion["hall"] = config.MotionArea{ToggleableLights: []string{"spot", "strip"}}
	h := newHarness(t, cfg, nil)

	h.ctrl.HandleMessage("z2m/motion/hall", []byte(`{"occupancy":true}`))

	require.Len(t, h.ledger.entries, 2)
	first, second := h.ledger.entries[0], h.ledger.entries[1]
	assert.Equal(t, ledger.EventCommandPublished, first.eventType)
	assert.Equal(t, "z2m/light/hall_spot/set", first.topic)
	assert.Equal(t, "z2m/light/hall_strip/set", second.topic)
	assert.NotEmpty(t, first.correlationID)
	assert.Equal(t, first.correlationID, second.correlationID)
	assert.Equal(t, "z2m/motion/hall", first.source)
	assert.Equal(t, []string{"z2m/light/hall_spot/set", "z2m/light/hall_strip/set"}, h.recorder.commands)

	h.ctrl.HandleMessage("z2m/motion/hall", []byte(`{"occupancy":false}`))
	require.Len(t, h.ledger.entries, 4)
	assert.NotEqual(t, first.correlationID, h.ledger.entries[2].correlationID)
}

func TestHandleMessage_FailedPublishIsRecordedWithoutWriteBack(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.pub.err = errors.New("broker gone")
	h.store.Merge("kitchen", map[string]any{"state": "OFF"})

	h.ctrl.HandleMessage("z2m/button/kitchen", []byte(`{"action":"single"}`))

	require.Len(t, h.ledger.entries, 1)
	assert.Equal(t, ledger.EventCommandFailed, h.ledger.entries[0].eventType)
	assert.Empty(t, h.recorder.commands)
	assert.Equal(t, entity.Off, h.store.Get("kitchen").State)
	assert.Equal(t, 1, h.persist.saves)
}

func TestTick_RefreshesAdaptiveLights(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.store.Merge("kitchen", map[string]any{"adaptive_brightness": "ON"})
	h.store.Merge("kitchen_table", map[string]any{"state": "ON", "brightness": 10})
	h.store.Merge("kitchen_wall", map[string]any{"state": "ON", "brightness": 10, "dimmed": true})
	h.store.Merge("hall", map[string]any{"state": "ON", "brightness": 10})

	noon := time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)
	h.ctrl.Tick(noon)

	want := circadian.ComputeTarget(12, 6, 18, 2.54)
	assert.Equal(t, want, h.store.Global().AdaptiveBrightness)
	assert.Equal(t, []int{want}, h.recorder.targets)
	require.Len(t, h.pub.sent, 1)
	assert.Equal(t, "z2m/light/kitchen_table/set", h.pub.sent[0].topic)
	assert.Equal(t, map[string]any{"brightness": want}, h.pub.sent[0].payload)
	assert.Equal(t, 1, h.persist.saves)
	assert.Equal(t, SourceTick, h.ledger.entries[0].source)

	h.ctrl.Tick(noon)
	assert.Len(t, h.pub.sent, 1)
	assert.Equal(t, 2, h.persist.saves)
}

func TestTick_SunTimesAndFollowSun(t *testing.T) {
	cfg := testConfig()
	cfg.Brightness.FollowSun = true
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	sun := &fakeSun{
		times: &entity.SunTimes{
			Sunrise: day.Add(5 * time.Hour),
			Sunset:  day.Add(21 * time.Hour),
		},
		night: true,
	}
	h := newHarness(t, cfg, sun)

	h.ctrl.Tick(day.Add(22 * time.Hour))

	g := h.store.Global()
	assert.True(t, g.Night)
	require.NotNil(t, g.SunTimes)
	assert.Equal(t, day.Add(5*time.Hour), g.SunTimes.Sunrise)
	assert.Equal(t, circadian.ComputeTarget(22, 5, 21, 2.54), g.AdaptiveBrightness)
}

func TestTick_SunFailureKeepsPreviousNightFlag(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeSun{err: errors.New("polar night")})
	h.store.Global().Night = true

	h.ctrl.Tick(time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC))

	assert.True(t, h.store.Global().Night)
	assert.Equal(t, circadian.ComputeTarget(12, 6, 18, 2.54), h.store.Global().AdaptiveBrightness)
}

func TestRegister_RunsOnBusWorker(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	bus := eventbus.New(10)
	h.ctrl.Register(bus)

	require.True(t, bus.Publish(eventbus.Event{
		Type:    eventbus.EventTypeMessage,
		Topic:   "z2m/light/kitchen",
		Payload: []byte(`{"state":"ON","brightness":200}`),
	}))
	require.True(t, bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeTick,
		At:   time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := eventbus.DoSyncWithResult(ctx, bus, func() (*entity.Snapshot, error) {
		return h.ctrl.Snapshot(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, snap.Entities["kitchen"].BrightnessOr(0))
	assert.Equal(t, circadian.ComputeTarget(12, 6, 18, 2.54), snap.Global.AdaptiveBrightness)
	assert.Equal(t, 2, h.persist.saves)

	bus.Close(ctx)
}
