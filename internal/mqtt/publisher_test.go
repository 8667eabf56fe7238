package mqtt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawMessage struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

type fakeRaw struct {
	messages []rawMessage
	err      error
}

func (f *fakeRaw) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, rawMessage{topic, string(payload), qos, retained})
	return nil
}

func TestPublisher_EncodesJSON(t *testing.T) {
	raw := &fakeRaw{}
	p := NewPublisher(raw, 1, 0)

	require.NoError(t, p.Publish("z2m/light/hall/set", map[string]any{"state": "ON", "brightness": 120}))
	require.Len(t, raw.messages, 1)

	m := raw.messages[0]
	assert.Equal(t, "z2m/light/hall/set", m.topic)
	assert.JSONEq(t, `{"state":"ON","brightness":120}`, m.payload)
	assert.Equal(t, byte(1), m.qos)
	assert.False(t, m.retained)
}

func TestPublisher_PropagatesTransportErrors(t *testing.T) {
	raw := &fakeRaw{err: ErrNotConnected}
	p := NewPublisher(raw, 0, 10)

	err := p.Publish("z2m/light/hall/set", map[string]any{"state": "OFF"})
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestPublisher_RejectsUnencodablePayload(t *testing.T) {
	p := NewPublisher(&fakeRaw{}, 0, 0)
	err := p.Publish("t", map[string]any{"bad": make(chan int)})
	assert.ErrorIs(t, err, ErrPublishFailed)
}

func TestPublisher_RateLimitAllowsBurst(t *testing.T) {
	raw := &fakeRaw{}
	p := NewPublisher(raw, 0, 5)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish("t", map[string]any{"i": i}))
	}
	assert.Len(t, raw.messages, 5)
}

func TestClientID(t *testing.T) {
	assert.Contains(t, ClientID(mqttConfig("")), "motionlightd-")
	assert.Equal(t, "fixed", ClientID(mqttConfig("fixed")))
}

func TestStatusPayload(t *testing.T) {
	assert.Contains(t, statusPayload("online", "id", ""), `"status":"online"`)
	assert.Contains(t, statusPayload("offline", "id", "graceful_shutdown"), `"reason":"graceful_shutdown"`)
}
