package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// maxRateWait bounds how long a command waits for the rate limiter.
const maxRateWait = 2 * time.Second

// RawPublisher is the transport a Publisher writes to; *Client implements it.
type RawPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Publisher encodes commands as JSON and publishes them through a token
// bucket so a burst of decisions cannot flood the broker.
type Publisher struct {
	raw     RawPublisher
	qos     byte
	limiter *rate.Limiter
}

// NewPublisher creates a publisher. ratePerSecond <= 0 disables limiting.
func NewPublisher(raw RawPublisher, qos byte, ratePerSecond float64) *Publisher {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = max(1, int(ratePerSecond))
	}
	return &Publisher{
		raw:     raw,
		qos:     qos,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Publish sends payload to topic as JSON.
func (p *Publisher) Publish(topic string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: failed to encode payload: %w", ErrPublishFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), maxRateWait)
	defer cancel()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}

	return p.raw.Publish(topic, data, p.qos, false)
}
