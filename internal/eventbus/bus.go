// Package eventbus serializes all controller work on one worker goroutine.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeMessage EventType = "message"
	EventTypeTick    EventType = "tick"
)

// DefaultQueueSize is used when no queue size is configured.
const DefaultQueueSize = 100

var (
	// ErrClosed is returned when work is submitted after Close.
	ErrClosed = errors.New("event bus closed")
	// ErrQueueFull is returned when the work queue has no room.
	ErrQueueFull = errors.New("event bus queue full")
)

// Event represents an event in the system
type Event struct {
	Type    EventType
	Topic   string
	Payload []byte
	At      time.Time
}

// Handler is a function that handles events
type Handler func(Event)

// work is one unit for the worker: either an event for its handlers or a
// plain function.
type work struct {
	event Event
	fn    func()
}

// Bus routes events to handlers on a single worker, so handlers never run
// concurrently with each other.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	// sendMu guards workQueue against sends after close
	sendMu    sync.RWMutex
	workQueue chan work
	closed    atomic.Bool
	done      chan struct{}
}

// New creates a bus with a queue of queueSize items and starts its worker.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
		done:      make(chan struct{}),
	}

	go b.worker()

	log.Debug().Int("queue_size", queueSize).Msg("Event bus worker started")
	return b
}

// worker processes the work queue until it is closed
func (b *Bus) worker() {
	defer close(b.done)

	for w := range b.workQueue {
		b.execute(w)
	}
}

func (b *Bus) execute(w work) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(w.event.Type)).
				Str("topic", w.event.Topic).
				Msg("Event handler panicked")
		}
	}()

	if w.fn != nil {
		w.fn()
		return
	}

	b.mu.RLock()
	handlers := b.handlers[w.event.Type]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		log.Debug().Str("event_type", string(w.event.Type)).Msg("No handler for event")
		return
	}
	for _, h := range handlers {
		h(w.event)
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish queues an event for its handlers. Non-blocking: if the queue is
// full or the bus is closing, the event is dropped with a warning.
func (b *Bus) Publish(event Event) bool {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	err := b.enqueue(work{event: event})
	switch {
	case errors.Is(err, ErrClosed):
		log.Warn().Str("event_type", string(event.Type)).Str("topic", event.Topic).Msg("Event bus closing, dropping event")
	case errors.Is(err, ErrQueueFull):
		log.Warn().Str("event_type", string(event.Type)).Str("topic", event.Topic).Msg("Event bus queue full, dropping event")
	}
	return err == nil
}

// Do queues fn to run on the worker without waiting for it.
func (b *Bus) Do(fn func()) error {
	return b.enqueue(work{fn: fn})
}

// DoSync runs fn on the worker and waits for it to finish. It must not be
// called from the worker itself.
func (b *Bus) DoSync(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := b.enqueue(work{fn: func() {
		defer close(finished)
		fn()
	}}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DoSyncWithResult runs fn on the worker and returns its result.
func DoSyncWithResult[T any](ctx context.Context, b *Bus, fn func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	if doErr := b.DoSync(ctx, func() { result, err = fn() }); doErr != nil {
		var zero T
		return zero, doErr
	}
	return result, err
}

func (b *Bus) enqueue(w work) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	if b.closed.Load() {
		return ErrClosed
	}
	select {
	case b.workQueue <- w:
		return nil
	default:
		return ErrQueueFull
	}
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	return b.closed.Load()
}

// Close stops accepting work and waits for queued work to finish or ctx
// to expire.
func (b *Bus) Close(ctx context.Context) {
	b.sendMu.Lock()
	if !b.closed.Swap(true) {
		close(b.workQueue)
	}
	b.sendMu.Unlock()

	select {
	case <-b.done:
		log.Debug().Msg("Event bus worker stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
