package controller

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motionlightd/internal/ledger"
	"github.com/dokzlo13/motionlightd/internal/reconcile"
	"github.com/dokzlo13/motionlightd/internal/telemetry"
)

// CommandLog records published commands.
type CommandLog interface {
	Append(eventType ledger.EventType, correlationID, topic, source string, payload map[string]any) error
}

// auditPublisher wraps the outbound publisher and records every command
// under the correlation id of the work item that caused it. It is only
// used from the worker, so the current correlation needs no locking.
type auditPublisher struct {
	next     reconcile.Publisher
	log      CommandLog
	recorder telemetry.Recorder
	now      func() time.Time

	correlationID string
	source        string
}

func (a *auditPublisher) begin(correlationID, source string) {
	a.correlationID = correlationID
	a.source = source
}

func (a *auditPublisher) Publish(topic string, payload map[string]any) error {
	err := a.next.Publish(topic, payload)

	if a.log != nil {
		eventType := ledger.EventCommandPublished
		if err != nil {
			eventType = ledger.EventCommandFailed
		}
		if lerr := a.log.Append(eventType, a.correlationID, topic, a.source, payload); lerr != nil {
			log.Error().Err(lerr).Str("topic", topic).Msg("Failed to append command to ledger")
		}
	}
	if err == nil {
		a.recorder.Command(a.now(), topic, payload)
	}
	return err
}
