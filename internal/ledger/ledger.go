// Package ledger keeps an append-only history of the commands motionlightd
// published, for auditing through the status server.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommandPublished EventType = "command_published"
	EventCommandFailed    EventType = "command_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID            int64          `json:"id"`
	EventType     EventType      `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Topic         string         `json:"topic"`
	Payload       map[string]any `json:"payload,omitempty"`
	Source        string         `json:"source,omitempty"`
}

// Ledger provides append-only command logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new entry to the ledger. correlationID ties the entry to
// the inbound event or tick that caused it; source names that trigger
// (an MQTT topic or "tick").
func (l *Ledger) Append(eventType EventType, correlationID, topic, source string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(`
		INSERT INTO command_ledger (event_type, timestamp, correlation_id, topic, payload, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(eventType), l.now().UTC().Unix(), correlationID, topic, string(payloadJSON), source)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, correlation_id, topic, payload, source
		FROM command_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// ByCorrelation returns every entry caused by one event, oldest first.
func (l *Ledger) ByCorrelation(correlationID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, correlation_id, topic, payload, source
		FROM command_ledger
		WHERE correlation_id = ?
		ORDER BY id
	`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM command_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	entries := []*Entry{}
	for rows.Next() {
		var entry Entry
		var payloadStr, correlationID, source sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &correlationID, &entry.Topic, &payloadStr, &source,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.CorrelationID = correlationID.String
		entry.Source = source.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
