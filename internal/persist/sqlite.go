package persist

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/motionlightd/internal/entity"
)

const (
	snapshotKind = "snapshot"
	snapshotID   = "entities"
)

// SQLite keeps the snapshot document in a versioned resource_state row.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates a persister on an opened database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Load reads the snapshot row.
func (s *SQLite) Load() (*entity.Snapshot, error) {
	var payload string
	var version int64
	err := s.db.QueryRow(`
		SELECT payload, version FROM resource_state
		WHERE kind = ? AND id = ?
	`, snapshotKind, snapshotID).Scan(&payload, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return entity.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state row: %w", err)
	}

	log.Debug().Int64("version", version).Msg("State snapshot loaded from database")
	return decode([]byte(payload))
}

// Save upserts the snapshot row, incrementing its version.
func (s *SQLite) Save(snap *entity.Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, snapshotKind, snapshotID, string(data), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to write state row: %w", err)
	}
	return nil
}

// Version returns how many times the snapshot was saved (0 if never).
func (s *SQLite) Version() (int64, error) {
	var version int64
	err := s.db.QueryRow(`
		SELECT version FROM resource_state WHERE kind = ? AND id = ?
	`, snapshotKind, snapshotID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// Reset deletes the snapshot row.
func (s *SQLite) Reset() error {
	_, err := s.db.Exec(`
		DELETE FROM resource_state WHERE kind = ? AND id = ?
	`, snapshotKind, snapshotID)
	if err != nil {
		return fmt.Errorf("failed to delete state row: %w", err)
	}
	return nil
}
