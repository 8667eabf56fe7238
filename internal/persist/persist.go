// Package persist saves and restores the entity snapshot.
package persist

import (
	"database/sql"
	"fmt"

	"github.com/dokzlo13/motionlightd/internal/entity"
)

// Persister loads and saves the whole snapshot document. A missing
// document loads as an empty snapshot.
type Persister interface {
	Load() (*entity.Snapshot, error)
	Save(snap *entity.Snapshot) error
	Reset() error
}

// Backend names accepted in configuration.
const (
	BackendYAML   = "yaml"
	BackendSQLite = "sqlite"
)

// normalize fills what an old or hand-edited document may lack.
func normalize(snap *entity.Snapshot) *entity.Snapshot {
	if snap == nil {
		return entity.NewSnapshot()
	}
	if snap.Entities == nil {
		snap.Entities = make(map[string]*entity.Entity)
	}
	for k, e := range snap.Entities {
		if e == nil {
			snap.Entities[k] = &entity.Entity{}
		}
	}
	return snap
}

// Open returns the persister for backend. db is only used by the sqlite
// backend.
func Open(backend, path string, db *sql.DB) (Persister, error) {
	switch backend {
	case BackendYAML, "":
		return NewFile(path), nil
	case BackendSQLite:
		if db == nil {
			return nil, fmt.Errorf("state backend %q needs a database", backend)
		}
		return NewSQLite(db), nil
	}
	return nil, fmt.Errorf("unknown state backend %q", backend)
}
