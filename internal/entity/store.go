package entity

import (
	"sort"
	"strings"
)

// Store is the mutable entity map. It is owned by the single controller
// worker and does no locking of its own.
type Store struct {
	snap *Snapshot
}

// NewStore creates a store over snap (or an empty snapshot when nil).
func NewStore(snap *Snapshot) *Store {
	if snap == nil {
		snap = NewSnapshot()
	}
	if snap.Entities == nil {
		snap.Entities = make(map[string]*Entity)
	}
	return &Store{snap: snap}
}

// Get returns the record for key, or nil when it was never referenced.
func (s *Store) Get(key string) *Entity {
	return s.snap.Entities[key]
}

// Exists reports whether key has a record.
func (s *Store) Exists(key string) bool {
	_, ok := s.snap.Entities[key]
	return ok
}

// Ensure returns the record for key, creating an empty one on first touch.
func (s *Store) Ensure(key string) *Entity {
	e, ok := s.snap.Entities[key]
	if !ok {
		e = &Entity{}
		s.snap.Entities[key] = e
	}
	return e
}

// Merge applies reported attributes to key.
func (s *Store) Merge(key string, attrs map[string]any) *Entity {
	e := s.Ensure(key)
	e.Merge(attrs)
	return e
}

// Keys returns every entity key in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.snap.Entities))
	for k := range s.snap.Entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LightsOf returns the light keys owned by area: every "area_<bulb>" key,
// or the area key itself when the area has no bulbs and is a light.
func (s *Store) LightsOf(area string) []string {
	prefix := area + "_"
	var lights []string
	for k := range s.snap.Entities {
		if strings.HasPrefix(k, prefix) && len(k) > len(prefix) {
			lights = append(lights, k)
		}
	}
	if len(lights) > 0 {
		sort.Strings(lights)
		return lights
	}
	if e := s.Get(area); e != nil && e.Brightness != nil {
		return []string{area}
	}
	return nil
}

// Lights returns every light key in the map, sorted.
func (s *Store) Lights() []string {
	var lights []string
	areas := make(map[string]bool)
	for _, k := range s.Keys() {
		area, bulb := SplitKey(k)
		if bulb != "" {
			lights = append(lights, k)
			areas[area] = true
		}
	}
	for _, k := range s.Keys() {
		if _, bulb := SplitKey(k); bulb == "" && !areas[k] && s.snap.Entities[k].Brightness != nil {
			lights = append(lights, k)
		}
	}
	sort.Strings(lights)
	return lights
}

// AreaOf returns the owning area record of a light key (may be nil).
func (s *Store) AreaOf(key string) *Entity {
	area, _ := SplitKey(key)
	return s.Get(area)
}

// Global returns the mutable site-wide record.
func (s *Store) Global() *Global {
	return &s.snap.Global
}

// Snapshot returns a copy of the whole map, safe to hand to persistence
// or to another goroutine.
func (s *Store) Snapshot() *Snapshot {
	out := &Snapshot{
		Global:   s.snap.Global,
		Entities: make(map[string]*Entity, len(s.snap.Entities)),
	}
	if s.snap.Global.SunTimes != nil {
		st := *s.snap.Global.SunTimes
		out.Global.SunTimes = &st
	}
	for k, e := range s.snap.Entities {
		out.Entities[k] = e.Clone()
	}
	return out
}

// Restore replaces the map with snap.
func (s *Store) Restore(snap *Snapshot) {
	if snap == nil {
		snap = NewSnapshot()
	}
	if snap.Entities == nil {
		snap.Entities = make(map[string]*Entity)
	}
	s.snap = snap
}

// Len returns the number of entities.
func (s *Store) Len() int {
	return len(s.snap.Entities)
}
