package store

import (
	"github.com/roach88/normcache/internal/ir"
)

// Entity is one stored entity. Published entities are never modified.
type Entity struct {
	Key ir.Key

	// Attrs holds the flat field set. Nested entities appear as ir.Ref.
	Attrs ir.Object

	// Version is the snapshot version that produced Attrs.
	Version int64
}

// Snapshot is an immutable view of the store at one version.
type Snapshot struct {
	version  int64
	entities map[ir.Key]*Entity
	evicted  map[ir.Key]int64
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		entities: make(map[ir.Key]*Entity),
		evicted:  make(map[ir.Key]int64),
	}
}

// Version returns the version that published this snapshot.
func (s *Snapshot) Version() int64 {
	return s.version
}

// Get returns the entity stored under k.
func (s *Snapshot) Get(k ir.Key) (*Entity, bool) {
	e, ok := s.entities[k]
	return e, ok
}

// Len returns the number of entities.
func (s *Snapshot) Len() int {
	return len(s.entities)
}

// Keys returns every entity key, sorted.
func (s *Snapshot) Keys() []ir.Key {
	keys := make([]ir.Key, 0, len(s.entities))
	for k := range s.entities {
		keys = append(keys, k)
	}
	ir.SortKeys(keys)
	return keys
}

// ChangedSince reports whether the entity under k was created, updated or
// evicted after version v.
func (s *Snapshot) ChangedSince(k ir.Key, v int64) bool {
	if e, ok := s.entities[k]; ok {
		return e.Version > v
	}
	return s.evicted[k] > v
}

// ChangedAmong returns the subset of keys changed after version v.
func (s *Snapshot) ChangedAmong(keys ir.KeySet, v int64) ir.KeySet {
	changed := make(ir.KeySet)
	if v >= s.version {
		return changed
	}
	for k := range keys {
		if s.ChangedSince(k, v) {
			changed.Add(k)
		}
	}
	return changed
}
