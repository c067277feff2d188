package store

import (
	"maps"

	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/normalize"
)

// ChangeSet describes the effect of one Merge or Evict call.
type ChangeSet struct {
	// Version is the snapshot version after the call. It equals the
	// previous version when nothing changed.
	Version int64

	// Changed holds every key whose stored value differs afterwards.
	Changed ir.KeySet

	// Created is the subset of Changed that did not exist before.
	Created ir.KeySet
}

// Empty reports whether nothing changed (MergeNoop).
func (c ChangeSet) Empty() bool {
	return len(c.Changed) == 0
}

// Store is the flat entity store. See the package documentation.
type Store struct {
	clock *Clock
	snap  *Snapshot

	subscribers  map[ir.Key]map[ir.QueryKey]struct{}
	dependencies map[ir.QueryKey]ir.KeySet
}

// New creates an empty store at version 0.
func New() *Store {
	return &Store{
		clock:        NewClock(),
		snap:         emptySnapshot(),
		subscribers:  make(map[ir.Key]map[ir.QueryKey]struct{}),
		dependencies: make(map[ir.QueryKey]ir.KeySet),
	}
}

// Snapshot returns the current snapshot. It stays valid and unchanged
// after later merges.
func (s *Store) Snapshot() *Snapshot {
	return s.snap
}

// Version returns the current snapshot version.
func (s *Store) Version() int64 {
	return s.snap.version
}

// Merge shallow-merges patches into the store, in order, as one atomic
// publication.
//
// A field counts as changed when the new value differs from the stored
// one: scalars and refs by ==, composites by identity first and deep
// equality second. Only changed fields are written, so unchanged
// composite fields keep their previous reference. An entity none of whose
// fields changed keeps its *Entity. A new entity is always a change, even
// with no fields.
func (s *Store) Merge(patches []normalize.Patch) ChangeSet {
	staged := make(map[ir.Key]*Entity)
	created := make(ir.KeySet)

	for _, p := range patches {
		if cur, ok := staged[p.Key]; ok {
			// Already copied in this batch; not yet visible, safe to write.
			for f, v := range p.Fields {
				if old, had := cur.Attrs[f]; !had || fieldChanged(old, v) {
					cur.Attrs[f] = v
				}
			}
			continue
		}

		base, exists := s.snap.entities[p.Key]
		if !exists {
			staged[p.Key] = &Entity{Key: p.Key, Attrs: maps.Clone(p.Fields)}
			if staged[p.Key].Attrs == nil {
				staged[p.Key].Attrs = make(ir.Object)
			}
			created.Add(p.Key)
			continue
		}

		var next ir.Object
		for f, v := range p.Fields {
			old, had := base.Attrs[f]
			if had && !fieldChanged(old, v) {
				continue
			}
			if next == nil {
				next = maps.Clone(base.Attrs)
			}
			next[f] = v
		}
		if next != nil {
			staged[p.Key] = &Entity{Key: p.Key, Attrs: next}
		}
	}

	if len(staged) == 0 {
		return ChangeSet{Version: s.snap.version, Changed: ir.KeySet{}, Created: ir.KeySet{}}
	}

	version := s.clock.Next()
	entities := maps.Clone(s.snap.entities)
	changed := make(ir.KeySet, len(staged))
	for k, e := range staged {
		e.Version = version
		entities[k] = e
		changed.Add(k)
	}

	s.snap = &Snapshot{
		version:  version,
		entities: entities,
		evicted:  s.snap.evicted,
	}
	return ChangeSet{Version: version, Changed: changed, Created: created}
}

// Evict removes entities from the store in one publication. Keys that are
// not present are ignored. Queries depending on an evicted key see it as
// changed and will denormalize it as absent.
func (s *Store) Evict(keys ...ir.Key) ChangeSet {
	changed := make(ir.KeySet)
	for _, k := range keys {
		if _, ok := s.snap.entities[k]; ok {
			changed.Add(k)
		}
	}
	if len(changed) == 0 {
		return ChangeSet{Version: s.snap.version, Changed: changed, Created: ir.KeySet{}}
	}

	version := s.clock.Next()
	entities := maps.Clone(s.snap.entities)
	evicted := maps.Clone(s.snap.evicted)
	for k := range changed {
		delete(entities, k)
		evicted[k] = version
	}

	s.snap = &Snapshot{version: version, entities: entities, evicted: evicted}
	return ChangeSet{Version: version, Changed: changed, Created: ir.KeySet{}}
}

// fieldChanged compares one attribute value against its replacement.
func fieldChanged(old, next ir.Value) bool {
	if ir.Same(old, next) {
		return false
	}
	switch next.(type) {
	case ir.Object, ir.Array:
		return !ir.Equal(old, next)
	}
	return true
}
