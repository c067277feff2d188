package store

import (
	"maps"
	"slices"

	"github.com/roach88/normcache/internal/ir"
)

// Subscribe replaces the dependency set of q. deps is copied.
func (s *Store) Subscribe(q ir.QueryKey, deps ir.KeySet) {
	prev := s.dependencies[q]
	for k := range prev {
		if !deps.Has(k) {
			s.removeSubscriber(k, q)
		}
	}
	for k := range deps {
		if prev.Has(k) {
			continue
		}
		set, ok := s.subscribers[k]
		if !ok {
			set = make(map[ir.QueryKey]struct{})
			s.subscribers[k] = set
		}
		set[q] = struct{}{}
	}
	s.dependencies[q] = maps.Clone(deps)
}

// Unsubscribe forgets q and returns the stored entity keys that no query
// references any more, sorted.
func (s *Store) Unsubscribe(q ir.QueryKey) []ir.Key {
	prev, ok := s.dependencies[q]
	if !ok {
		return nil
	}
	delete(s.dependencies, q)

	var orphaned []ir.Key
	for k := range prev {
		s.removeSubscriber(k, q)
		if _, still := s.subscribers[k]; still {
			continue
		}
		if _, stored := s.snap.entities[k]; stored {
			orphaned = append(orphaned, k)
		}
	}
	ir.SortKeys(orphaned)
	return orphaned
}

func (s *Store) removeSubscriber(k ir.Key, q ir.QueryKey) {
	set := s.subscribers[k]
	delete(set, q)
	if len(set) == 0 {
		delete(s.subscribers, k)
	}
}

// Dependencies returns a copy of q's dependency set.
func (s *Store) Dependencies(q ir.QueryKey) ir.KeySet {
	return maps.Clone(s.dependencies[q])
}

// Dependents returns every query depending on at least one key of
// changed, sorted.
func (s *Store) Dependents(changed ir.KeySet) []ir.QueryKey {
	seen := make(map[ir.QueryKey]struct{})
	for k := range changed {
		for q := range s.subscribers[k] {
			seen[q] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Subscribers returns the queries depending on k, sorted.
func (s *Store) Subscribers(k ir.Key) []ir.QueryKey {
	return slices.Sorted(maps.Keys(s.subscribers[k]))
}

// Referenced reports whether any query depends on k.
func (s *Store) Referenced(k ir.Key) bool {
	_, ok := s.subscribers[k]
	return ok
}

// Unreferenced returns stored entities no query depends on, sorted.
func (s *Store) Unreferenced() []ir.Key {
	var keys []ir.Key
	for k := range s.snap.entities {
		if _, ok := s.subscribers[k]; !ok {
			keys = append(keys, k)
		}
	}
	ir.SortKeys(keys)
	return keys
}

// Queries returns every subscribed query, sorted.
func (s *Store) Queries() []ir.QueryKey {
	return slices.Sorted(maps.Keys(s.dependencies))
}
