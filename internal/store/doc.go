// Package store holds the flat entity store, the merger and the subscriber
// index.
//
// # Snapshots
//
// Readers work on a *Snapshot: an immutable map from entity key to *Entity
// plus the version that produced it. Merge never mutates a published
// snapshot or entity. It stages new *Entity values for the keys whose
// fields actually changed and publishes them in one new snapshot, so a
// reader sees either all of a batch or none of it.
//
// Entities the batch did not change keep their *Entity pointer and their
// Attrs map. Structural sharing downstream relies on exactly that.
//
// # Versions
//
// Every publication takes the next value of a logical Clock. The version is
// also the arrival-order stamp: merges apply in call order and there is no
// reordering inside the store. Each entity records the version at which its
// attributes were last produced, which makes "changed since v" a single
// comparison.
//
// # Subscribers
//
// The store also keeps the reverse index entity key -> query keys, fed by
// the cache after every materialization. It is bookkeeping only: a stale
// entry costs a recomputation, never a wrong value.
//
// A Store is not safe for concurrent use.
package store
