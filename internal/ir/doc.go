// Package ir defines the value model shared by every other package.
//
// Payloads arriving from the query layer are decoded into Value trees
// (Null, Bool, Int, Float, String, Array, Object). Normalization adds two
// template-only node kinds: Ref, the reference token for an entity, and
// BackRef, the marker for a plain node that closes a cycle.
//
// This package imports nothing internal; all other internal packages
// import ir.
//
// Key design constraints:
//   - Object and Array are reference types; Same compares backing storage
//     and is the identity notion structural sharing is defined on
//   - Equal is deep and cycle-safe; it is only used where identity is
//     not enough (field change detection on composite attributes)
//   - Canonical JSON (RFC 8785 ordering, NFC strings) is the only input to
//     hashing
package ir
