// Package journal records cache lifecycle steps in an append-only SQLite log.
//
// The journal is a diagnostic tool for the CLI and the scenario harness. The
// cache itself never touches it. Each session holds the ordered steps
// applied to one cache instance:
//
//   - fetch: a query's payload arrived (OnFetchSuccess)
//   - mutation: a mutation result arrived (OnMutationSuccess)
//   - dispose: a query went away (DropQuery)
//   - set_entity: an entity was patched directly (SetEntity)
//   - evict: entities were evicted (Evict)
//
// Every step stores its input payload as canonical JSON, the store version
// after the step, the changed entity keys and the digest of the resulting
// query value, so a session can be replayed against a fresh cache and
// checked step by step.
//
// # Ordering
//
// Steps are ordered by (session_id, step); the step number is assigned by
// the writer and never derived from wall time. Every read orders by it.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package journal
