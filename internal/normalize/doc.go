// Package normalize turns payloads into shape templates and entity patches.
//
// A Resolver decides which objects are entities. Extract walks a payload
// depth-first, replaces every identified object with an ir.Ref, and
// collects one Patch per entity key. Plain objects and arrays are rebuilt
// with their children processed recursively.
//
// Cycle guard: composites on the active path are tracked by identity.
// Re-entering an entity emits its Ref; re-entering a plain node emits
// ir.BackRef. Extraction therefore terminates on any finite graph.
//
// A failing or panicking Resolver aborts extraction with *ConfigError.
// Extract never touches a store, so an aborted extraction leaves no trace.
package normalize
