// Package harness runs YAML scenarios against a real cache.Cache.
//
// A scenario is a sequence of lifecycle steps (fetch, mutation, dispose,
// set_entity, evict) with optional per-step expectations, followed by
// assertions on the final state and on the values the consumer observed.
// Every step produces a TraceEvent; the trace is serialized as canonical
// JSON and compared against golden files in testdata/golden.
//
// Runs are deterministic: the cache gets a fixed instance ID and a silent
// logger unless options say otherwise, and the store version is a logical
// counter. Two runs of the same scenario produce byte-identical traces.
//
// With WithJournal, every successful step is appended to a SQLite journal
// session. Replay feeds a journaled session back through a fresh cache and
// reports any step whose version, changed keys or value digest differs.
//
// Example scenario:
//
//	name: worked_example
//	description: A mutation on user:1 reaches every query that shows it.
//	steps:
//	  - fetch: [post, "10"]
//	    payload:
//	      post: {type: post, id: "10", title: Hi, author: {type: user, id: "1", name: A}}
//	  - mutation: [saveUser]
//	    payload: {type: user, id: "1", name: B}
//	    expect:
//	      changed: ["user:1"]
//	      notified: [[post, "10"]]
//	assertions:
//	  - type: query_value
//	    query: [post, "10"]
//	    expect:
//	      post: {type: post, id: "10", title: Hi, author: {type: user, id: "1", name: B}}
package harness
