// Package cache is the integration adapter between a query layer and the
// normalized entity store.
//
// The query layer owns fetching, retries and scheduling. It tells the
// cache about lifecycle events and reads materialized values back:
//
//	c, err := cache.New(config.Default(), cache.WithSink(mySink))
//	v, err := c.OnFetchSuccess(q, payload)   // value for q's slot
//	cs, err := c.OnMutationSuccess(m, result) // dependents pushed to mySink
//	c.DropQuery(q)                            // q went away
//
// Every payload is split into entities and a shape template; entities are
// merged into one store, so two queries embedding the same entity always
// read the same data. After a merge the cache recomputes each other query
// depending on a changed entity and pushes the new value to the Sink,
// skipping queries whose value kept its identity.
//
// A Cache is not safe for concurrent use. Calls run to completion and
// merges apply in call order.
package cache
