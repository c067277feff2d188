// Package materialize turns shape templates back into payload-shaped values.
//
// Denormalize is the plain reader: it walks a template against one store
// snapshot, replacing every ir.Ref with the entity's reconstructed object.
// Within one call each entity is built once and shared by reference, and a
// reference to an absent entity reads as ir.Null.
//
// Engine adds structural sharing on top. It keeps a memo per query key and,
// on the next read, rebuilds only the parts of the tree whose dependency
// set intersects the entities changed since the memo was taken. Everything
// else, including a rebuilt composite whose children all came out
// identical, keeps its previous reference.
package materialize
