// Package surreal provides a Database backed by SurrealDB.
//
// Each container is a SurrealDB table defined with a change feed. A
// document is stored as a record keyed by its identifier with three
// fields: key (the identifier), body (the exact JSON text) and doc (the
// decoded object, so bulk scan predicates can address document fields as
// doc.<field>). Container metadata lives in the carbon_containers table.
//
// The change feed polls SHOW CHANGES FOR TABLE from a starting
// versionstamp taken by writing the lease record, since versionstamps are
// monotonic across a database.
package surreal
