// Package packages persists Package records, the unit of work moving
// through the migration pipeline, in a SQLite database.
//
// A Package is created when a transfer notification arrives from the origin
// system and is mutated exclusively by stage routines, one stage per run,
// until it reaches a terminal status. The store enforces the forward-only
// status invariant and provides the sibling queries the correlation
// resolver relies on: first-sibling reference lookup and reference fan-out
// across packages sharing a correlation key.
package packages
