// Package signup is the slot-assignment core: it maps participants to
// named, finite slots grouped into squads, enforcing at most one slot per
// participant per mission, and keeps every signup surface that shows slot
// occupancy consistent under concurrent updates.
//
// The durable store is the single source of truth; everything this package
// holds in memory (per-mission locks, the registered-surface set) is derived
// state, rebuilt from the store on restart.
package signup
