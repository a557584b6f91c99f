// Package storage persists reminder entries and the per-occurrence sent
// markers used for at-most-once delivery.
//
// Drivers: file (JSON Lines), sqlite, postgres, mongo and redis. Every
// driver implements the same Store contract; the scheduler re-reads the full
// entry set on each tick, so List must be cheap enough for that.
package storage
