// Package scheduler drives the reminder matcher on a fixed cadence.
//
// Each tick reloads every entry from the store, matches it against the
// current instant in the reference zone and hands the due ones to the
// delivery service. A store failure only costs that tick.
package scheduler
