// Package stores persists run history in SQLite.
// Each finished run is stored with its per-operation outcomes, and the store
// doubles as an engine.EventPublisher so execution events can be kept next to
// the run they belong to. History is write-only from the executor's point of
// view: nothing stored here influences a later run.
package stores
