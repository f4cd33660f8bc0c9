// Package stores persists pipeline execution history in SQLite: one row per
// pull, one per phase executed on a node, and an append-only event log.
// Schema changes are embedded golang-migrate migrations. Recorder plugs the
// store into an executive as instrumentation.
package stores
