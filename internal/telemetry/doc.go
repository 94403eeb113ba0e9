// Package telemetry provides workitem.Recorder sinks: structured logging,
// in-memory per-type counters, a SQLite event ledger and a websocket hub that
// streams events to dashboards.
package telemetry
