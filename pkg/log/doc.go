// Package log provides the broker's structured logging, built on zerolog.
//
// A single global Logger is configured once via Init and then narrowed into
// component loggers (WithComponent) for each subsystem: alloc, admin,
// breaker, worker.sync, worker.cleanup, worker.autoexpiry,
// worker.staledelete, broker-api, broker-worker. The HTTP request log uses
// a per-request logger (WithRequestID) instead. JSON output is the production
// default (LOG_FORMAT=json); console output is for local development.
package log
