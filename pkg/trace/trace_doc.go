/*
Package trace provides an in-memory event broker for the engine's
trace_external_log events.

The trace package implements a lightweight pub/sub bus so callers (a
diagnostics sidecar, a test harness) can subscribe to per-transaction and
per-statement lifecycle events without the engine's hot path depending on
who, if anyone, is listening.

# Architecture

	┌────────────────────── TRACE BROKER ───────────────────────┐
	│                                                             │
	│  Publisher (txn/flow/exchange) → Event Channel (buf 256)   │
	│         ↓                                                   │
	│  Broadcast Loop                                             │
	│         ↓                                                   │
	│  Subscriber Channels (buf 64 each, drop-on-full)            │
	└─────────────────────────────────────────────────────────────┘

# Event types

  - tx.begin, tx.commit, tx.abort
  - statement.start, statement.end
  - task.scheduled, task.completed
  - durability.wait, durability.resolved
  - exchange.flush

# Enablement

A Broker constructed with enabled=false (the config.TraceExternalLog
default) drops every Publish call after one bool read, so trace plumbing
costs nothing when the operator hasn't asked for it.
*/
package trace
