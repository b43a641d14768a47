// Package storage persists bot state: the news dedup set, subscriptions,
// per-chat assistant settings, moderation counters and an audit trail.
//
// Drivers:
//   - "memory": process-local maps (default; state is lost on restart)
//   - "file": JSON Lines journals plus snapshots under a path prefix
//   - "sqlite": a single SQLite database (modernc.org/sqlite, pure Go)
package storage
