// Package storage persists the destination list, the bot credential and a
// journal of event log records.
//
// Drivers:
//   - "file": one JSON or YAML document (by extension) plus an append-only
//     <prefix>.events.jsonl journal. Also reads the older channels[] layout.
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo).
package storage
