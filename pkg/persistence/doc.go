// Package persistence stores credential records in a relational backing
// store.
//
// Two backends are supported: Postgres, described by a ConnectionConfig that
// resolves to a postgresql:// URI, and an embedded sqlite store described by
// a SqliteConfig. A Session lazily connects to one backend and appends each
// record as a JSON document to a single-column table, creating the table on
// first write.
//
// A Session is not safe for concurrent use. Overlapping calls fail fast with
// ErrSessionBusy instead of blocking; give each worker its own Session.
package persistence
