// Package storage is the SQL persistence layer: accounts and preferences, device
// registries, badge counts, unseen notifications, announcements and the digest audit.
//
// The same queries run against SQLite (modernc.org/sqlite, default) and PostgreSQL
// (github.com/lib/pq). Queries are written with ? placeholders and rebound for
// postgres. Timestamps are stored as unix milliseconds in both dialects.
package storage
