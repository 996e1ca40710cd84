// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package sqlite stores the notification ledger and the breach registry in a
// single SQLite database file using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection shared by the ledger and the breach store.
type DB struct {
	conn *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// It enables WAL mode and a busy timeout, and runs migrations.
func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{"busy_timeout(5000)", "foreign_keys(1)"},
	}.Encode()
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection turns lock contention
	// into queueing inside database/sql.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ledger returns the notification ledger backed by db.
func (db *DB) Ledger() *Ledger {
	return &Ledger{conn: db.conn}
}

// Breaches returns the breach store backed by db.
func (db *DB) Breaches() *Breaches {
	return &Breaches{conn: db.conn}
}

func (db *DB) migrate() error {
	schema := `
-- Notification ledger: one row per submitted notification
CREATE TABLE IF NOT EXISTS notifications (
    id               TEXT PRIMARY KEY,
    idempotency_key  TEXT UNIQUE,
    breach_id        TEXT,
    tier             INTEGER NOT NULL DEFAULT 0,
    recipient_role   TEXT,
    claim_id         TEXT NOT NULL,
    channel          TEXT NOT NULL,
    recipient        TEXT NOT NULL,
    subject          TEXT,
    message          TEXT NOT NULL,
    priority         TEXT NOT NULL,
    metadata_json    TEXT,
    status           TEXT NOT NULL,
    attempts         INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL,
    sent_at          INTEGER,
    delivered_at     INTEGER,
    failed_at        INTEGER,
    failure_reason   TEXT
);

-- Breach registry: escalation state per SLA breach
CREATE TABLE IF NOT EXISTS breaches (
    id                      TEXT PRIMARY KEY,
    claim_id                TEXT NOT NULL,
    claim_reference         TEXT,
    severity                TEXT NOT NULL,
    responsible_party_type  TEXT,
    responsible_party_name  TEXT,
    delay_days              INTEGER NOT NULL DEFAULT 0,
    created_at              INTEGER NOT NULL,
    last_escalated_tier     INTEGER NOT NULL DEFAULT 0,
    last_escalated_at       INTEGER,
    resolved                INTEGER NOT NULL DEFAULT 0,
    resolved_at             INTEGER,
    recipients_json         TEXT
);

CREATE INDEX IF NOT EXISTS idx_notifications_claim ON notifications(claim_id);
CREATE INDEX IF NOT EXISTS idx_notifications_breach ON notifications(breach_id);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_breaches_open ON breaches(resolved, created_at);
`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Timestamps are stored as UTC unix nanoseconds so that ORDER BY is exact.

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
