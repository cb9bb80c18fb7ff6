package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteSchema creates the tables Pulse needs. Domain tables (cases,
// tickets, stock_items, users) are owned by the host application in
// production deployments; the embedded schema makes the sqlite driver
// self-sufficient for dev mode and integration tests.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '{}',
	channel TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	read_at TIMESTAMP,
	sent_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	role TEXT NOT NULL,
	location_id TEXT NOT NULL DEFAULT '',
	email_opt_in INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS cases (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	created_by TEXT NOT NULL,
	assigned_to TEXT NOT NULL DEFAULT '',
	location_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	aging_status TEXT NOT NULL DEFAULT 'green',
	sla_breach INTEGER NOT NULL DEFAULT 0,
	overdue_notified_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tickets (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	created_by TEXT NOT NULL,
	assigned_to TEXT NOT NULL DEFAULT '',
	location_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	aging_status TEXT NOT NULL DEFAULT 'green',
	sla_breach INTEGER NOT NULL DEFAULT 0,
	warranty_expiry TIMESTAMP,
	warranty_band_notified INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS stock_items (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	location_id TEXT NOT NULL DEFAULT '',
	quantity INTEGER NOT NULL DEFAULT 0,
	reorder_level INTEGER NOT NULL DEFAULT 0,
	low_notified_at TIMESTAMP
);
`

// NewSQLiteStores opens (creating if necessary) a sqlite database at path
// and returns SQL-backed stores.
func NewSQLiteStores(path string) (StoreSet, error) {
	if strings.TrimSpace(path) == "" {
		return StoreSet{}, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent dispatch.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("apply schema: %w", err)
	}
	return newSQLStores(db, sqliteDialect), nil
}

// dialect abstracts the placeholder syntax differences between sqlite
// and postgres so both drivers share one query set.
type dialect int

const (
	sqliteDialect dialect = iota
	postgresDialect
)

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(query string) string {
	if d != postgresDialect {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func newSQLStores(db *sql.DB, d dialect) StoreSet {
	return StoreSet{
		Notifications: &sqlNotificationStore{db: db, d: d, now: time.Now},
		Users:         &sqlDirectory{db: db, d: d},
		Cases:         &sqlCaseStore{db: db, d: d},
		Tickets:       &sqlTicketStore{db: db, d: d, now: time.Now},
		Stock:         &sqlStockStore{db: db, d: d},
		closer:        db.Close,
	}
}
