// Package store implements the persistent store (C2): typed CRUD over
// a single SQLite database, pagination, the indexes spec.md §4.2
// requires, and CSV export with formula-injection escaping.
//
// Grounded on the teacher's repository-boundary idiom (every method
// returns a trace-wrapped error, NotFound surfaced via trace.NotFound)
// even though the teacher itself plugs in a pluggable backend.Backend
// rather than a single SQL store; the direct-SQL style here follows
// the Python original's own sqlite3 usage in original_source/storage.py
// semantics (one file, typed accessor functions per entity).
package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/gravitational/trace"
	_ "modernc.org/sqlite"

	"github.com/gravitational/fleetctl/internal/obslog"
)

var log = obslog.New(obslog.Component("store"))

// MaxPageSize is the hard cap on limit for paginated reads.
const MaxPageSize = 500

// Store wraps a SQLite connection and exposes typed entity accessors.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, trace.Wrap(err, "opening database")
	}
	// SQLite allows exactly one writer; a single connection avoids
	// SQLITE_BUSY under the store's own concurrent callers and lets us
	// rely on the driver's internal statement serialization.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return trace.Wrap(s.db.Close())
}

// Ping verifies the database connection is alive, for the health
// endpoint's dependency check.
func (s *Store) Ping() error {
	return trace.Wrap(s.db.Ping())
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hosts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			address TEXT NOT NULL,
			port INTEGER NOT NULL,
			username TEXT NOT NULL,
			description TEXT,
			agent_port INTEGER,
			tags TEXT,
			group_ref TEXT,
			status TEXT NOT NULL DEFAULT 'unknown',
			last_seen TIMESTAMP,
			ssh_key_path TEXT,
			ssh_password_wrapped BLOB,
			ssh_key_vault_ref TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hosts_status ON hosts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_hosts_group ON hosts(group_ref)`,

		`CREATE TABLE IF NOT EXISTS vault_keys (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			key_type TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			ciphertext BLOB NOT NULL,
			iv BLOB NOT NULL,
			auth_tag BLOB NOT NULL,
			public_key TEXT,
			created_by INTEGER,
			created_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			email TEXT,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_ref INTEGER NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_ref)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			host_ref INTEGER NOT NULL,
			user_ref INTEGER NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER,
			stdout TEXT,
			stderr TEXT,
			timeout_seconds INTEGER NOT NULL,
			store_output INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_host_created ON tasks(host_ref, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_ref, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS terminal_sessions (
			id TEXT PRIMARY KEY,
			host_ref INTEGER NOT NULL,
			user_ref INTEGER NOT NULL,
			vault_key_ref TEXT,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			last_activity TIMESTAMP NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_termsess_host ON terminal_sessions(host_ref)`,

		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			user_ref INTEGER,
			action TEXT NOT NULL,
			target_type TEXT,
			target_id TEXT,
			meta TEXT,
			ip TEXT,
			user_agent TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_user_action_created ON audit_logs(user_ref, action, created_at)`,

		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			event_types TEXT,
			retry_max INTEGER NOT NULL DEFAULT 3,
			timeout_ms INTEGER NOT NULL DEFAULT 5000,
			created_by INTEGER,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_triggered_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			webhook_ref TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			status_code INTEGER,
			response_body TEXT,
			error TEXT,
			attempt INTEGER NOT NULL,
			delivered_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_whd_webhook_delivered ON webhook_deliveries(webhook_ref, delivered_at DESC)`,

		`CREATE TABLE IF NOT EXISTS host_inventory_latest (
			host_ref INTEGER PRIMARY KEY,
			collected_at TIMESTAMP NOT NULL,
			json TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS host_inventory_snapshots (
			id TEXT PRIMARY KEY,
			host_ref INTEGER NOT NULL,
			collected_at TIMESTAMP NOT NULL,
			json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invsnap_host_collected ON host_inventory_snapshots(host_ref, collected_at DESC)`,

		`CREATE TABLE IF NOT EXISTS monitoring_history (
			host_ref INTEGER NOT NULL,
			metric_type TEXT NOT NULL,
			json TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monhist_host_metric_time ON monitoring_history(host_ref, metric_type, timestamp)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host_ref INTEGER NOT NULL,
			severity TEXT NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			threshold REAL NOT NULL,
			message TEXT NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_host_read_created ON alerts(host_ref, is_read, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return trace.Wrap(err, "running migration: %s", stmt)
		}
	}
	return nil
}

// Page describes a bounded offset/limit page request; Limit is clamped
// to MaxPageSize by NormalizePage.
type Page struct {
	Limit  int
	Offset int
}

// NormalizePage clamps limit to [1, MaxPageSize] and offset to >= 0.
func NormalizePage(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// EscapeCSVCell prefixes a leading '=', '+', '-', '@', TAB, or CR with
// an apostrophe to defeat spreadsheet formula injection on export, per
// spec.md §4.2 ("this is a load-bearing safety property and has
// tests").
func EscapeCSVCell(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	default:
		return s
	}
}

