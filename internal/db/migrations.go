package db

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
)

const schemaVersionKey = "schema_version"

// migration is one numbered schema step. Statements are written in the
// shared SQL subset both dialects accept; dialect-specific overrides go in
// sqlite/postgres when the shared form is not expressible.
type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "base schema",
		statements: []string{
			`CREATE TABLE th_content (
  id BIGINT PRIMARY KEY,
  business_id TEXT NOT NULL UNIQUE,
  source_payload_json TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
)`,
			`CREATE TABLE th_contexts (
  id BIGINT PRIMARY KEY,
  context_hash TEXT NOT NULL UNIQUE,
  context_payload_json TEXT NOT NULL,
  created_at TEXT NOT NULL
)`,
			`CREATE TABLE th_translations (
  id BIGINT PRIMARY KEY,
  content_id BIGINT NOT NULL REFERENCES th_content(id) ON DELETE CASCADE,
  context_id BIGINT REFERENCES th_contexts(id) ON DELETE CASCADE,
  lang_code TEXT NOT NULL,
  source_lang TEXT,
  status TEXT NOT NULL,
  translation_payload_json TEXT,
  engine TEXT,
  engine_version TEXT,
  error TEXT,
  created_at TEXT NOT NULL,
  last_updated_at TEXT NOT NULL
)`,
			// The UNIQUE(content_id, context_id, lang_code) constraint must
			// also hold when context_id IS NULL, which a plain unique index
			// would not enforce. Two partial indexes cover both cases.
			`CREATE UNIQUE INDEX idx_th_translations_uniq
  ON th_translations(content_id, context_id, lang_code) WHERE context_id IS NOT NULL`,
			`CREATE UNIQUE INDEX idx_th_translations_uniq_global
  ON th_translations(content_id, lang_code) WHERE context_id IS NULL`,
			`CREATE INDEX idx_th_translations_claim
  ON th_translations(lang_code, status, last_updated_at)`,
			`CREATE TABLE th_jobs (
  id BIGINT PRIMARY KEY,
  content_id BIGINT NOT NULL UNIQUE REFERENCES th_content(id) ON DELETE CASCADE,
  last_requested_at TEXT NOT NULL
)`,
		},
	},
	{
		version: 2,
		name:    "dead letter queue",
		statements: []string{
			`CREATE TABLE th_dead_letter_queue (
  id BIGINT PRIMARY KEY,
  translation_id BIGINT,
  original_payload_json TEXT NOT NULL,
  context_payload_json TEXT,
  target_lang_code TEXT NOT NULL,
  last_error_message TEXT NOT NULL,
  failed_at TEXT NOT NULL,
  engine_name TEXT,
  engine_version TEXT
)`,
		},
	},
	{
		version: 3,
		name:    "audit log",
		statements: []string{
			`CREATE TABLE th_audit_logs (
  id BIGINT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  table_name TEXT NOT NULL,
  record_id TEXT NOT NULL,
  timestamp TEXT NOT NULL,
  details_json TEXT
)`,
			`CREATE INDEX idx_th_audit_logs_record ON th_audit_logs(table_name, record_id)`,
		},
	},
}

// Migrate applies all pending migrations in ascending version order and
// records the resulting version under th_meta.schema_version. Safe to run
// at every startup.
func Migrate(conn *sqlx.DB, dialect Dialect) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS th_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create th_meta: %w", err)
	}

	current, err := SchemaVersion(conn)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(conn, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func applyMigration(conn *sqlx.DB, m migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q...: %w", firstLine(stmt), err)
		}
	}
	if _, err := tx.Exec(
		conn.Rebind(`INSERT INTO th_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`),
		schemaVersionKey, strconv.Itoa(m.version),
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion reads the applied schema version, 0 when none is recorded.
func SchemaVersion(conn *sqlx.DB) (int, error) {
	var value string
	err := conn.QueryRow(conn.Rebind(`SELECT value FROM th_meta WHERE key = ?`), schemaVersionKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", value, err)
	}
	return v, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
