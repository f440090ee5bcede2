package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/bryanwahyu/datasheet-lens/internal/infra/db/sqlstore"
)

var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	UpsertRecord: `ON CONFLICT(file_path) DO UPDATE SET
 status = excluded.status,
 tags_json = excluded.tags_json,
 summary = excluded.summary,
 checkpoints_json = excluded.checkpoints_json,
 verification_snippet = excluded.verification_snippet,
 error = excluded.error,
 error_kind = excluded.error_kind,
 raw_reply = excluded.raw_reply,
 page_count = excluded.page_count,
 model = excluded.model,
 updated_at = excluded.updated_at`,
	IgnoreConflict: `ON CONFLICT DO NOTHING`,
	UpsertSetting: `ON CONFLICT(setting_key) DO UPDATE SET
 setting_value = excluded.setting_value,
 updated_at = excluded.updated_at`,
	TimeAsText: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS analysis_records (
	id TEXT PRIMARY KEY,
	file_path TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	tags_json TEXT NOT NULL DEFAULT '{}',
	summary TEXT NOT NULL DEFAULT '',
	checkpoints_json TEXT NOT NULL DEFAULT '[]',
	verification_snippet TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	raw_reply TEXT NOT NULL DEFAULT '',
	page_count INTEGER NOT NULL DEFAULT 0,
	model TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_records_created ON analysis_records(created_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
	setting_key TEXT PRIMARY KEY,
	setting_value TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`,
	},
}

// DSN builds a modernc connection string with WAL and a busy timeout set on
// every pooled connection.
func DSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Open opens (creating if needed) the database file at path.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
