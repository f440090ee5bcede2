package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/bryanwahyu/datasheet-lens/internal/infra/db/sqlstore"
)

var Dialect = sqlstore.Dialect{
	Name:     "postgres",
	Numbered: true,
	UpsertRecord: `ON CONFLICT (file_path) DO UPDATE SET
 status = EXCLUDED.status,
 tags_json = EXCLUDED.tags_json,
 summary = EXCLUDED.summary,
 checkpoints_json = EXCLUDED.checkpoints_json,
 verification_snippet = EXCLUDED.verification_snippet,
 error = EXCLUDED.error,
 error_kind = EXCLUDED.error_kind,
 raw_reply = EXCLUDED.raw_reply,
 page_count = EXCLUDED.page_count,
 model = EXCLUDED.model,
 updated_at = EXCLUDED.updated_at`,
	IgnoreConflict: `ON CONFLICT DO NOTHING`,
	UpsertSetting: `ON CONFLICT (setting_key) DO UPDATE SET
 setting_value = EXCLUDED.setting_value,
 updated_at = EXCLUDED.updated_at`,
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
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_records_created ON analysis_records (created_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
	setting_key TEXT PRIMARY KEY,
	setting_value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	},
}

func Open(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
