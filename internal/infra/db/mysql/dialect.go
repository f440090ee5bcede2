package mysql

import "github.com/bryanwahyu/datasheet-lens/internal/infra/db/sqlstore"

// Dialect expects a DSN with parseTime=true and loc=UTC.
var Dialect = sqlstore.Dialect{
	Name: "mysql",
	UpsertRecord: `ON DUPLICATE KEY UPDATE
 status = VALUES(status),
 tags_json = VALUES(tags_json),
 summary = VALUES(summary),
 checkpoints_json = VALUES(checkpoints_json),
 verification_snippet = VALUES(verification_snippet),
 error = VALUES(error),
 error_kind = VALUES(error_kind),
 raw_reply = VALUES(raw_reply),
 page_count = VALUES(page_count),
 model = VALUES(model),
 updated_at = VALUES(updated_at)`,
	InsertIgnore: "INSERT IGNORE",
	UpsertSetting: `ON DUPLICATE KEY UPDATE
 setting_value = VALUES(setting_value),
 updated_at = VALUES(updated_at)`,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS analysis_records (
	id CHAR(36) NOT NULL PRIMARY KEY,
	file_path VARCHAR(700) NOT NULL,
	status VARCHAR(16) NOT NULL,
	tags_json MEDIUMTEXT NOT NULL,
	summary TEXT NOT NULL,
	checkpoints_json MEDIUMTEXT NOT NULL,
	verification_snippet TEXT NOT NULL,
	error TEXT NOT NULL,
	error_kind VARCHAR(32) NOT NULL DEFAULT '',
	raw_reply MEDIUMTEXT NOT NULL,
	page_count INT NOT NULL DEFAULT 0,
	model VARCHAR(128) NOT NULL DEFAULT '',
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	UNIQUE KEY uq_analysis_records_path (file_path),
	KEY idx_analysis_records_created (created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS settings (
	setting_key VARCHAR(64) NOT NULL PRIMARY KEY,
	setting_value TEXT NOT NULL,
	updated_at DATETIME(6) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}
