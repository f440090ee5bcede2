package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	domain "github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

// Store implements domain.Store on top of database/sql. The dialect supplies
// placeholder style, conflict clauses and schema.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New applies the dialect schema and returns a ready store.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	for _, stmt := range d.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("creating %s schema: %w", d.Name, err)
		}
	}
	return &Store{db: db, dialect: d}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return domain.WrapStorage("ping", s.db.PingContext(ctx))
}

const recordColumns = `id, file_path, status, tags_json, summary, checkpoints_json,
 verification_snippet, error, error_kind, raw_reply, page_count, model, created_at, updated_at`

const insertRecord = `INSERT INTO analysis_records (` + recordColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func (s *Store) recordArgs(r *domain.AnalysisRecord) ([]any, error) {
	tags := r.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	checkpoints := r.Checkpoints
	if checkpoints == nil {
		checkpoints = []domain.Checkpoint{}
	}
	cpJSON, err := json.Marshal(checkpoints)
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoints: %w", err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	return []any{
		r.ID, r.FilePath, string(r.Status), string(tagsJSON), r.Summary, string(cpJSON),
		r.VerificationSnippet, r.Error, string(r.ErrorKind), r.RawReply, r.PageCount, r.Model,
		s.dialect.timeArg(created), s.dialect.timeArg(updated),
	}, nil
}

// Upsert inserts r or replaces every mutable column of the row with the same
// file_path. id and created_at of an existing row are kept.
func (s *Store) Upsert(ctx context.Context, r *domain.AnalysisRecord) error {
	args, err := s.recordArgs(r)
	if err != nil {
		return domain.WrapStorage("upsert", err)
	}
	q := s.dialect.bind(insertRecord + "\n" + s.dialect.UpsertRecord)
	_, err = s.db.ExecContext(ctx, q, args...)
	return domain.WrapStorage("upsert", err)
}

func (s *Store) CreateIfAbsent(ctx context.Context, r *domain.AnalysisRecord) (bool, error) {
	args, err := s.recordArgs(r)
	if err != nil {
		return false, domain.WrapStorage("create", err)
	}
	q := insertRecord
	if s.dialect.InsertIgnore != "" {
		q = s.dialect.InsertIgnore + q[len("INSERT"):]
	} else {
		q += "\n" + s.dialect.IgnoreConflict
	}
	res, err := s.db.ExecContext(ctx, s.dialect.bind(q), args...)
	if err != nil {
		return false, domain.WrapStorage("create", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.WrapStorage("create", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.AnalysisRecord, error) {
	var (
		r              domain.AnalysisRecord
		status, kind   string
		tagsJSON, cpJS string
	)
	if err := row.Scan(
		&r.ID, &r.FilePath, &status, &tagsJSON, &r.Summary, &cpJS,
		&r.VerificationSnippet, &r.Error, &kind, &r.RawReply, &r.PageCount, &r.Model,
		scanTime{&r.CreatedAt}, scanTime{&r.UpdatedAt},
	); err != nil {
		return nil, err
	}
	r.Status = domain.Status(status)
	r.ErrorKind = domain.ErrorKind(kind)
	r.Tags = map[string]string{}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags of %s: %w", r.FilePath, err)
		}
	}
	r.Checkpoints = []domain.Checkpoint{}
	if cpJS != "" {
		if err := json.Unmarshal([]byte(cpJS), &r.Checkpoints); err != nil {
			return nil, fmt.Errorf("decoding checkpoints of %s: %w", r.FilePath, err)
		}
	}
	return &r, nil
}

func (s *Store) getBy(ctx context.Context, column, value string) (*domain.AnalysisRecord, error) {
	q := s.dialect.bind(`SELECT ` + recordColumns + ` FROM analysis_records WHERE ` + column + ` = ? LIMIT 1`)
	r, err := scanRecord(s.db.QueryRowContext(ctx, q, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return r, domain.WrapStorage("get", err)
}

func (s *Store) Get(ctx context.Context, filePath string) (*domain.AnalysisRecord, error) {
	return s.getBy(ctx, "file_path", filePath)
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	return s.getBy(ctx, "id", id)
}

func (s *Store) ListAll(ctx context.Context) iter.Seq2[*domain.AnalysisRecord, error] {
	return func(yield func(*domain.AnalysisRecord, error) bool) {
		q := `SELECT ` + recordColumns + ` FROM analysis_records ORDER BY created_at DESC, id DESC`
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			yield(nil, domain.WrapStorage("list", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				yield(nil, domain.WrapStorage("list", err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, domain.WrapStorage("list", err))
		}
	}
}

// UpdateStatus sets status, error message and updated_at. An empty message
// also clears the error kind.
func (s *Store) UpdateStatus(ctx context.Context, filePath string, status domain.Status, message string, at time.Time) error {
	q := s.dialect.bind(`UPDATE analysis_records
SET status = ?, error = ?, error_kind = CASE WHEN ? = '' THEN '' ELSE error_kind END, updated_at = ?
WHERE file_path = ?`)
	res, err := s.db.ExecContext(ctx, q, string(status), message, message, s.dialect.timeArg(at), filePath)
	if err != nil {
		return domain.WrapStorage("update status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.WrapStorage("update status", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, filePath string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.bind(`DELETE FROM analysis_records WHERE file_path = ?`), filePath)
	if err != nil {
		return domain.WrapStorage("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.WrapStorage("delete", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT setting_key, setting_value FROM settings`)
	if err != nil {
		return nil, domain.WrapStorage("load settings", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, domain.WrapStorage("load settings", err)
		}
		out[k] = v
	}
	return out, domain.WrapStorage("load settings", rows.Err())
}

func (s *Store) SaveSetting(ctx context.Context, key, value string) error {
	q := s.dialect.bind(`INSERT INTO settings (setting_key, setting_value, updated_at) VALUES (?,?,?)
` + s.dialect.UpsertSetting)
	_, err := s.db.ExecContext(ctx, q, key, value, s.dialect.timeArg(time.Now()))
	return domain.WrapStorage("save setting", err)
}

var _ domain.Store = (*Store)(nil)
