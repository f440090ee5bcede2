package records

import (
	"context"
	"iter"
	"time"
)

// Repository port (persistence of analysis records)
type Repository interface {
	Upsert(ctx context.Context, r *AnalysisRecord) error
	Get(ctx context.Context, filePath string) (*AnalysisRecord, error)
	GetByID(ctx context.Context, id string) (*AnalysisRecord, error)

	// CreateIfAbsent inserts r unless a record with the same file path exists.
	CreateIfAbsent(ctx context.Context, r *AnalysisRecord) (bool, error)

	// ListAll yields every record, newest first. Each range over the returned
	// sequence runs a fresh query.
	ListAll(ctx context.Context) iter.Seq2[*AnalysisRecord, error]

	UpdateStatus(ctx context.Context, filePath string, status Status, message string, at time.Time) error
	Delete(ctx context.Context, filePath string) error
	Ping(ctx context.Context) error
}

// Settings keys persisted by SettingsRepository.
const (
	SettingAPIKey      = "api_credential"
	SettingWatchFolder = "watch_folder_path"
)

// SettingsRepository port (small key/value configuration table)
type SettingsRepository interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSetting(ctx context.Context, key, value string) error
}

// Store groups both repositories; every database backend implements it.
type Store interface {
	Repository
	SettingsRepository
	Close() error
}

// ArtifactStore port (optional archive for diagnostics)
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Collect drains a ListAll sequence into a slice.
func Collect(seq iter.Seq2[*AnalysisRecord, error]) ([]*AnalysisRecord, error) {
	var out []*AnalysisRecord
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
