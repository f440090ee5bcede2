package records

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status of a record in the analysis lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusFinished, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further work is scheduled for the record.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Finished and Failed records go back to Pending only through a re-queue.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusFinished || next == StatusFailed
	case StatusFinished, StatusFailed:
		return next == StatusPending
	}
	return false
}

// ErrorKind classifies why a record failed.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindEmptyDocument     ErrorKind = "empty_document"
	KindRemoteService     ErrorKind = "remote_service"
	KindParse             ErrorKind = "parse"
	KindStorage           ErrorKind = "storage"
	KindInternal          ErrorKind = "internal"
)

// Checkpoint is a single verification item to check on the physical board.
type Checkpoint struct {
	Description string `json:"description"`
	Category    string `json:"category"`
}

// AnalysisRecord is the persisted analysis outcome for one source file.
type AnalysisRecord struct {
	ID                  string            `json:"id"`
	FilePath            string            `json:"file_path"`
	Status              Status            `json:"status"`
	Tags                map[string]string `json:"tags"`
	Summary             string            `json:"summary"`
	Checkpoints         []Checkpoint      `json:"checkpoints"`
	VerificationSnippet string            `json:"verification_snippet"`
	Error               string            `json:"error,omitempty"`
	ErrorKind           ErrorKind         `json:"error_kind,omitempty"`
	RawReply            string            `json:"raw_reply,omitempty"`
	PageCount           int               `json:"page_count"`
	Model               string            `json:"model,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// NewPending builds the record created on first sighting of a file.
func NewPending(path string, now time.Time) *AnalysisRecord {
	now = now.UTC().Truncate(time.Microsecond)
	return &AnalysisRecord{
		ID:          uuid.New().String(),
		FilePath:    path,
		Status:      StatusPending,
		Tags:        map[string]string{},
		Checkpoints: []Checkpoint{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Name is the base name of the source file, used for display.
func (r *AnalysisRecord) Name() string {
	return filepath.Base(r.FilePath)
}

// SupportedExtensions lists the file types that trigger analysis.
var SupportedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg"}

// Supported reports whether path has a recognized datasheet extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
