package ai

import (
	"context"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/document"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

// ModelConfig tunes a single analysis request.
type ModelConfig struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	// Detail is the image detail hint: low, high or auto.
	Detail string `yaml:"detail"`
}

// Result is the structured extraction returned by the model.
type Result struct {
	Tags                map[string]string    `json:"tags"`
	Summary             string               `json:"summary"`
	Checkpoints         []records.Checkpoint `json:"checkpoints"`
	VerificationSnippet string               `json:"verification_snippet"`
	Model               string               `json:"-"`
	Raw                 string               `json:"-"`
}

type Client interface {
	Analyze(ctx context.Context, pages []document.Page, cfg ModelConfig) (Result, error)
}

// KeySource supplies the current API credential at call time.
type KeySource interface {
	APIKey() string
}
