package ai

import (
	"context"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/ai"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/document"
)

// Service pairs the page renderer with the model client. It holds no state
// beyond its collaborators and is safe for concurrent use.
type Service struct {
	Renderer document.Renderer
	Client   ai.Client
	Model    ai.ModelConfig
}

func NewService(r document.Renderer, c ai.Client, model ai.ModelConfig) *Service {
	return &Service{Renderer: r, Client: c, Model: model}
}

func (s *Service) Render(ctx context.Context, path string) ([]document.Page, error) {
	return s.Renderer.RenderPages(ctx, path)
}

func (s *Service) Analyze(ctx context.Context, pages []document.Page) (ai.Result, error) {
	return s.Client.Analyze(ctx, pages, s.Model)
}

// AnalyzeFile renders path and submits the pages. The model is not called
// when rendering fails.
func (s *Service) AnalyzeFile(ctx context.Context, path string) ([]document.Page, ai.Result, error) {
	pages, err := s.Render(ctx, path)
	if err != nil {
		return nil, ai.Result{}, err
	}
	res, err := s.Analyze(ctx, pages)
	return pages, res, err
}
