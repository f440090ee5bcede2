package analysis

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/ai"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/document"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

// memRepo is an in-memory records.Repository.
type memRepo struct {
	mu         sync.Mutex
	byPath     map[string]records.AnalysisRecord
	failUpsert error
}

func newMemRepo() *memRepo {
	return &memRepo{byPath: map[string]records.AnalysisRecord{}}
}

func clone(r records.AnalysisRecord) *records.AnalysisRecord {
	tags := make(map[string]string, len(r.Tags))
	for k, v := range r.Tags {
		tags[k] = v
	}
	r.Tags = tags
	r.Checkpoints = append([]records.Checkpoint{}, r.Checkpoints...)
	return &r
}

func (m *memRepo) put(r *records.AnalysisRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPath[r.FilePath] = *clone(*r)
}

func (m *memRepo) Upsert(_ context.Context, r *records.AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert != nil {
		return records.WrapStorage("upsert", m.failUpsert)
	}
	if prev, ok := m.byPath[r.FilePath]; ok {
		c := clone(*r)
		c.ID, c.CreatedAt = prev.ID, prev.CreatedAt
		m.byPath[r.FilePath] = *c
		return nil
	}
	m.byPath[r.FilePath] = *clone(*r)
	return nil
}

func (m *memRepo) Get(_ context.Context, path string) (*records.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byPath[path]
	if !ok {
		return nil, records.ErrNotFound
	}
	return clone(r), nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*records.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byPath {
		if r.ID == id {
			return clone(r), nil
		}
	}
	return nil, records.ErrNotFound
}

func (m *memRepo) CreateIfAbsent(_ context.Context, r *records.AnalysisRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byPath[r.FilePath]; ok {
		return false, nil
	}
	m.byPath[r.FilePath] = *clone(*r)
	return true, nil
}

func (m *memRepo) ListAll(context.Context) iter.Seq2[*records.AnalysisRecord, error] {
	return func(yield func(*records.AnalysisRecord, error) bool) {
		m.mu.Lock()
		list := make([]*records.AnalysisRecord, 0, len(m.byPath))
		for _, r := range m.byPath {
			list = append(list, clone(r))
		}
		m.mu.Unlock()
		sort.Slice(list, func(i, j int) bool {
			if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
				return list[i].CreatedAt.After(list[j].CreatedAt)
			}
			return list[i].ID > list[j].ID
		})
		for _, r := range list {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (m *memRepo) UpdateStatus(_ context.Context, path string, st records.Status, msg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byPath[path]
	if !ok {
		return records.ErrNotFound
	}
	r.Status, r.Error, r.UpdatedAt = st, msg, at
	if msg == "" {
		r.ErrorKind = records.KindNone
	}
	m.byPath[path] = r
	return nil
}

func (m *memRepo) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byPath[path]; !ok {
		return records.ErrNotFound
	}
	delete(m.byPath, path)
	return nil
}

func (m *memRepo) Ping(context.Context) error { return nil }

// stubPipeline records calls and tracks concurrent analyses.
type stubPipeline struct {
	render  func(path string) ([]document.Page, error)
	analyze func(pages []document.Page) (ai.Result, error)
	delay   time.Duration

	mu          sync.Mutex
	analyzed    []string
	active, max int
}

func okPages(path string) ([]document.Page, error) {
	return []document.Page{
		{Number: 1, MIME: "image/png", Data: []byte(path)},
		{Number: 2, MIME: "image/png", Data: []byte(path)},
	}, nil
}

func okResult([]document.Page) (ai.Result, error) {
	return ai.Result{
		Tags:                map[string]string{"part_number": "LM2596"},
		Summary:             "Buck regulator.",
		Checkpoints:         []records.Checkpoint{{Description: "Schottky diode close to SW", Category: "layout"}},
		VerificationSnippet: "assert d1.near('SW')",
		Model:               "gpt-4o",
		Raw:                 `{"summary":"Buck regulator."}`,
	}, nil
}

func (p *stubPipeline) Render(_ context.Context, path string) ([]document.Page, error) {
	if p.render == nil {
		return okPages(path)
	}
	return p.render(path)
}

func (p *stubPipeline) Analyze(_ context.Context, pages []document.Page) (ai.Result, error) {
	p.mu.Lock()
	p.active++
	if p.active > p.max {
		p.max = p.active
	}
	if len(pages) > 0 {
		p.analyzed = append(p.analyzed, string(pages[0].Data))
	}
	p.mu.Unlock()

	time.Sleep(p.delay)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	if p.analyze == nil {
		return okResult(pages)
	}
	return p.analyze(pages)
}

func (p *stubPipeline) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.analyzed...)
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// memArtifacts captures archived replies.
type memArtifacts struct {
	mu   sync.Mutex
	keys map[string]string
}

func (a *memArtifacts) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.keys == nil {
		a.keys = map[string]string{}
	}
	a.keys[key] = string(data)
	return "mem://" + key, nil
}

var errDiskFull = errors.New("disk full")
