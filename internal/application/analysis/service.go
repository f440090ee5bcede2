package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bryanwahyu/datasheet-lens/internal/application"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/ai"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/document"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
	"github.com/bryanwahyu/datasheet-lens/internal/observability"
)

const DefaultQueueSize = 128

var (
	ErrQueueFull     = errors.New("analysis queue is full")
	ErrBusy          = errors.New("record is being analyzed")
	ErrWorkerRunning = errors.New("analysis worker already running")
)

// Pipeline renders a file and submits the pages to the model.
type Pipeline interface {
	Render(ctx context.Context, path string) ([]document.Page, error)
	Analyze(ctx context.Context, pages []document.Page) (ai.Result, error)
}

// Config carries the optional collaborators. Zero values fall back to
// defaults: system clock, no-op metrics, global tracer, slog.Default and no
// artifact archive.
type Config struct {
	QueueSize int
	Artifacts records.ArtifactStore
	Clock     application.Clock
	Metrics   observability.Recorder
	Tracer    trace.Tracer
	Logger    *slog.Logger
	Events    *Broadcaster
}

type mirrorEntry struct {
	status  records.Status
	kind    records.ErrorKind
	message string
	at      time.Time
}

// Service is the orchestrator: a single worker drains a bounded FIFO of file
// paths and drives each record through Processing to Finished or Failed.
// Per-file failures are recorded on the file's record and never stop the
// worker.
type Service struct {
	repo      records.Repository
	pipeline  Pipeline
	artifacts records.ArtifactStore
	clock     application.Clock
	metrics   observability.Recorder
	tracer    trace.Tracer
	logger    *slog.Logger
	events    *Broadcaster

	queue   chan string
	running atomic.Bool

	mu       sync.Mutex
	queued   map[string]struct{}
	inFlight string
	rerun    map[string]struct{}
	mirror   map[string]mirrorEntry
}

func NewService(repo records.Repository, pipeline Pipeline, cfg Config) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = application.SystemClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopRecorder{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.Tracer(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = NewBroadcaster(cfg.Logger)
	}
	return &Service{
		repo:      repo,
		pipeline:  pipeline,
		artifacts: cfg.Artifacts,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger.With("component", "analysis"),
		events:    cfg.Events,
		queue:     make(chan string, cfg.QueueSize),
		queued:    make(map[string]struct{}),
		rerun:     make(map[string]struct{}),
		mirror:    make(map[string]mirrorEntry),
	}
}

// Subscribe streams record change events until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context) <-chan Event {
	return s.events.Subscribe(ctx)
}

// QueueDepth is the number of paths waiting for the worker.
func (s *Service) QueueDepth() int { return len(s.queue) }

//
// ==== QUEUE ====
//

// markQueued reports false when path is already waiting in the queue.
func (s *Service) markQueued(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queued[path]; ok {
		return false
	}
	s.queued[path] = struct{}{}
	return true
}

func (s *Service) unmarkQueued(path string) {
	s.mu.Lock()
	delete(s.queued, path)
	s.mu.Unlock()
}

func (s *Service) enqueued(ctx context.Context, path string) {
	s.metrics.QueueDepthChanged(ctx, 1)
	s.events.Publish(Event{Type: EventQueued, FilePath: path, Status: records.StatusPending, At: s.clock.Now()})
}

// Enqueue appends path, waiting for room while ctx allows. A path already
// waiting is not added twice.
func (s *Service) Enqueue(ctx context.Context, path string) error {
	if !s.markQueued(path) {
		return nil
	}
	select {
	case s.queue <- path:
		s.enqueued(ctx, path)
		return nil
	case <-ctx.Done():
		s.unmarkQueued(path)
		return ctx.Err()
	}
}

// TryEnqueue is Enqueue without waiting; it fails with ErrQueueFull.
func (s *Service) TryEnqueue(ctx context.Context, path string) error {
	if !s.markQueued(path) {
		return nil
	}
	select {
	case s.queue <- path:
		s.enqueued(ctx, path)
		return nil
	default:
		s.unmarkQueued(path)
		return ErrQueueFull
	}
}

// Submit takes a freshly detected Pending record and queues it.
func (s *Service) Submit(ctx context.Context, rec *records.AnalysisRecord) error {
	s.metrics.RecordDetection(ctx)
	s.events.Publish(Event{
		Type:     EventDetected,
		RecordID: rec.ID,
		FilePath: rec.FilePath,
		Status:   rec.Status,
		At:       rec.UpdatedAt,
	})
	return s.Enqueue(ctx, rec.FilePath)
}

//
// ==== WORKER ====
//

// Run consumes the queue until ctx is cancelled. Only one Run may be active.
// An analysis already started when ctx is cancelled runs to completion.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	defer s.running.Store(false)

	s.logger.Info("worker started", "queue_size", cap(s.queue))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("worker stopped")
			return nil
		case path := <-s.queue:
			s.unmarkQueued(path)
			s.metrics.QueueDepthChanged(ctx, -1)
			s.process(context.WithoutCancel(ctx), path)
		}
	}
}

func (s *Service) setInFlight(path string) {
	s.mu.Lock()
	s.inFlight = path
	s.mu.Unlock()
}

func (s *Service) isInFlight(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight != "" && s.inFlight == path
}

// takeRerun reports and clears a requeue that arrived while path was being
// analyzed.
func (s *Service) takeRerun(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rerun[path]
	delete(s.rerun, path)
	return ok
}

func (s *Service) process(ctx context.Context, path string) {
	log := s.logger.With("file_path", path)
	rerun := s.takeRerun(path)

	s.setInFlight(path)
	defer s.setInFlight("")

	rec, err := s.repo.Get(ctx, path)
	if errors.Is(err, records.ErrNotFound) {
		log.Debug("record gone before processing")
		return
	}
	if err != nil {
		log.Error("loading record", "error", err)
		s.remember(path, mirrorEntry{status: records.StatusFailed, kind: records.KindStorage, message: err.Error(), at: s.clock.Now()})
		s.events.Publish(Event{Type: EventStatus, FilePath: path, Status: records.StatusFailed, ErrorKind: records.KindStorage, Error: err.Error(), At: s.clock.Now()})
		return
	}
	if !rerun && rec.Status != records.StatusPending && rec.Status != records.StatusProcessing {
		log.Debug("skipping stale request", "status", rec.Status)
		return
	}

	start := s.clock.Now()
	ctx, span := observability.StartAnalysisSpan(ctx, s.tracer, path, rec.ID)

	rec.Status = records.StatusProcessing
	rec.Error, rec.ErrorKind = "", records.KindNone
	rec.UpdatedAt = application.NextStamp(s.clock, rec.UpdatedAt)
	if err := s.repo.UpdateStatus(ctx, path, rec.Status, "", rec.UpdatedAt); err != nil {
		s.storageFailed(ctx, rec, err, start)
		observability.EndSpan(span, err)
		return
	}
	s.remember(path, mirrorEntry{status: rec.Status, at: rec.UpdatedAt})
	s.notify(rec)
	log.Info("analysis started", "record_id", rec.ID)

	var (
		pages []document.Page
		res   ai.Result
	)
	pages, err = s.pipeline.Render(ctx, path)
	if err == nil {
		observability.AddEvent(ctx, "rendered", attribute.Int("pages", len(pages)))
		res, err = s.pipeline.Analyze(ctx, pages)
	}

	raw := res.Raw
	if err != nil {
		raw = s.fail(rec, len(pages), err)
	} else {
		s.finish(rec, len(pages), res)
	}
	rec.UpdatedAt = application.NextStamp(s.clock, rec.UpdatedAt)

	if serr := s.repo.Upsert(ctx, rec); serr != nil {
		s.storageFailed(ctx, rec, serr, start)
		observability.EndSpan(span, serr)
		return
	}
	s.archive(ctx, rec, raw)
	s.remember(path, mirrorEntry{status: rec.Status, kind: rec.ErrorKind, message: rec.Error, at: rec.UpdatedAt})
	s.notify(rec)

	elapsed := s.clock.Now().Sub(start)
	s.metrics.RecordAnalysis(ctx, string(rec.Status), string(rec.ErrorKind), elapsed)
	observability.EndSpan(span, err)

	if err != nil {
		log.Warn("analysis failed", "record_id", rec.ID, "error_kind", rec.ErrorKind, "error", err)
		return
	}
	log.Info("analysis finished",
		"record_id", rec.ID,
		"pages", rec.PageCount,
		"tags", len(rec.Tags),
		"checkpoints", len(rec.Checkpoints),
		"duration", elapsed)
}

// fail moves rec to Failed and returns the raw reply worth archiving.
func (s *Service) fail(rec *records.AnalysisRecord, pages int, err error) string {
	rec.Status = records.StatusFailed
	rec.ErrorKind, rec.Error = Classify(err)
	rec.RawReply = ""
	if pages > 0 {
		rec.PageCount = pages
	}
	var pe *ai.ParseError
	if errors.As(err, &pe) {
		rec.RawReply = pe.Raw
	}
	return rec.RawReply
}

func (s *Service) finish(rec *records.AnalysisRecord, pages int, res ai.Result) {
	rec.Status = records.StatusFinished
	rec.Tags = res.Tags
	if rec.Tags == nil {
		rec.Tags = map[string]string{}
	}
	rec.Summary = res.Summary
	rec.Checkpoints = res.Checkpoints
	if rec.Checkpoints == nil {
		rec.Checkpoints = []records.Checkpoint{}
	}
	rec.VerificationSnippet = res.VerificationSnippet
	rec.Model = res.Model
	rec.PageCount = pages
	rec.Error, rec.ErrorKind, rec.RawReply = "", records.KindNone, ""
}

// storageFailed keeps the outcome visible in memory when the store rejects
// the write.
func (s *Service) storageFailed(ctx context.Context, rec *records.AnalysisRecord, err error, start time.Time) {
	at := application.NextStamp(s.clock, rec.UpdatedAt)
	s.logger.Error("storing analysis result", "file_path", rec.FilePath, "record_id", rec.ID, "error", err)
	s.remember(rec.FilePath, mirrorEntry{status: records.StatusFailed, kind: records.KindStorage, message: err.Error(), at: at})
	s.events.Publish(Event{
		Type:      EventStatus,
		RecordID:  rec.ID,
		FilePath:  rec.FilePath,
		Status:    records.StatusFailed,
		ErrorKind: records.KindStorage,
		Error:     err.Error(),
		At:        at,
	})
	s.metrics.RecordAnalysis(ctx, string(records.StatusFailed), string(records.KindStorage), s.clock.Now().Sub(start))
}

func (s *Service) archive(ctx context.Context, rec *records.AnalysisRecord, raw string) {
	if s.artifacts == nil || raw == "" {
		return
	}
	key := fmt.Sprintf("replies/%s/%s.txt", rec.ID, rec.UpdatedAt.UTC().Format("20060102T150405.000000Z"))
	if _, err := s.artifacts.Put(ctx, key, []byte(raw), "text/plain; charset=utf-8"); err != nil {
		s.logger.Warn("archiving model reply", "record_id", rec.ID, "key", key, "error", err)
	}
}

func (s *Service) notify(rec *records.AnalysisRecord) {
	s.events.Publish(Event{
		Type:      EventStatus,
		RecordID:  rec.ID,
		FilePath:  rec.FilePath,
		Status:    rec.Status,
		ErrorKind: rec.ErrorKind,
		Error:     rec.Error,
		At:        rec.UpdatedAt,
	})
}

// Classify maps a pipeline error to the kind and message stored on a
// Failed record.
func Classify(err error) (records.ErrorKind, string) {
	var (
		ue *document.UnsupportedFormatError
		ee *document.EmptyDocumentError
		re *ai.RemoteServiceError
		pe *ai.ParseError
		se *records.StorageError
	)
	switch {
	case err == nil:
		return records.KindNone, ""
	case errors.As(err, &ue):
		return records.KindUnsupportedFormat, err.Error()
	case errors.As(err, &ee):
		return records.KindEmptyDocument, err.Error()
	case errors.As(err, &re):
		if errors.Is(err, ai.ErrQuotaExceeded) {
			return records.KindRemoteService, "quota exceeded: " + re.Message
		}
		return records.KindRemoteService, err.Error()
	case errors.As(err, &pe):
		return records.KindParse, err.Error()
	case errors.As(err, &se):
		return records.KindStorage, err.Error()
	default:
		return records.KindInternal, err.Error()
	}
}

//
// ==== COMMANDS ====
//

// Requeue moves a Finished or Failed record back to Pending and queues it.
// Previous results stay visible until the new run overwrites them. When the
// queue is full the record is left Pending and ErrQueueFull is returned.
// A record under analysis is queued again and reanalyzed once the current
// run completes.
func (s *Service) Requeue(ctx context.Context, id string) (*records.AnalysisRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.requeueInFlight(rec.FilePath) {
		s.logger.Info("record requeued while in flight", "record_id", rec.ID, "file_path", rec.FilePath)
		if err := s.TryEnqueue(ctx, rec.FilePath); err != nil {
			s.mu.Lock()
			delete(s.rerun, rec.FilePath)
			s.mu.Unlock()
			return rec, err
		}
		return rec, nil
	}
	if rec.Status != records.StatusPending {
		at := application.NextStamp(s.clock, rec.UpdatedAt)
		if err := s.repo.UpdateStatus(ctx, rec.FilePath, records.StatusPending, "", at); err != nil {
			return nil, err
		}
		rec.Status, rec.Error, rec.ErrorKind, rec.UpdatedAt = records.StatusPending, "", records.KindNone, at
		s.remember(rec.FilePath, mirrorEntry{status: rec.Status, at: at})
		s.notify(rec)
	}
	s.logger.Info("record requeued", "record_id", rec.ID, "file_path", rec.FilePath)
	return rec, s.TryEnqueue(ctx, rec.FilePath)
}

// requeueInFlight flags path for another run when it is being analyzed.
func (s *Service) requeueInFlight(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight == "" || s.inFlight != path {
		return false
	}
	s.rerun[path] = struct{}{}
	return true
}

// Recover queues every Pending record, oldest first, and resets records
// left Processing by an interrupted run. It returns how many were queued.
func (s *Service) Recover(ctx context.Context) (int, error) {
	list, err := records.Collect(s.repo.ListAll(ctx))
	if err != nil {
		return 0, err
	}
	n := 0
	for i := len(list) - 1; i >= 0; i-- {
		rec := list[i]
		switch rec.Status {
		case records.StatusProcessing:
			at := application.NextStamp(s.clock, rec.UpdatedAt)
			if err := s.repo.UpdateStatus(ctx, rec.FilePath, records.StatusPending, "", at); err != nil {
				return n, err
			}
			s.logger.Info("resetting interrupted analysis", "file_path", rec.FilePath)
		case records.StatusPending:
		default:
			continue
		}
		if err := s.TryEnqueue(ctx, rec.FilePath); err != nil {
			s.logger.Warn("queue full during recovery; remaining records stay pending", "queued", n)
			break
		}
		n++
	}
	if n > 0 {
		s.logger.Info("recovered pending records", "count", n)
	}
	return n, nil
}

// Delete removes a record on user request. A record under analysis cannot
// be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if s.isInFlight(rec.FilePath) {
		return ErrBusy
	}
	if err := s.repo.Delete(ctx, rec.FilePath); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.mirror, rec.FilePath)
	s.mu.Unlock()
	s.events.Publish(Event{Type: EventDeleted, RecordID: rec.ID, FilePath: rec.FilePath, At: s.clock.Now()})
	s.logger.Info("record deleted", "record_id", rec.ID, "file_path", rec.FilePath)
	return nil
}

// ProcessFile registers path if needed and analyzes it synchronously. It is
// meant for one-shot use when no worker is running.
func (s *Service) ProcessFile(ctx context.Context, path string) (*records.AnalysisRecord, error) {
	if s.running.Load() {
		return nil, ErrWorkerRunning
	}
	created, err := s.repo.CreateIfAbsent(ctx, records.NewPending(path, s.clock.Now()))
	if err != nil {
		return nil, err
	}
	if !created {
		rec, err := s.repo.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if rec.Status != records.StatusPending {
			if err := s.repo.UpdateStatus(ctx, path, records.StatusPending, "", application.NextStamp(s.clock, rec.UpdatedAt)); err != nil {
				return nil, err
			}
		}
	}
	s.process(ctx, path)
	return s.Record(ctx, path, "")
}

//
// ==== MIRROR ====
//

func (s *Service) remember(path string, e mirrorEntry) {
	s.mu.Lock()
	s.mirror[path] = e
	s.mu.Unlock()
}

// overlay applies a newer in-memory status to rec and forgets entries the
// store has caught up with. Callers hold s.mu.
func (s *Service) overlay(rec *records.AnalysisRecord) {
	e, ok := s.mirror[rec.FilePath]
	if !ok {
		return
	}
	if !e.at.After(rec.UpdatedAt) {
		delete(s.mirror, rec.FilePath)
		return
	}
	rec.Status, rec.ErrorKind, rec.Error, rec.UpdatedAt = e.status, e.kind, e.message, e.at
}

// Snapshot lists every record newest first, reconciled with outcomes the
// store failed to persist.
func (s *Service) Snapshot(ctx context.Context) ([]*records.AnalysisRecord, error) {
	list, err := records.Collect(s.repo.ListAll(ctx))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(list))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range list {
		seen[rec.FilePath] = struct{}{}
		s.overlay(rec)
	}
	for path := range s.mirror {
		if _, ok := seen[path]; !ok {
			delete(s.mirror, path)
		}
	}
	return list, nil
}

// Record looks a record up by file path, or by id when path is empty, and
// applies the in-memory mirror.
func (s *Service) Record(ctx context.Context, path, id string) (*records.AnalysisRecord, error) {
	var (
		rec *records.AnalysisRecord
		err error
	)
	if path != "" {
		rec, err = s.repo.Get(ctx, path)
	} else {
		rec, err = s.repo.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.overlay(rec)
	s.mu.Unlock()
	return rec, nil
}

// List filters and pages the reconciled snapshot.
func (s *Service) List(ctx context.Context, f records.Filter) (records.PaginatedResult, error) {
	list, err := s.Snapshot(ctx)
	if err != nil {
		return records.PaginatedResult{}, err
	}
	return records.Paginate(list, f), nil
}

// Summary counts records by status and by manufacturer and part number.
func (s *Service) Summary(ctx context.Context) (records.Summary, error) {
	list, err := s.Snapshot(ctx)
	if err != nil {
		return records.Summary{}, err
	}
	return records.Summarize(list), nil
}
