package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bryanwahyu/datasheet-lens/internal/application"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

type State string

const (
	StateIdle     State = "idle"
	StateWatching State = "watching"
)

// Registry creates the Pending record on first sighting.
type Registry interface {
	CreateIfAbsent(ctx context.Context, r *records.AnalysisRecord) (bool, error)
}

// Sink receives records the watcher created. TryEnqueue queues a path
// without waiting and is used when Submit fails.
type Sink interface {
	Submit(ctx context.Context, r *records.AnalysisRecord) error
	TryEnqueue(ctx context.Context, path string) error
}

type Options struct {
	// StableInterval and StableChecks: a file is ready once its size is
	// unchanged for StableChecks polls StableInterval apart.
	StableInterval time.Duration
	StableChecks   int
	Clock          application.Clock
	Logger         *slog.Logger
}

// Watcher observes one folder at a time. Files already present when
// watching starts are handled like new arrivals; the Registry keeps the
// outcome idempotent.
type Watcher struct {
	reg      Registry
	sink     Sink
	clock    application.Clock
	logger   *slog.Logger
	interval time.Duration
	checks   int

	// cfgMu serializes Reconfigure and Close.
	cfgMu    sync.Mutex
	mu       sync.Mutex
	state    State
	folder   string
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	settling map[string]struct{}
}

func New(reg Registry, sink Sink, opts Options) *Watcher {
	if opts.StableInterval <= 0 {
		opts.StableInterval = 500 * time.Millisecond
	}
	if opts.StableChecks <= 0 {
		opts.StableChecks = 2
	}
	if opts.Clock == nil {
		opts.Clock = application.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		reg:      reg,
		sink:     sink,
		clock:    opts.Clock,
		logger:   opts.Logger.With("component", "watcher"),
		interval: opts.StableInterval,
		checks:   opts.StableChecks,
		state:    StateIdle,
		settling: make(map[string]struct{}),
	}
}

// State reports the current state and watched folder.
func (w *Watcher) State() (State, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.folder
}

// Reconfigure stops watching the current folder and starts on folder. An
// empty folder leaves the watcher Idle. On error the watcher is Idle.
func (w *Watcher) Reconfigure(ctx context.Context, folder string) error {
	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()

	w.stop()
	if folder == "" {
		w.logger.Info("watcher idle")
		return nil
	}

	abs, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("resolving watch folder: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch folder %s is not a directory", abs)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fs watcher: %w", err)
	}
	if err := fw.Add(abs); err != nil {
		fw.Close()
		return fmt.Errorf("watching %s: %w", abs, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.mu.Lock()
	w.state, w.folder, w.cancel = StateWatching, abs, cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(runCtx, fw)
	}()
	w.scan(runCtx, abs)

	w.logger.Info("watching folder", "folder", abs)
	return nil
}

// Close stops watching and waits for in-progress checks to end.
func (w *Watcher) Close() error {
	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()
	w.stop()
	return nil
}

func (w *Watcher) stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.state, w.folder = StateIdle, ""
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.consider(ctx, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fs watcher error", "error", err)
		}
	}
}

// scan treats files already in folder as new arrivals.
func (w *Watcher) scan(ctx context.Context, folder string) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		w.logger.Warn("initial scan failed", "folder", folder, "error", err)
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			w.consider(ctx, filepath.Join(folder, e.Name()))
		}
	}
}

func (w *Watcher) consider(ctx context.Context, path string) {
	if !records.Supported(path) {
		return
	}
	w.mu.Lock()
	if _, busy := w.settling[path]; busy {
		w.mu.Unlock()
		return
	}
	w.settling[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.settling, path)
			w.mu.Unlock()
		}()
		if err := w.settle(ctx, path); err != nil {
			if !errors.Is(err, context.Canceled) {
				w.logger.Debug("file dropped before it settled", "file_path", path, "error", err)
			}
			return
		}
		w.register(ctx, path)
	}()
}

// settle waits until the size of path stops changing.
func (w *Watcher) settle(ctx context.Context, path string) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var prev int64 = -1
	stable := 0
	for {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s is not a regular file", path)
		}
		if info.Size() == prev {
			stable++
			if stable >= w.checks {
				return nil
			}
		} else {
			prev, stable = info.Size(), 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) register(ctx context.Context, path string) {
	rec := records.NewPending(path, w.clock.Now())
	created, err := w.reg.CreateIfAbsent(ctx, rec)
	if err != nil {
		w.logger.Error("registering file", "file_path", path, "error", err)
		return
	}
	if !created {
		w.logger.Debug("file already known", "file_path", path)
		return
	}
	w.logger.Info("new datasheet detected", "file_path", path, "record_id", rec.ID)
	err = w.sink.Submit(ctx, rec)
	if err == nil {
		return
	}
	// The record exists now, so a later sighting will not queue it again.
	if qerr := w.sink.TryEnqueue(context.WithoutCancel(ctx), path); qerr != nil {
		w.logger.Error("queueing detected file; record stays pending until requeued or the server restarts",
			"file_path", path,
			"record_id", rec.ID,
			"error", errors.Join(err, qerr))
		return
	}
	w.logger.Warn("queued detected file after submit failed", "file_path", path, "record_id", rec.ID, "error", err)
}
