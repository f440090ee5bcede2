package watcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

type memRegistry struct {
	mu    sync.Mutex
	paths map[string]bool
}

func (m *memRegistry) CreateIfAbsent(_ context.Context, r *records.AnalysisRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paths[r.FilePath] {
		return false, nil
	}
	m.paths[r.FilePath] = true
	return true, nil
}

type chanSink chan *records.AnalysisRecord

func (c chanSink) Submit(_ context.Context, r *records.AnalysisRecord) error {
	c <- r
	return nil
}

func (c chanSink) TryEnqueue(context.Context, string) error { return nil }

// rejectingSink fails every Submit and reports fallback attempts on queued.
type rejectingSink struct {
	queued   chan string
	queueErr error
}

func (s *rejectingSink) Submit(context.Context, *records.AnalysisRecord) error {
	return errors.New("queue wait cancelled")
}

func (s *rejectingSink) TryEnqueue(ctx context.Context, path string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.queued <- path
	return s.queueErr
}

func newTestWatcher(t *testing.T) (*Watcher, *memRegistry, chanSink) {
	t.Helper()
	sink := make(chanSink, 16)
	w, reg := newWatcherWith(t, sink, Options{StableInterval: 10 * time.Millisecond, StableChecks: 2})
	return w, reg, sink
}

func newWatcherWith(t *testing.T, sink Sink, opts Options) (*Watcher, *memRegistry) {
	t.Helper()
	reg := &memRegistry{paths: map[string]bool{}}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := New(reg, sink, opts)
	t.Cleanup(func() { w.Close() })
	return w, reg
}

func expectSubmit(t *testing.T, sink chanSink) *records.AnalysisRecord {
	t.Helper()
	select {
	case r := <-sink:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no file submitted")
		return nil
	}
}

func expectQuiet(t *testing.T, sink chanSink) {
	t.Helper()
	select {
	case r := <-sink:
		t.Fatalf("unexpected submit of %s", r.FilePath)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDetectsNewFileOnce(t *testing.T) {
	w, _, sink := newTestWatcher(t)
	dir := t.TempDir()
	require.NoError(t, w.Reconfigure(t.Context(), dir))

	state, folder := w.State()
	assert.Equal(t, StateWatching, state)
	assert.Equal(t, dir, folder)

	path := filepath.Join(dir, "regulator.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 body"), 0o644))

	r := expectSubmit(t, sink)
	assert.Equal(t, path, r.FilePath)
	assert.Equal(t, records.StatusPending, r.Status)

	// touching the file again must not create a second record
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 body, rewritten"), 0o644))
	expectQuiet(t, sink)
}

func TestIgnoresUnsupportedFiles(t *testing.T) {
	w, _, sink := newTestWatcher(t)
	dir := t.TempDir()
	require.NoError(t, w.Reconfigure(t.Context(), dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.pdf"), 0o755))
	expectQuiet(t, sink)
}

func TestInitialScan(t *testing.T) {
	w, _, sink := newTestWatcher(t)
	dir := t.TempDir()
	existing := filepath.Join(dir, "pinout.PNG")
	require.NoError(t, os.WriteFile(existing, []byte("png"), 0o644))

	require.NoError(t, w.Reconfigure(t.Context(), dir))
	assert.Equal(t, existing, expectSubmit(t, sink).FilePath)
}

func TestKnownFilesAreNotResubmitted(t *testing.T) {
	w, reg, sink := newTestWatcher(t)
	dir := t.TempDir()
	known := filepath.Join(dir, "known.pdf")
	require.NoError(t, os.WriteFile(known, []byte("pdf"), 0o644))
	reg.paths[known] = true

	require.NoError(t, w.Reconfigure(t.Context(), dir))
	expectQuiet(t, sink)
}

func TestReconfigure(t *testing.T) {
	w, _, sink := newTestWatcher(t)
	first, second := t.TempDir(), t.TempDir()

	require.NoError(t, w.Reconfigure(t.Context(), first))
	require.NoError(t, w.Reconfigure(t.Context(), second))

	require.NoError(t, os.WriteFile(filepath.Join(first, "old.pdf"), []byte("x"), 0o644))
	expectQuiet(t, sink)
	require.NoError(t, os.WriteFile(filepath.Join(second, "new.pdf"), []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(second, "new.pdf"), expectSubmit(t, sink).FilePath)

	require.NoError(t, w.Reconfigure(t.Context(), ""))
	state, _ := w.State()
	assert.Equal(t, StateIdle, state)

	assert.Error(t, w.Reconfigure(t.Context(), filepath.Join(second, "missing")))
	state, _ = w.State()
	assert.Equal(t, StateIdle, state)
}

func TestWaitsForGrowingFileToSettle(t *testing.T) {
	sink := make(chanSink, 4)
	w, _ := newWatcherWith(t, sink, Options{StableInterval: 40 * time.Millisecond, StableChecks: 3})
	dir := t.TempDir()
	require.NoError(t, w.Reconfigure(t.Context(), dir))

	path := filepath.Join(dir, "growing.pdf")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	// keep appending for many poll intervals; the size never holds still
	// long enough to count as settled
	for i := range 60 {
		_, err := f.Write([]byte("%PDF chunk\n"))
		require.NoError(t, err)
		select {
		case r := <-sink:
			t.Fatalf("submitted %s after %d appends while still growing", r.FilePath, i+1)
		default:
		}
		time.Sleep(10 * time.Millisecond)
	}
	info, err := f.Stat()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := expectSubmit(t, sink)
	assert.Equal(t, path, r.FilePath)
	final, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), final.Size())
	expectQuiet(t, sink)
}

func TestSubmitFailureFallsBackToQueue(t *testing.T) {
	sink := &rejectingSink{queued: make(chan string, 1)}
	w, reg := newWatcherWith(t, sink, Options{StableInterval: 10 * time.Millisecond, StableChecks: 2})
	dir := t.TempDir()
	require.NoError(t, w.Reconfigure(t.Context(), dir))

	path := filepath.Join(dir, "fallback.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	select {
	case got := <-sink.queued:
		assert.Equal(t, path, got)
	case <-time.After(3 * time.Second):
		t.Fatal("no fallback enqueue")
	}
	reg.mu.Lock()
	assert.True(t, reg.paths[path])
	reg.mu.Unlock()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSubmitFailureIsLoggedAsError(t *testing.T) {
	var logs syncBuffer
	sink := &rejectingSink{queued: make(chan string, 1), queueErr: errors.New("analysis queue is full")}
	w, _ := newWatcherWith(t, sink, Options{
		StableInterval: 10 * time.Millisecond,
		StableChecks:   2,
		Logger:         slog.New(slog.NewTextHandler(&logs, nil)),
	})
	dir := t.TempDir()
	require.NoError(t, w.Reconfigure(t.Context(), dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stuck.pdf"), []byte("%PDF"), 0o644))

	select {
	case <-sink.queued:
	case <-time.After(3 * time.Second):
		t.Fatal("no fallback enqueue")
	}
	assert.Eventually(t, func() bool {
		out := logs.String()
		return strings.Contains(out, "level=ERROR") &&
			strings.Contains(out, "record stays pending until requeued or the server restarts") &&
			strings.Contains(out, "analysis queue is full")
	}, 2*time.Second, 10*time.Millisecond)
}
