package analysis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

const subscriberBufferSize = 64

type EventType string

const (
	EventQueued   EventType = "queued"
	EventStatus   EventType = "status"
	EventDeleted  EventType = "deleted"
	EventDetected EventType = "detected"
)

// Event tells presentation layers that a record changed.
type Event struct {
	Type      EventType         `json:"type"`
	RecordID  string            `json:"record_id,omitempty"`
	FilePath  string            `json:"file_path"`
	Status    records.Status    `json:"status,omitempty"`
	ErrorKind records.ErrorKind `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
}

// Broadcaster fans events out to every subscriber. Publish never blocks;
// events for a subscriber whose buffer is full are dropped.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	logger *slog.Logger
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[string]chan Event),
		logger: logger.With("component", "broadcaster"),
	}
}

// Subscribe returns a channel of events. The subscription ends and the
// channel is closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Event {
	id := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()
	b.logger.Debug("subscriber added", "sub_id", id)

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()
	return ch
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", id, "file_path", e.FilePath)
		}
	}
}

func (b *Broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
		b.logger.Debug("subscriber removed", "sub_id", id)
	}
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
