package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/state"
)

const (
	defaultWriterBuffer = 256
	writeTimeout        = 5 * time.Second
)

// HistoryWriter persists turns off the request path. A single worker
// drains the queue, so turns are stored in the order they were enqueued.
// Write failures are logged and dropped.
type HistoryWriter struct {
	store  state.HistoryStore
	logger zerolog.Logger

	queue chan []state.Turn
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewHistoryWriter(store state.HistoryStore, buffer int, logger zerolog.Logger) *HistoryWriter {
	if buffer <= 0 {
		buffer = defaultWriterBuffer
	}
	w := &HistoryWriter{
		store:  store,
		logger: logger,
		queue:  make(chan []state.Turn, buffer),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue schedules turns to be written together, in order. After Close
// it writes synchronously.
func (w *HistoryWriter) Enqueue(turns ...state.Turn) {
	if len(turns) == 0 {
		return
	}
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		w.write(turns)
		return
	}
	w.queue <- turns
	w.mu.RUnlock()
}

// Close stops accepting work and waits for queued turns to be written.
func (w *HistoryWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}

func (w *HistoryWriter) run() {
	defer close(w.done)
	for turns := range w.queue {
		w.write(turns)
	}
}

func (w *HistoryWriter) write(turns []state.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	for _, t := range turns {
		if _, err := w.store.Append(ctx, t); err != nil {
			w.logger.Error().Err(err).
				Str(xlog.FieldBotID, t.BotID).
				Str(xlog.FieldSessionID, t.SessionID).
				Str(xlog.FieldIncident, "chat_history").
				Msg("failed to persist chat turn")
		}
	}
}
