package audit

import (
	"context"
	"log/slog"
)

// Worker consumes audit events from a channel and persists them. Emission
// from domain logic stays non-blocking; a full inbox drops the event rather
// than stalling the caller.
type Worker struct {
	store  Appender
	inbox  chan Event
	logger *slog.Logger
}

func NewWorker(store Appender, bufferSize int, logger *slog.Logger) *Worker {
	return &Worker{
		store:  store,
		inbox:  make(chan Event, bufferSize),
		logger: logger,
	}
}

// Enqueue offers an event to the worker. Returns false if the inbox is full.
func (w *Worker) Enqueue(event Event) bool {
	select {
	case w.inbox <- event:
		return true
	default:
		w.logger.Warn("audit inbox full, dropping event", "action", event.Action)
		return false
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("append audit event", "action", event.Action, "error", err)
			}
		}
	}
}

// drain flushes events still queued at shutdown using a background context,
// since the run context is already cancelled.
func (w *Worker) drain() {
	for {
		select {
		case event := <-w.inbox:
			if err := w.store.Append(context.Background(), event); err != nil {
				w.logger.Error("append audit event during drain", "action", event.Action, "error", err)
			}
		default:
			return
		}
	}
}
