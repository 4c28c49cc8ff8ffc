package audit

import (
	"context"
	"log/slog"
)

// BufferedPublisher decouples event emission from the downstream sink. Emit
// enqueues and returns immediately; a Worker drains the inbox in the
// background, so a slow broker never stalls a sync sweep. When the buffer is
// full the event is dropped and counted against the caller's logger.
type BufferedPublisher struct {
	inbox  chan Event
	logger *slog.Logger
}

// NewBufferedPublisher builds a publisher with the given buffer capacity.
func NewBufferedPublisher(capacity int, logger *slog.Logger) *BufferedPublisher {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BufferedPublisher{inbox: make(chan Event, capacity), logger: logger}
}

func (p *BufferedPublisher) Emit(ctx context.Context, event Event) error {
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit buffer full, dropping event",
			"action", event.Action, "entity_id", event.EntityID)
	}
	return nil
}

// Worker drains a BufferedPublisher's inbox into the real sink.
type Worker struct {
	source *BufferedPublisher
	sink   Publisher
	logger *slog.Logger
}

// NewWorker wires a buffered publisher to its downstream sink.
func NewWorker(source *BufferedPublisher, sink Publisher, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{source: source, sink: sink, logger: logger}
}

// Run consumes events until the context is cancelled. Sink failures are
// logged, not returned: losing an audit record must not stop the drain loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.source.inbox:
			if err := w.sink.Emit(ctx, event); err != nil {
				w.logger.Error("audit sink emit failed",
					"action", event.Action, "entity_id", event.EntityID, "error", err)
			}
		}
	}
}
