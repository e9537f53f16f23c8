package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueStopped is returned when the queue has been stopped
	ErrQueueStopped = errors.New("queue has been stopped")

	// ErrSuperseded is returned to a waiter whose partial was replaced by a
	// newer event before it was processed
	ErrSuperseded = errors.New("partial superseded by a newer event")
)

// Handler processes one event. Events are handed over strictly in
// submission order and never concurrently.
type Handler func(ctx context.Context, ev Event) (any, error)

// Worker is the single consumer of a Queue
type Worker struct {
	queue   *Queue
	handler Handler
	logger  *logrus.Entry
}

// NewWorker creates a new worker
func NewWorker(queue *Queue, handler Handler, logger *logrus.Entry) *Worker {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Worker{
		queue:   queue,
		handler: handler,
		logger:  logger,
	}
}

// Run processes events until the context is cancelled or the queue is
// stopped and drained
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("Worker started")
	defer w.logger.Debug("Worker stopped")

	for {
		ev, err := w.queue.Next(ctx)
		if err != nil {
			return
		}

		start := time.Now()
		value, err := w.handle(ctx, ev)
		w.queue.processed.Add(1)

		if err != nil {
			w.logger.WithError(err).WithField("kind", ev.Kind.String()).Warn("Event handler failed")
		}
		w.logger.WithFields(logrus.Fields{
			"kind":         ev.Kind.String(),
			"process_time": time.Since(start),
			"queue_delay":  start.Sub(ev.ReceivedAt),
		}).Debug("Event processed")

		if ev.done != nil {
			ev.done <- Result{Value: value, Err: err}
		}
	}
}

func (w *Worker) handle(ctx context.Context, ev Event) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return w.handler(ctx, ev)
}
