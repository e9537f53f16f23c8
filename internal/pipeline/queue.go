package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind distinguishes recognizer events
type Kind int

const (
	// KindFinal is a finalized recognition result
	KindFinal Kind = iota
	// KindPartial is an interim hypothesis
	KindPartial
	// KindWarning is a recognizer status message
	KindWarning
)

func (k Kind) String() string {
	switch k {
	case KindFinal:
		return "final"
	case KindPartial:
		return "partial"
	case KindWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Event is one recognizer output awaiting the tracker
type Event struct {
	Kind       Kind
	Text       string
	ReceivedAt time.Time

	done chan Result
}

// Result is what the handler produced for an event submitted with
// SubmitAndWait
type Result struct {
	Value any
	Err   error
}

// QueueConfig holds queue configuration
type QueueConfig struct {
	Size int `mapstructure:"size"`
}

// DefaultQueueConfig returns default configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Size: 64,
	}
}

// QueueMetrics tracks queue activity
type QueueMetrics struct {
	EventsQueued       int64 `json:"eventsQueued" yaml:"events_queued"`
	EventsProcessed    int64 `json:"eventsProcessed" yaml:"events_processed"`
	PartialsSuperseded int64 `json:"partialsSuperseded" yaml:"partials_superseded"`
	Depth              int   `json:"depth" yaml:"depth"`
}

// Queue is a FIFO of recognizer events with a single consumer.
//
// Finals and warnings are never dropped: Submit blocks while the queue is
// full. A partial still waiting at the tail is stale as soon as anything
// newer arrives, so a new partial replaces it and a final removes it.
type Queue struct {
	mu      sync.Mutex
	items   []Event
	size    int
	stopped bool

	ready  chan struct{}
	space  chan struct{}
	stopCh chan struct{}

	queued     atomic.Int64
	processed  atomic.Int64
	superseded atomic.Int64
}

// NewQueue creates an empty queue
func NewQueue(config QueueConfig) *Queue {
	if config.Size <= 0 {
		config.Size = DefaultQueueConfig().Size
	}
	return &Queue{
		items:  make([]Event, 0, config.Size),
		size:   config.Size,
		ready:  make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Submit enqueues an event, blocking while the queue is full
func (q *Queue) Submit(ctx context.Context, ev Event) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return ErrQueueStopped
		}

		if n := len(q.items); n > 0 && q.items[n-1].Kind == KindPartial && ev.Kind != KindWarning {
			stale := q.items[n-1]
			q.items = q.items[:n-1]
			q.supersede(stale)
		}

		if len(q.items) < q.size {
			q.items = append(q.items, ev)
			hasSpace := len(q.items) < q.size
			q.mu.Unlock()

			q.queued.Add(1)
			signal(q.ready)
			if hasSpace {
				signal(q.space)
			}
			logrus.WithFields(logrus.Fields{
				"kind":   ev.Kind.String(),
				"length": len(ev.Text),
			}).Debug("Recognizer event queued")
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-ctx.Done():
			return ctx.Err()
		case <-q.stopCh:
			return ErrQueueStopped
		}
	}
}

// SubmitAndWait enqueues an event and waits for the handler's result
func (q *Queue) SubmitAndWait(ctx context.Context, ev Event) (any, error) {
	ev.done = make(chan Result, 1)
	if err := q.Submit(ctx, ev); err != nil {
		return nil, err
	}

	select {
	case res := <-ev.done:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Next removes the oldest event, blocking until one is available. After
// Stop it keeps returning queued events and then ErrQueueStopped.
func (q *Queue) Next(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			signal(q.space)
			return ev, nil
		}
		stopped := q.stopped
		q.mu.Unlock()

		if stopped {
			return Event{}, ErrQueueStopped
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.stopCh:
		}
	}
}

// Stop rejects further submissions. Events already queued can still be
// drained with Next.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.stopCh)
}

// Depth returns the number of queued events
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetMetrics returns current queue metrics
func (q *Queue) GetMetrics() QueueMetrics {
	return QueueMetrics{
		EventsQueued:       q.queued.Load(),
		EventsProcessed:    q.processed.Load(),
		PartialsSuperseded: q.superseded.Load(),
		Depth:              q.Depth(),
	}
}

// supersede must be called with q.mu held
func (q *Queue) supersede(ev Event) {
	q.superseded.Add(1)
	if ev.done != nil {
		ev.done <- Result{Err: ErrSuperseded}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
