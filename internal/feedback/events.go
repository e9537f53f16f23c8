package feedback

import (
	"slices"
	"sync"
	"time"

	"github.com/fankserver/discord-recitation-mcp/internal/tracker"
	"github.com/fankserver/discord-recitation-mcp/pkg/corpus"
	"github.com/sirupsen/logrus"
)

// EventType represents the type of event
type EventType string

const (
	// Recitation events
	EventVerseChecked     EventType = "recitation.verse.checked"
	EventJumpDetected     EventType = "recitation.jump.detected"
	EventChapterCompleted EventType = "recitation.chapter.completed"
	EventSessionCompleted EventType = "recitation.session.completed"
	EventPartial          EventType = "recitation.partial"

	// Recognizer events
	EventRecognizerWarning EventType = "recognizer.warning"

	// System events
	EventSessionCreated EventType = "session.created"
	EventSessionEnded   EventType = "session.ended"
)

// Advisory reports whether events of this type may be dropped under load
func (t EventType) Advisory() bool {
	return t == EventPartial
}

// Event represents a system event
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      interface{}
}

// SessionData is carried by session.created and session.ended
type SessionData struct {
	Chapter   int
	Source    string
	UserID    string
	ChannelID string
}

// SessionCompletedData is carried by recitation.session.completed
type SessionCompletedData struct {
	Position corpus.Ref
	Verses   int
	Correct  int
}

// WarningData is carried by recognizer.warning
type WarningData struct {
	Message string
}

// EventHandler is a function that handles events. Handlers run on the bus
// goroutine and must not publish.
type EventHandler func(event Event)

// EventBus delivers events to subscribers on a single goroutine, in the
// order they were published. Publish blocks for every event type except
// partial feedback, which is dropped when the buffer is full.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType]map[int]EventHandler
	allHandlers map[int]EventHandler
	nextID      int

	// sendMu is held for reading across every send so Stop can wait out
	// in-flight publishers before the consumer drains
	sendMu  sync.RWMutex
	stopped bool

	buffer   chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	metrics  *EventMetrics
}

// EventMetrics tracks event statistics
type EventMetrics struct {
	EventsPublished map[EventType]int64
	EventsDelivered int64
	EventsDropped   int64
	mu              sync.Mutex
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	eb := &EventBus{
		handlers:    make(map[EventType]map[int]EventHandler),
		allHandlers: make(map[int]EventHandler),
		buffer:      make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
		metrics: &EventMetrics{
			EventsPublished: make(map[EventType]int64),
		},
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe registers a handler for one event type and returns a function
// that removes it
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[int]EventHandler)
	}
	eb.handlers[eventType][id] = handler

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// SubscribeAll registers a handler for all events
func (eb *EventBus) SubscribeAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Publish queues an event for delivery. It reports false when the event was
// dropped, either because the bus is stopped or because an advisory event
// found the buffer full.
func (eb *EventBus) Publish(event Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.metrics.mu.Lock()
	eb.metrics.EventsPublished[event.Type]++
	eb.metrics.mu.Unlock()

	eb.sendMu.RLock()
	defer eb.sendMu.RUnlock()
	if eb.stopped {
		eb.drop(event)
		return false
	}

	if event.Type.Advisory() {
		select {
		case eb.buffer <- event:
			return true
		default:
			eb.drop(event)
			return false
		}
	}

	// the consumer runs until Stop, which cannot proceed while we hold sendMu
	eb.buffer <- event
	return true
}

func (eb *EventBus) drop(event Event) {
	eb.metrics.mu.Lock()
	eb.metrics.EventsDropped++
	eb.metrics.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"event_type": event.Type,
		"session_id": event.SessionID,
	}).Debug("Event dropped")
}

func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.buffer:
			eb.deliverEvent(event)

		case <-eb.stopCh:
			for {
				select {
				case event := <-eb.buffer:
					eb.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) deliverEvent(event Event) {
	eb.mu.RLock()
	targets := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, id := range sortedIDs(eb.handlers[event.Type]) {
		targets = append(targets, eb.handlers[event.Type][id])
	}
	for _, id := range sortedIDs(eb.allHandlers) {
		targets = append(targets, eb.allHandlers[id])
	}
	eb.mu.RUnlock()

	var delivered int64
	for _, h := range targets {
		if eb.invoke(h, event) {
			delivered++
		}
	}

	eb.metrics.mu.Lock()
	eb.metrics.EventsDelivered += delivered
	eb.metrics.mu.Unlock()
}

func (eb *EventBus) invoke(h EventHandler, event Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"event_type": event.Type,
				"panic":      r,
			}).Error("Event handler panic")
			ok = false
		}
	}()
	h(event)
	return true
}

// Stop delivers everything already queued and shuts the bus down. Publish
// calls made afterwards are dropped.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		eb.sendMu.Lock()
		eb.stopped = true
		eb.sendMu.Unlock()
		close(eb.stopCh)
	})
	eb.wg.Wait()
}

// GetMetrics returns event bus metrics
func (eb *EventBus) GetMetrics() EventMetrics {
	eb.metrics.mu.Lock()
	defer eb.metrics.mu.Unlock()

	metrics := EventMetrics{
		EventsPublished: make(map[EventType]int64),
		EventsDelivered: eb.metrics.EventsDelivered,
		EventsDropped:   eb.metrics.EventsDropped,
	}

	for k, v := range eb.metrics.EventsPublished {
		metrics.EventsPublished[k] = v
	}

	return metrics
}

func sortedIDs(m map[int]EventHandler) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Helper functions for common event publishing

// PublishVerseChecked publishes the outcome of one verse completion check
func (eb *EventBus) PublishVerseChecked(sessionID string, record tracker.VerseRecord) {
	eb.Publish(Event{
		Type:      EventVerseChecked,
		SessionID: sessionID,
		Data:      record,
	})
}

// PublishJumpDetected publishes a backward jump
func (eb *EventBus) PublishJumpDetected(sessionID string, record tracker.JumpRecord) {
	eb.Publish(Event{
		Type:      EventJumpDetected,
		SessionID: sessionID,
		Data:      record,
	})
}

// PublishChapterCompleted publishes a move to the next chapter
func (eb *EventBus) PublishChapterCompleted(sessionID string, transition tracker.ChapterTransition) {
	eb.Publish(Event{
		Type:      EventChapterCompleted,
		SessionID: sessionID,
		Data:      transition,
	})
}

// PublishSessionCompleted publishes the end of the text
func (eb *EventBus) PublishSessionCompleted(sessionID string, data SessionCompletedData) {
	eb.Publish(Event{
		Type:      EventSessionCompleted,
		SessionID: sessionID,
		Data:      data,
	})
}

// PublishPartial publishes advisory partial feedback
func (eb *EventBus) PublishPartial(sessionID string, fb tracker.PartialFeedback) {
	eb.Publish(Event{
		Type:      EventPartial,
		SessionID: sessionID,
		Data:      fb,
	})
}

// PublishWarning publishes a recognizer status message
func (eb *EventBus) PublishWarning(sessionID, message string) {
	eb.Publish(Event{
		Type:      EventRecognizerWarning,
		SessionID: sessionID,
		Data:      WarningData{Message: message},
	})
}

// PublishSession publishes session.created or session.ended
func (eb *EventBus) PublishSession(eventType EventType, sessionID string, data SessionData) {
	eb.Publish(Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}
