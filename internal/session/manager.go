package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fankserver/discord-recitation-mcp/internal/feedback"
	"github.com/fankserver/discord-recitation-mcp/internal/pipeline"
	"github.com/fankserver/discord-recitation-mcp/internal/tracker"
	"github.com/fankserver/discord-recitation-mcp/pkg/corpus"
	"github.com/fankserver/discord-recitation-mcp/pkg/similarity"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded is returned when submitting to an ended session
	ErrSessionEnded = errors.New("session ended")

	// ErrManagerClosed is returned by CreateSession after Close
	ErrManagerClosed = errors.New("session manager closed")

	// ErrUnsupportedFormat is returned by ExportSession for unknown formats
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusEnded     Status = "ended"
)

// Options describe a new recitation session
type Options struct {
	Chapter   int
	Source    string
	UserID    string
	ChannelID string
}

// Warning is a recognizer status message kept with the session
type Warning struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Message   string    `json:"message" yaml:"message"`
}

// Stats summarizes the verse history
type Stats struct {
	VersesChecked   int     `json:"versesChecked" yaml:"verses_checked"`
	VersesCorrect   int     `json:"versesCorrect" yaml:"verses_correct"`
	Jumps           int     `json:"jumps" yaml:"jumps"`
	AverageAccuracy float64 `json:"averageAccuracy" yaml:"average_accuracy"`
}

// Snapshot is a point-in-time copy of a session, safe to hand out
type Snapshot struct {
	ID           string                      `json:"id" yaml:"id"`
	Source       string                      `json:"source,omitempty" yaml:"source,omitempty"`
	UserID       string                      `json:"userId,omitempty" yaml:"user_id,omitempty"`
	ChannelID    string                      `json:"channelId,omitempty" yaml:"channel_id,omitempty"`
	StartChapter int                         `json:"startChapter" yaml:"start_chapter"`
	Status       Status                      `json:"status" yaml:"status"`
	Position     corpus.Ref                  `json:"position" yaml:"position"`
	Buffer       []string                    `json:"buffer" yaml:"buffer"`
	StartTime    time.Time                   `json:"startTime" yaml:"start_time"`
	EndTime      *time.Time                  `json:"endTime,omitempty" yaml:"end_time,omitempty"`
	Config       tracker.Config              `json:"config" yaml:"config"`
	Verses       []tracker.VerseRecord       `json:"verses" yaml:"verses"`
	Jumps        []tracker.JumpRecord        `json:"jumps" yaml:"jumps"`
	Chapters     []tracker.ChapterTransition `json:"chapters" yaml:"chapters"`
	Warnings     []Warning                   `json:"warnings" yaml:"warnings"`
	LastPartial  *tracker.PartialFeedback    `json:"lastPartial,omitempty" yaml:"last_partial,omitempty"`
	Stats        Stats                       `json:"stats" yaml:"stats"`
	Queue        pipeline.QueueMetrics       `json:"queue" yaml:"queue"`
}

// Session is one reciter working through the text. Its tracker is only
// touched by the session's worker goroutine; everything else is guarded by mu.
type Session struct {
	id        string
	opts      Options
	startTime time.Time
	tracker   *tracker.Tracker
	queue     *pipeline.Queue
	cancel    context.CancelFunc
	done      chan struct{}
	logger    *logrus.Entry

	mu          sync.RWMutex
	status      Status
	endTime     *time.Time
	position    corpus.Ref
	buffer      []string
	window      []string
	verses      []tracker.VerseRecord
	jumps       []tracker.JumpRecord
	chapters    []tracker.ChapterTransition
	warnings    []Warning
	lastPartial string
	feedback    *tracker.PartialFeedback
	config      tracker.Config
}

// Option configures a Manager
type Option func(*Manager)

// WithScorer sets the similarity function used by new sessions
func WithScorer(s similarity.Scorer) Option {
	return func(m *Manager) {
		m.scorer = s
	}
}

// WithTrackerConfig sets the thresholds used by new sessions
func WithTrackerConfig(cfg tracker.Config) Option {
	return func(m *Manager) {
		m.trackerConfig = cfg
	}
}

// WithEventBus publishes session activity on bus
func WithEventBus(bus *feedback.EventBus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithExportDir sets where ExportSession writes files
func WithExportDir(dir string) Option {
	return func(m *Manager) {
		m.exportDir = dir
	}
}

// WithQueueConfig sets the per-session event queue configuration
func WithQueueConfig(cfg pipeline.QueueConfig) Option {
	return func(m *Manager) {
		m.queueConfig = cfg
	}
}

// Manager handles recitation sessions
type Manager struct {
	corpus *corpus.Corpus
	bus    *feedback.EventBus
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.RWMutex
	closed        bool
	sessions      map[string]*Session
	scorer        similarity.Scorer
	trackerConfig tracker.Config
	queueConfig   pipeline.QueueConfig
	exportDir     string
}

// NewManager creates a new session manager over a loaded corpus
func NewManager(c *corpus.Corpus, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		corpus:        c,
		ctx:           ctx,
		cancel:        cancel,
		sessions:      make(map[string]*Session),
		scorer:        similarity.Ratio{},
		trackerConfig: tracker.DefaultConfig(),
		queueConfig:   pipeline.DefaultQueueConfig(),
		exportDir:     "exports",
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Corpus returns the reference text shared by all sessions
func (m *Manager) Corpus() *corpus.Corpus {
	return m.corpus
}

// SetTrackerConfig replaces the thresholds for sessions created afterwards
func (m *Manager) SetTrackerConfig(cfg tracker.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid tracker config: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackerConfig = cfg
	return nil
}

// TrackerConfig returns the thresholds new sessions will use
func (m *Manager) TrackerConfig() tracker.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trackerConfig
}

// CreateSession starts a session listening at verse 1 of opts.Chapter.
// The session outlives ctx; its worker runs until EndSession or Close.
func (m *Manager) CreateSession(ctx context.Context, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}

	id := uuid.New().String()
	logger := logrus.WithFields(logrus.Fields{
		"session_id": id,
		"source":     opts.Source,
	})

	tr, err := tracker.New(m.corpus, opts.Chapter,
		tracker.WithScorer(m.scorer),
		tracker.WithConfig(m.trackerConfig),
		tracker.WithLogger(logger),
	)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	workerCtx, cancel := context.WithCancel(m.ctx)
	s := &Session{
		id:        id,
		opts:      opts,
		startTime: time.Now(),
		tracker:   tr,
		queue:     pipeline.NewQueue(m.queueConfig),
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logger,
		status:    StatusActive,
		position:  tr.Position(),
		buffer:    []string{},
		window:    tr.ExpectedWindow(),
		config:    tr.Config(),
	}
	m.sessions[id] = s
	m.mu.Unlock()

	worker := pipeline.NewWorker(s.queue, m.handler(s), logger)
	go func() {
		defer close(s.done)
		worker.Run(workerCtx)
	}()

	logger.WithField("chapter", opts.Chapter).Info("Recitation session created")
	m.publishSession(feedback.EventSessionCreated, s)
	return id, nil
}

// SubmitFinal queues a finalized recognition result
func (m *Manager) SubmitFinal(ctx context.Context, id, text string) error {
	return m.submit(ctx, id, pipeline.Event{Kind: pipeline.KindFinal, Text: text})
}

// SubmitPartial queues an interim hypothesis
func (m *Manager) SubmitPartial(ctx context.Context, id, text string) error {
	return m.submit(ctx, id, pipeline.Event{Kind: pipeline.KindPartial, Text: text})
}

// SubmitWarning queues a recognizer status message
func (m *Manager) SubmitWarning(ctx context.Context, id, message string) error {
	return m.submit(ctx, id, pipeline.Event{Kind: pipeline.KindWarning, Text: message})
}

func (m *Manager) submit(ctx context.Context, id string, ev pipeline.Event) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := s.acceptable(ev.Kind); err != nil {
		return err
	}
	if err := s.queue.Submit(ctx, ev); err != nil {
		if errors.Is(err, pipeline.ErrQueueStopped) {
			return ErrSessionEnded
		}
		return err
	}
	return nil
}

// ProcessFinal applies a finalized result and waits for the tracker update
func (m *Manager) ProcessFinal(ctx context.Context, id, text string) (tracker.Update, error) {
	v, err := m.process(ctx, id, pipeline.Event{Kind: pipeline.KindFinal, Text: text})
	if err != nil {
		return tracker.Update{}, err
	}
	return v.(tracker.Update), nil
}

// ProcessPartial classifies a partial result and waits for the feedback.
// It reports false when the partial repeated the previous one and was
// ignored.
func (m *Manager) ProcessPartial(ctx context.Context, id, text string) (tracker.PartialFeedback, bool, error) {
	v, err := m.process(ctx, id, pipeline.Event{Kind: pipeline.KindPartial, Text: text})
	if err != nil {
		return tracker.PartialFeedback{}, false, err
	}
	fb, ok := v.(*tracker.PartialFeedback)
	if !ok || fb == nil {
		return tracker.PartialFeedback{}, false, nil
	}
	return *fb, true, nil
}

func (m *Manager) process(ctx context.Context, id string, ev pipeline.Event) (any, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := s.acceptable(ev.Kind); err != nil {
		return nil, err
	}
	v, err := s.queue.SubmitAndWait(ctx, ev)
	if errors.Is(err, pipeline.ErrQueueStopped) {
		return nil, ErrSessionEnded
	}
	return v, err
}

// handler applies queued events to the session's tracker, in order
func (m *Manager) handler(s *Session) pipeline.Handler {
	return func(_ context.Context, ev pipeline.Event) (any, error) {
		switch ev.Kind {
		case pipeline.KindFinal:
			return m.applyFinal(s, ev.Text), nil
		case pipeline.KindPartial:
			return m.applyPartial(s, ev.Text), nil
		case pipeline.KindWarning:
			m.applyWarning(s, ev.Text, ev.ReceivedAt)
			return nil, nil
		default:
			return nil, fmt.Errorf("unknown event kind %d", ev.Kind)
		}
	}
}

func (m *Manager) applyFinal(s *Session, text string) tracker.Update {
	wasDone := s.tracker.Done()
	u := s.tracker.HandleFinal(text)

	s.mu.Lock()
	s.position = u.Position
	s.buffer = u.Buffer
	s.window = s.tracker.ExpectedWindow()
	s.verses = append(s.verses, u.Verses...)
	if u.Jump != nil {
		s.jumps = append(s.jumps, *u.Jump)
	}
	s.chapters = append(s.chapters, u.Chapters...)
	completedNow := u.Completed && !wasDone
	if completedNow && s.status == StatusActive {
		s.status = StatusCompleted
	}
	stats := s.statsLocked()
	s.mu.Unlock()

	if m.bus == nil {
		return u
	}
	if u.Jump != nil {
		m.bus.PublishJumpDetected(s.id, *u.Jump)
	}
	for _, v := range u.Verses {
		m.bus.PublishVerseChecked(s.id, v)
	}
	for _, c := range u.Chapters {
		m.bus.PublishChapterCompleted(s.id, c)
	}
	if completedNow {
		m.bus.PublishSessionCompleted(s.id, feedback.SessionCompletedData{
			Position: u.Position,
			Verses:   stats.VersesChecked,
			Correct:  stats.VersesCorrect,
		})
	}
	return u
}

func (m *Manager) applyPartial(s *Session, text string) *tracker.PartialFeedback {
	text = strings.Join(strings.Fields(text), " ")

	s.mu.Lock()
	if text == s.lastPartial {
		s.mu.Unlock()
		return nil
	}
	s.lastPartial = text
	s.mu.Unlock()

	fb := s.tracker.HandlePartial(text)
	if len(fb.Words) == 0 {
		return nil
	}

	s.mu.Lock()
	s.feedback = &fb
	s.mu.Unlock()

	if m.bus != nil {
		m.bus.PublishPartial(s.id, fb)
	}
	return &fb
}

func (m *Manager) applyWarning(s *Session, message string, at time.Time) {
	s.mu.Lock()
	s.warnings = append(s.warnings, Warning{Timestamp: at, Message: message})
	s.mu.Unlock()

	s.logger.WithField("message", message).Warn("Recognizer warning")
	if m.bus != nil {
		m.bus.PublishWarning(s.id, message)
	}
}

// GetSession returns a snapshot of a session
func (m *Manager) GetSession(id string) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// ExpectedWords returns the current verse plus lookahead for a session, the
// text a recognizer can be primed with
func (m *Manager) ExpectedWords(id string) ([]string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.window))
	copy(out, s.window)
	return out, nil
}

// ListSessions returns snapshots of all sessions, oldest first
func (m *Manager) ListSessions() []Snapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].StartTime.Equal(snapshots[j].StartTime) {
			return snapshots[i].ID < snapshots[j].ID
		}
		return snapshots[i].StartTime.Before(snapshots[j].StartTime)
	})
	return snapshots
}

// EndSession stops a session's worker after it has drained queued events.
// The session stays available for GetSession and ExportSession.
func (m *Manager) EndSession(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.status == StatusEnded {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusEnded
	now := time.Now()
	s.endTime = &now
	s.mu.Unlock()

	s.queue.Stop()
	<-s.done
	s.cancel()

	s.logger.Info("Recitation session ended")
	m.publishSession(feedback.EventSessionEnded, s)
	return nil
}

// Close ends every session, after their queued events are handled, and
// rejects new ones
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.EndSession(id); err != nil {
			logrus.WithError(err).WithField("session_id", id).Warn("Failed to end session")
		}
	}
	m.cancel()
}

// MarshalSession encodes a snapshot as json or yaml
func MarshalSession(snap Snapshot, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return json.MarshalIndent(snap, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(snap)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ExportSession writes a session to the export directory and returns the
// file path
func (m *Manager) ExportSession(id, format string) (string, error) {
	snap, err := m.GetSession(id)
	if err != nil {
		return "", err
	}

	data, err := MarshalSession(snap, format)
	if err != nil {
		return "", err
	}

	ext := "json"
	if f := strings.ToLower(format); f == "yaml" || f == "yml" {
		ext = "yaml"
	}

	// #nosec G301 - Export directory needs to be readable for serving files
	if err := os.MkdirAll(m.exportDir, 0750); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	filename := fmt.Sprintf("session_%s_%s.%s", snap.ID, snap.StartTime.Format("20060102_150405"), ext)
	path := filepath.Join(m.exportDir, filename)

	// #nosec G306 - Export files need to be readable by the user
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("error writing file: %w", err)
	}

	return path, nil
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *Manager) publishSession(eventType feedback.EventType, s *Session) {
	if m.bus == nil {
		return
	}
	m.bus.PublishSession(eventType, s.id, feedback.SessionData{
		Chapter:   s.opts.Chapter,
		Source:    s.opts.Source,
		UserID:    s.opts.UserID,
		ChannelID: s.opts.ChannelID,
	})
}

// acceptable rejects events for sessions that can no longer use them
func (s *Session) acceptable(kind pipeline.Kind) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.status {
	case StatusEnded:
		return ErrSessionEnded
	case StatusCompleted:
		if kind != pipeline.KindWarning {
			return tracker.ErrSessionComplete
		}
	}
	return nil
}

func (s *Session) snapshot() Snapshot {
	queue := s.queue.GetMetrics()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:           s.id,
		Source:       s.opts.Source,
		UserID:       s.opts.UserID,
		ChannelID:    s.opts.ChannelID,
		StartChapter: s.opts.Chapter,
		Status:       s.status,
		Position:     s.position,
		Buffer:       append([]string{}, s.buffer...),
		StartTime:    s.startTime,
		EndTime:      s.endTime,
		Config:       s.config,
		Verses:       append([]tracker.VerseRecord{}, s.verses...),
		Jumps:        append([]tracker.JumpRecord{}, s.jumps...),
		Chapters:     append([]tracker.ChapterTransition{}, s.chapters...),
		Warnings:     append([]Warning{}, s.warnings...),
		Stats:        s.statsLocked(),
		Queue:        queue,
	}
	if s.feedback != nil {
		fb := *s.feedback
		snap.LastPartial = &fb
	}
	return snap
}

// statsLocked must be called with s.mu held
func (s *Session) statsLocked() Stats {
	st := Stats{
		VersesChecked: len(s.verses),
		Jumps:         len(s.jumps),
	}
	var total float64
	for _, v := range s.verses {
		if v.Correct {
			st.VersesCorrect++
		}
		total += v.Accuracy
	}
	if st.VersesChecked > 0 {
		st.AverageAccuracy = total / float64(st.VersesChecked)
	}
	return st
}
