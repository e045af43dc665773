// Package session holds the observable state of a scrape run: its lifecycle
// state, progress percentage, current stage label, bounded log tail, and
// final result. Writers are the run worker; readers are status requests,
// which only ever see consistent copies.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadswipe/leadswipe-api/engine/domain"
)

// State is the lifecycle state of a run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Session is one run. Create it with New; it starts in StateRunning.
type Session struct {
	id        string
	startedAt time.Time

	mu         sync.RWMutex
	state      State
	stage      string
	sources    []domain.Source
	result     *domain.RunResult
	errMsg     string
	finishedAt time.Time

	progress Progress
	done     chan struct{}
	log      *LogBuffer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the wall clock used for timestamps, log lines
// included.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogCapacity overrides DefaultLogCapacity.
func WithLogCapacity(n int) Option {
	return func(s *Session) {
		s.log = NewLogBuffer(n)
	}
}

// WithSources records the sources selected up front.
func WithSources(sources []domain.Source) Option {
	return func(s *Session) { s.sources = sources }
}

// New creates a running session. Every log line is mirrored to logger.
func New(id string, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:     id,
		state:  StateRunning,
		stage:  "Starting",
		done:   make(chan struct{}),
		log:    NewLogBuffer(DefaultLogCapacity),
		logger: logger.With("session_id", id),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log.now = s.now
	s.startedAt = s.now()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Logf appends a formatted line to the run log.
func (s *Session) Logf(format string, args ...any) {
	e := s.log.Append(fmt.Sprintf(format, args...))
	s.logger.Info(e.Message, "progress", s.progress.Value())
}

// Advance moves progress forward and, if stage is non-empty, updates the
// stage label. Snapshots see both or neither.
func (s *Session) Advance(pct int, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Advance(pct)
	if stage != "" {
		s.stage = stage
	}
}

// Succeed moves a running session to StateSucceeded.
func (s *Session) Succeed(res domain.RunResult) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateSucceeded
	s.stage = "Done"
	s.result = &res
	s.finishedAt = s.now()
	s.progress.Finish()
	close(s.done)
	s.mu.Unlock()
}

// Fail moves a running session to StateFailed, recording err in the log.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.stage = "Failed: " + err.Error()
	s.errMsg = err.Error()
	s.finishedAt = s.now()
	s.progress.Finish()
	s.log.Append("Error: " + err.Error())
	close(s.done)
	s.mu.Unlock()
	s.logger.Error("run failed", "err", err)
}

// Snapshot is a point-in-time copy of a session, safe to serialize.
type Snapshot struct {
	SessionID  string            `json:"session_id,omitempty"`
	State      State             `json:"state"`
	IsRunning  bool              `json:"is_running"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Sources    []string          `json:"groups"`
	Stage      string            `json:"current_step"`
	Progress   int               `json:"progress"`
	Logs       []LogEntry        `json:"logs"`
	Result     *domain.RunResult `json:"last_result,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// IdleSnapshot is reported before any run has been requested.
func IdleSnapshot() Snapshot {
	return Snapshot{State: StateIdle, Sources: []string{}, Logs: []LogEntry{}}
}

// Snapshot returns a consistent copy of the session. Terminal transitions
// hold the write lock while finishing progress, so a terminal snapshot
// always reports 100.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	started := s.startedAt
	snap := Snapshot{
		SessionID: s.id,
		State:     s.state,
		IsRunning: s.state == StateRunning,
		StartedAt: &started,
		Sources:   make([]string, len(s.sources)),
		Stage:     s.stage,
		Progress:  s.progress.Value(),
		Logs:      s.log.Entries(),
		Error:     s.errMsg,
	}
	for i, src := range s.sources {
		snap.Sources[i] = src.Name
	}
	if !s.finishedAt.IsZero() {
		finished := s.finishedAt
		snap.FinishedAt = &finished
	}
	if s.result != nil {
		res := *s.result
		res.SourcesScraped = append([]string(nil), s.result.SourcesScraped...)
		snap.Result = &res
	}
	return snap
}
