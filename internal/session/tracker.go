// Package session owns the per-exam-attempt state: tab-switch counters,
// sustained-violation cycle state, and the lock/termination decision. All
// mutable state for one attempt is owned by its Session and guarded by a
// single mutex; nothing is shared across attempts.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/invigilo-ai/sentinel/internal/evaluate"
	"go.uber.org/zap"
)

// ErrEnded is returned by mutating operations on an ended session.
var ErrEnded = errors.New("session already ended")

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Record is the durable mirror of a session's state. The in-memory session
// stays authoritative; the mirror is best-effort.
type Record struct {
	ID             string
	UserID         string
	CourseID       string
	StartedAt      time.Time
	EndedAt        *time.Time
	EndReason      string
	TabSwitchCount int
	ViolationCount int
	Locked         bool
}

// Mirror persists session state transitions. Implementations must not
// assume calls succeed in order; each call is independent. Errors are
// logged by the tracker and never surfaced to exam flow.
type Mirror interface {
	CreateSession(ctx context.Context, rec Record) error
	UpdateSession(ctx context.Context, rec Record) error
	MarkEnded(ctx context.Context, id, reason string, at time.Time) error
}

// Config holds the per-session limits resolved at start time from the
// course's overrides.
type Config struct {
	Evaluate       evaluate.Config
	MaxTabSwitches int
	GraceDelay     time.Duration
}

// Session is one exam attempt. Mutated only through its methods.
type Session struct {
	ID        string
	UserID    string
	CourseID  string
	StartedAt time.Time

	cfg     Config
	mirror  Mirror
	logger  *zap.Logger
	onEnded func(id string)

	// inFlight is the single-slot cycle guard: a frame arriving while the
	// previous cycle is still being evaluated is dropped, not queued.
	inFlight atomic.Bool

	mu             sync.Mutex
	tabSwitchCount int
	violationCount int
	cycle          evaluate.CycleState
	warnActive     bool
	locked         bool
	endedAt        time.Time
	endReason      string
	graceTimer     *time.Timer
}

// State is a point-in-time copy of session state for the API layer.
type State struct {
	ID                          string
	UserID                      string
	CourseID                    string
	StartedAt                   time.Time
	EndedAt                     *time.Time
	EndReason                   string
	TabSwitchCount              int
	MaxTabSwitches              int
	ViolationCount              int
	ConsecutiveViolationSeconds float64
	WarnActive                  bool
	Locked                      bool
}

// Manager tracks all live sessions and owns their lifecycle. Ended sessions
// stay registered for a retention window so late requests observe the ended
// state instead of a blind not-found.
type Manager struct {
	evaluator *evaluate.Evaluator
	mirror    Mirror
	logger    *zap.Logger
	retention time.Duration

	// OnEnded, when set before the first Start, is invoked exactly once per
	// session after it terminates, whichever path ended it (explicit end or
	// the grace timer).
	OnEnded func(id string)

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. mirror may be nil (no persistence).
func NewManager(evaluator *evaluate.Evaluator, mirror Mirror, logger *zap.Logger) *Manager {
	return &Manager{
		evaluator: evaluator,
		mirror:    mirror,
		logger:    logger,
		retention: 5 * time.Minute,
		sessions:  make(map[string]*Session),
	}
}

// Start creates a new exam attempt and mirrors it to the store.
func (m *Manager) Start(ctx context.Context, userID, courseID string, cfg Config, now time.Time) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CourseID:  courseID,
		StartedAt: now,
		cfg:       cfg,
		mirror:    m.mirror,
		logger:    m.logger,
	}
	s.onEnded = func(id string) {
		if m.OnEnded != nil {
			m.OnEnded(id)
		}
		time.AfterFunc(m.retention, func() { m.remove(id) })
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	s.mirrorCreate(ctx)
	m.logger.Info("session started",
		zap.String("session_id", s.ID),
		zap.String("user_id", userID),
		zap.String("course_id", courseID),
	)
	return s
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// BeginCycle claims the session's single evaluation slot. It returns false
// when a cycle is already in flight; the caller drops the tick instead of
// queuing it, bounding backlog under slow network conditions.
func (s *Session) BeginCycle() bool {
	return s.inFlight.CompareAndSwap(false, true)
}

// EndCycle releases the evaluation slot.
func (s *Session) EndCycle() {
	s.inFlight.Store(false)
}

// CycleResult is what one evaluated frame produced.
type CycleResult struct {
	Active     []evaluate.ViolationKind
	Events     []evaluate.ViolationEvent
	WarnActive bool
	// Informational is true once the session is locked: events are still
	// logged for the record but no longer escalate or dispatch alerts.
	Informational bool
	State         State
}

// ApplyCycle folds one detection snapshot into the session. For a skipped
// cycle (detector failure), callers simply do not invoke ApplyCycle, which
// leaves the sustained counter untouched.
func (s *Session) ApplyCycle(ctx context.Context, ev *evaluate.Evaluator, snap *evaluate.DetectionSnapshot, now time.Time) (CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.endedAt.IsZero() {
		return CycleResult{}, ErrEnded
	}

	out := ev.Evaluate(s.cycle, snap, s.cfg.Evaluate, now)

	res := CycleResult{
		Active:        out.Active,
		Events:        out.Events,
		WarnActive:    out.WarnActive,
		Informational: s.locked,
	}

	if s.locked {
		// Terminal with respect to escalation: keep reporting, stop
		// counting and stop re-arming the cooldown clock.
		for i := range res.Events {
			res.Events[i].Informational = true
		}
		res.State = s.stateLocked()
		return res, nil
	}

	s.cycle = out.State
	s.warnActive = out.WarnActive
	if len(out.Events) > 0 {
		// Counting choice: violations are counted at alert-emission time,
		// not per violating cycle.
		s.violationCount += len(out.Events)
		s.mirrorUpdate(ctx)
	}

	res.State = s.stateLocked()
	return res, nil
}

// RecordTabSwitch increments the tab-switch counter and returns the
// resulting violation event. Reaching the limit locks the session and
// schedules termination after the grace delay; the transition is one-way.
// The returned bool is true only for the single call that caused the lock
// transition, so concurrent posts cannot each claim it.
func (s *Session) RecordTabSwitch(ctx context.Context, now time.Time) (evaluate.ViolationEvent, State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.endedAt.IsZero() {
		return evaluate.ViolationEvent{}, s.stateLocked(), false, ErrEnded
	}

	s.tabSwitchCount++
	event := evaluate.ViolationEvent{
		Kind:      evaluate.KindTabSwitch,
		Message:   fmt.Sprintf("tab switch %d of %d", s.tabSwitchCount, s.cfg.MaxTabSwitches),
		Timestamp: now,
	}

	justLocked := false
	if !s.locked && s.tabSwitchCount >= s.cfg.MaxTabSwitches {
		s.locked = true
		justLocked = true
		s.logger.Warn("session locked by tab switch limit",
			zap.String("session_id", s.ID),
			zap.Int("tab_switches", s.tabSwitchCount),
		)
		// Grace delay lets the client show the termination warning before
		// the session actually ends.
		s.graceTimer = time.AfterFunc(s.cfg.GraceDelay, func() {
			_ = s.End(context.Background(), "tab_switch_limit", time.Now())
		})
	}

	s.mirrorUpdate(ctx)
	return event, s.stateLocked(), justLocked, nil
}

// RecordWindowBlur raises a window_blur violation event. A softer signal
// than a tab switch: no counter, no lock.
func (s *Session) RecordWindowBlur(_ context.Context, now time.Time) (evaluate.ViolationEvent, State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.endedAt.IsZero() {
		return evaluate.ViolationEvent{}, s.stateLocked(), ErrEnded
	}

	event := evaluate.ViolationEvent{
		Kind:          evaluate.KindWindowBlur,
		Message:       "exam window lost focus",
		Timestamp:     now,
		Informational: s.locked,
	}
	return event, s.stateLocked(), nil
}

// End terminates the session. Idempotent: a second call is a no-op and
// keeps the first call's endedAt.
func (s *Session) End(ctx context.Context, reason string, now time.Time) error {
	s.mu.Lock()
	if !s.endedAt.IsZero() {
		s.mu.Unlock()
		return nil
	}
	s.endedAt = now
	s.endReason = reason
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.MarkEnded(ctx, s.ID, reason, now); err != nil {
			s.logger.Warn("session mirror mark-ended failed",
				zap.String("session_id", s.ID),
				zap.Error(err),
			)
		}
	}
	s.logger.Info("session ended",
		zap.String("session_id", s.ID),
		zap.String("reason", reason),
	)
	if s.onEnded != nil {
		s.onEnded(s.ID)
	}
	return nil
}

// State returns a copy of the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Ended reports whether the session has terminated.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.endedAt.IsZero()
}

func (s *Session) stateLocked() State {
	st := State{
		ID:                          s.ID,
		UserID:                      s.UserID,
		CourseID:                    s.CourseID,
		StartedAt:                   s.StartedAt,
		EndReason:                   s.endReason,
		TabSwitchCount:              s.tabSwitchCount,
		MaxTabSwitches:              s.cfg.MaxTabSwitches,
		ViolationCount:              s.violationCount,
		ConsecutiveViolationSeconds: s.cycle.ConsecutiveViolationSeconds,
		WarnActive:                  s.warnActive,
		Locked:                      s.locked,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		st.EndedAt = &ended
	}
	return st
}

func (s *Session) record() Record {
	rec := Record{
		ID:             s.ID,
		UserID:         s.UserID,
		CourseID:       s.CourseID,
		StartedAt:      s.StartedAt,
		EndReason:      s.endReason,
		TabSwitchCount: s.tabSwitchCount,
		ViolationCount: s.violationCount,
		Locked:         s.locked,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		rec.EndedAt = &ended
	}
	return rec
}

// mirrorCreate and mirrorUpdate are best-effort: a store failure is logged
// and the in-memory state stays authoritative for the session's lifetime.
func (s *Session) mirrorCreate(ctx context.Context) {
	if s.mirror == nil {
		return
	}
	s.mu.Lock()
	rec := s.record()
	s.mu.Unlock()
	if err := s.mirror.CreateSession(ctx, rec); err != nil {
		s.logger.Warn("session mirror create failed",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
	}
}

func (s *Session) mirrorUpdate(ctx context.Context) {
	if s.mirror == nil {
		return
	}
	rec := s.record() // caller holds s.mu
	if err := s.mirror.UpdateSession(ctx, rec); err != nil {
		s.logger.Warn("session mirror update failed",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
	}
}
