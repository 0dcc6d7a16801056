// Package session owns conversation sessions: their lifecycle, their
// in-memory history and the rule that only one turn runs at a time.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/clario/internal/domain"
)

// Sentinel errors returned by the Manager.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBusy            = errors.New("busy")
	ErrSessionEnded    = errors.New("session ended")
)

// Session is one active conversation. History only grows through
// AppendTurn, which the orchestrator calls.
type Session struct {
	id        string
	projectID string
	clientID  string
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// turn is held for the duration of one orchestrator call.
	turn sync.Mutex

	mu         sync.RWMutex
	history    []domain.HistoryEntry
	current    domain.ConversationContext
	analysis   domain.Analysis
	opening    domain.AgentResponse
	ended      bool
	lastActive time.Time
	endTimer   *time.Timer
}

func newSession(parent context.Context, id, projectID, clientID string, now time.Time) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:         id,
		projectID:  projectID,
		clientID:   clientID,
		createdAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		history:    []domain.HistoryEntry{},
		current:    domain.ConversationContext{Focus: domain.FocusGeneral, OpenQuestions: []string{}},
		lastActive: now,
	}
}

// SessionID implements orchestrator.Transcript.
func (s *Session) SessionID() string { return s.id }

// ProjectID implements orchestrator.Transcript.
func (s *Session) ProjectID() string { return s.projectID }

// ClientID is the identity that opened the session.
func (s *Session) ClientID() string { return s.clientID }

// History returns a copy of the conversation history.
func (s *Session) History() []domain.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Focus returns the focus recorded by the previous turn.
func (s *Session) Focus() domain.Focus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Focus
}

// AppendTurn records a user/assistant pair. Ended sessions refuse, which is
// how results that arrive after cancellation get discarded.
func (s *Session) AppendTurn(user, assistant domain.HistoryEntry, focus domain.Focus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}
	s.history = append(s.history, user, assistant)
	if focus.Valid() {
		s.current.Focus = focus
	}
	s.lastActive = time.Now()
	return nil
}

// Ended reports whether the session has been ended.
func (s *Session) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// whileActive runs fn unless the session has ended and keeps it from
// ending until fn returns. fn must not take the session lock. It reports
// whether fn ran.
func (s *Session) whileActive(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ended {
		return false
	}
	fn()
	return true
}

func (s *Session) setOpening(resp domain.AgentResponse, analysis domain.Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = resp
	s.setAnalysisLocked(analysis)
}

func (s *Session) setAnalysis(analysis domain.Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAnalysisLocked(analysis)
}

func (s *Session) setAnalysisLocked(analysis domain.Analysis) {
	s.analysis = analysis
	s.current.OpenQuestions = append([]string{}, analysis.MissingInfo...)
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// end cancels in-flight work and marks the session ended. It is safe to
// call more than once.
func (s *Session) end() {
	s.mu.Lock()
	s.ended = true
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) scheduleEnd(after time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.endTimer != nil {
		s.endTimer.Stop()
	}
	s.endTimer = time.AfterFunc(after, fn)
}

// cancelScheduledEnd reports whether a pending end was stopped.
func (s *Session) cancelScheduledEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTimer == nil {
		return false
	}
	stopped := s.endTimer.Stop()
	s.endTimer = nil
	return stopped
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	SessionID           string                     `json:"sessionId"`
	ProjectID           string                     `json:"projectId"`
	ClientID            string                     `json:"-"`
	CreatedAt           time.Time                  `json:"createdAt"`
	ConversationHistory []domain.HistoryEntry      `json:"conversationHistory"`
	CurrentContext      domain.ConversationContext `json:"currentContext"`
	DocumentAnalysis    domain.Analysis            `json:"documentAnalysis"`
	Opening             domain.AgentResponse       `json:"opening"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]domain.HistoryEntry, len(s.history))
	copy(history, s.history)
	cc := s.current
	cc.OpenQuestions = append([]string{}, s.current.OpenQuestions...)
	return Snapshot{
		SessionID:           s.id,
		ProjectID:           s.projectID,
		ClientID:            s.clientID,
		CreatedAt:           s.createdAt,
		ConversationHistory: history,
		CurrentContext:      cc,
		DocumentAnalysis:    s.analysis,
		Opening:             s.opening,
	}
}
