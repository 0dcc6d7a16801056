package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/clario/internal/analyzer"
	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/orchestrator"
	"github.com/ashureev/clario/internal/store"
)

// Documents is the part of the project repository the manager needs.
type Documents interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	CreateProject(ctx context.Context, id, name string) (*store.Project, error)
	ApplyPatch(ctx context.Context, id string, patch map[string]any) (domain.Document, error)
}

// Analyzer reports on a document.
type Analyzer interface {
	Analyze(ctx context.Context, doc domain.Document) (domain.Analysis, error)
}

// Config tunes the manager.
type Config struct {
	TurnTimeout time.Duration
	SessionTTL  time.Duration
}

// StartRequest opens or reopens a conversation on a project.
type StartRequest struct {
	ClientID       string
	ProjectID      string
	InitialMessage string
}

// StartResult is the new session and the first response the client shows.
type StartResult struct {
	Session  Snapshot
	Response domain.AgentResponse
}

// Manager drives the session state machine: uninitialized, active, ended.
type Manager struct {
	store     Store
	docs      Documents
	analyzer  Analyzer
	orch      *orchestrator.Orchestrator
	publisher domain.Publisher
	cfg       Config
	logger    *slog.Logger
	baseCtx   context.Context
	stop      context.CancelFunc
	now       func() time.Time

	hookMu sync.RWMutex
	onEnd  []func(sessionID string)
}

// NewManager wires a Manager. Sessions live under an internal context that
// Close cancels.
func NewManager(st Store, docs Documents, an Analyzer, orch *orchestrator.Orchestrator, pub domain.Publisher, cfg Config, logger *slog.Logger) *Manager {
	if pub == nil {
		pub = domain.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 90 * time.Second
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		store:     st,
		docs:      docs,
		analyzer:  an,
		orch:      orch,
		publisher: pub,
		cfg:       cfg,
		logger:    logger,
		baseCtx:   ctx,
		stop:      stop,
		now:       time.Now,
	}
}

// SetPublisher replaces the event sink. Call before serving.
func (m *Manager) SetPublisher(pub domain.Publisher) {
	if pub == nil {
		pub = domain.NopPublisher{}
	}
	m.publisher = pub
}

// OnEnd registers fn to run after a session ends for any reason.
func (m *Manager) OnEnd(fn func(sessionID string)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onEnd = append(m.onEnd, fn)
}

// Start activates a new session for the project. Any session the client
// already has on the project is ended first, so reopening always yields a
// fresh session whose opening is derived from the document alone.
func (m *Manager) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	project, err := m.loadOrCreateProject(ctx, req.ProjectID)
	if err != nil {
		return StartResult{}, err
	}

	if prev, ok := m.store.Find(req.ClientID, project.ID); ok {
		m.logger.Info("ending previous session on reopen", "session_id", prev.id, "project_id", project.ID)
		m.endSession(prev)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return StartResult{}, fmt.Errorf("generate session id: %w", err)
	}
	s := newSession(m.baseCtx, id.String(), project.ID, req.ClientID, m.now().UTC())

	doc, analysis, ok := m.analyze(ctx, project)
	var opening domain.AgentResponse
	if ok {
		opening = m.orch.Open(ctx, s, doc, analysis)
	} else {
		opening = m.orch.Degraded()
	}
	s.setOpening(opening, analysis)
	m.store.Put(s)

	m.logger.Info("session started",
		"session_id", s.id, "project_id", project.ID, "degraded", !ok,
		"completeness", analysis.CompletenessScore)

	if req.InitialMessage != "" {
		resp, err := m.Turn(ctx, s.id, req.InitialMessage)
		if err != nil {
			return StartResult{}, err
		}
		return StartResult{Session: s.Snapshot(), Response: resp}, nil
	}
	return StartResult{Session: s.Snapshot(), Response: opening}, nil
}

func (m *Manager) loadOrCreateProject(ctx context.Context, projectID string) (*store.Project, error) {
	if projectID == "" {
		return m.docs.CreateProject(ctx, uuid.NewString(), "")
	}
	p, err := m.docs.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrProjectNotFound) {
		return m.docs.CreateProject(ctx, projectID, "")
	}
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}
	return p, nil
}

// analyze decodes and analyzes the stored document. ok is false when either
// step failed; the returned document is then empty.
func (m *Manager) analyze(ctx context.Context, p *store.Project) (domain.Document, domain.Analysis, bool) {
	doc, err := domain.ParseDocument(p.Raw)
	if err == nil {
		var analysis domain.Analysis
		analysis, err = m.analyzer.Analyze(ctx, doc)
		if err == nil {
			return doc, analysis, true
		}
	}
	m.logger.Warn("document analysis failed, starting from scratch", "project_id", p.ID, "error", err)
	empty, _ := analyzer.Structural(domain.Document{})
	return domain.Document{}, empty, false
}

// Turn runs one user turn. It fails fast with ErrBusy when another turn on
// the same session is still in flight.
func (m *Manager) Turn(ctx context.Context, sessionID, content string) (domain.AgentResponse, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return domain.AgentResponse{}, ErrSessionNotFound
	}
	if !s.turn.TryLock() {
		return domain.AgentResponse{}, ErrBusy
	}
	defer s.turn.Unlock()
	if s.Ended() {
		return domain.AgentResponse{}, ErrSessionNotFound
	}
	s.touch(m.now())

	turnCtx, cancel := context.WithTimeout(ctx, m.cfg.TurnTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	doc := m.currentDocument(turnCtx, s.projectID)

	resp, err := m.orch.ProcessUserInput(turnCtx, s, doc, content)
	if err != nil {
		m.logger.Info("discarding turn result", "session_id", sessionID, "error", err)
		return domain.AgentResponse{}, err
	}

	if s.Ended() {
		m.logger.Info("session ended before the turn was published", "session_id", sessionID)
		resp.DocumentUpdates = map[string]any{}
		return resp, nil
	}
	key := resp.Key()
	published := resp
	m.publisher.Publish(sessionID, domain.Event{Type: domain.EventResponse, Turn: key, Data: &published})

	if len(resp.DocumentUpdates) > 0 {
		var merged domain.Document
		applied := s.whileActive(func() {
			merged, err = m.docs.ApplyPatch(context.WithoutCancel(turnCtx), s.projectID, resp.DocumentUpdates)
		})
		if !applied {
			m.logger.Info("session ended before updates were applied", "session_id", sessionID)
			resp.DocumentUpdates = map[string]any{}
			return resp, nil
		}
		if err != nil {
			m.logger.Error("failed to apply document updates", "session_id", sessionID, "project_id", s.projectID, "error", err)
			return resp, nil
		}
		if analysis, err := analyzer.Structural(merged); err == nil {
			s.setAnalysis(analysis)
		}
		m.publisher.Publish(sessionID, domain.Event{Type: domain.EventDocumentUpdate, Turn: key, Updates: resp.DocumentUpdates})
	}
	return resp, nil
}

func (m *Manager) currentDocument(ctx context.Context, projectID string) domain.Document {
	p, err := m.docs.GetProject(ctx, projectID)
	if err != nil {
		if !errors.Is(err, store.ErrProjectNotFound) {
			m.logger.Warn("failed to load document for turn", "project_id", projectID, "error", err)
		}
		return domain.Document{}
	}
	doc, err := domain.ParseDocument(p.Raw)
	if err != nil {
		return domain.Document{}
	}
	return doc
}

// Get returns a snapshot of an active session.
func (m *Manager) Get(sessionID string) (Snapshot, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return s.Snapshot(), nil
}

// History returns the conversation history of an active session.
func (m *Manager) History(sessionID string) ([]domain.HistoryEntry, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.History(), nil
}

// Attach marks a session as having a live connection, cancelling any
// pending end scheduled by a previous disconnect.
func (m *Manager) Attach(sessionID string) (Snapshot, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	if s.cancelScheduledEnd() {
		m.logger.Info("connection re-attached before grace expired", "session_id", sessionID)
	}
	s.touch(m.now())
	return s.Snapshot(), nil
}

// Touch records activity on a session, e.g. a keepalive frame from its
// connection, so the idle sweeper leaves it alone.
func (m *Manager) Touch(sessionID string) {
	if s, ok := m.store.Get(sessionID); ok {
		s.touch(m.now())
	}
}

// End ends a session, cancelling any in-flight turn.
func (m *Manager) End(sessionID string) error {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	m.endSession(s)
	m.logger.Info("session ended", "session_id", sessionID)
	return nil
}

// EndLater ends the session after grace unless a connection attaches
// first.
func (m *Manager) EndLater(sessionID string, grace time.Duration) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return
	}
	if grace <= 0 {
		m.endSession(s)
		return
	}
	s.scheduleEnd(grace, func() {
		m.logger.Info("ending session after disconnect", "session_id", sessionID)
		m.endSession(s)
	})
}

// Active lists active session IDs.
func (m *Manager) Active() []string {
	sessions := m.store.List()
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if !s.Ended() {
			ids = append(ids, s.id)
		}
	}
	return ids
}

// ListFor returns snapshots of the client's active sessions.
func (m *Manager) ListFor(clientID string) []Snapshot {
	var out []Snapshot
	for _, s := range m.store.List() {
		if s.clientID == clientID && !s.Ended() {
			out = append(out, s.Snapshot())
		}
	}
	return out
}

// Sweep ends sessions idle longer than the configured TTL.
func (m *Manager) Sweep() int {
	if m.cfg.SessionTTL <= 0 {
		return 0
	}
	expired := m.store.Expired(m.now().Add(-m.cfg.SessionTTL))
	for _, s := range expired {
		m.endSession(s)
	}
	return len(expired)
}

// Close ends every session.
func (m *Manager) Close() {
	for _, s := range m.store.List() {
		m.endSession(s)
	}
	m.stop()
}

// Evict ends a session the store dropped on its own. Pass it as the
// MemoryStore eviction callback.
func (m *Manager) Evict(s *Session) {
	m.logger.Info("session evicted", "session_id", s.id)
	m.finish(s)
}

func (m *Manager) endSession(s *Session) {
	m.store.Remove(s.id)
	m.finish(s)
}

func (m *Manager) finish(s *Session) {
	s.end()

	m.hookMu.RLock()
	hooks := m.onEnd
	m.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(s.id)
	}
}
