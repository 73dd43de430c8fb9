// Package session tracks operator display sessions. A session binds one
// line configuration to the displays an operator has open, keeps its
// local channels apart from other sessions, and is reaped once idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/pcdshub/pmps-ui/internal/beamclass"
	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/display"
	"github.com/pcdshub/pmps-ui/internal/models"
)

// DefaultMaxSessions limits concurrent sessions when Config leaves it unset.
const DefaultMaxSessions = 50

// SessionMaxAge is how long an idle session survives cleanup.
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow protects sessions touched this recently from
// eviction when the manager is full.
const SessionKeepAliveWindow = 5 * time.Minute

var (
	ErrNotFound        = errors.New("session not found")
	ErrTooManySessions = errors.New("too many active sessions")
)

// LineLoader resolves a line name such as "LFE" to its configuration.
type LineLoader func(name string) (*models.LineConfig, error)

// Metrics receives the session count.
type Metrics interface {
	SetSessions(n int)
}

// Config wires a Manager.
type Config struct {
	Bus         *channel.Bus
	Table       *beamclass.Table
	Lines       LineLoader
	Logger      hclog.Logger
	Metrics     Metrics
	MaxSessions int

	// RetryInterval is handed to the displays for the zero-rate apply.
	RetryInterval time.Duration
	Now           func() time.Time
}

// Manager handles active display sessions.
type Manager struct {
	cfg Config
	log hclog.Logger

	mu       sync.RWMutex
	sessions map[string]*SessionState
}

// SessionState holds a session and the displays it has opened.
type SessionState struct {
	Session *models.DisplaySession
	line    *models.LineConfig

	// guards displays; held while a display is being built
	openMu   sync.Mutex
	displays map[string]display.Display
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger.Named("session"),
		sessions: make(map[string]*SessionState),
	}
}

// StartSession opens a session for the named line. No display is built
// until it is first requested.
func (m *Manager) StartSession(lineName string) (*models.DisplaySession, error) {
	if m.cfg.Lines == nil {
		return nil, errors.New("session: no line loader configured")
	}
	line, err := m.cfg.Lines(lineName)
	if err != nil {
		return nil, err
	}

	m.cleanupOldSessionsIfNeeded()

	now := m.cfg.Now()
	sess := &models.DisplaySession{
		ID:           uuid.New().String(),
		Line:         lineName,
		Status:       models.SessionStatusActive,
		Displays:     []string{},
		CreatedAt:    now,
		LastAccessed: now,
	}

	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, m.cfg.MaxSessions)
	}
	m.sessions[sess.ID] = &SessionState{
		Session:  sess,
		line:     line,
		displays: make(map[string]display.Display),
	}
	n := len(m.sessions)
	out := copySession(sess)
	m.mu.Unlock()

	m.log.Info("session started", "session", sess.ID, "line", lineName)
	m.report(n)
	return out, nil
}

// GetSession returns a copy of a session.
func (m *Manager) GetSession(id string) (*models.DisplaySession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return copySession(state.Session), true
}

// ListSessions returns copies of all sessions, oldest first.
func (m *Manager) ListSessions() []*models.DisplaySession {
	m.mu.RLock()
	out := make([]*models.DisplaySession, 0, len(m.sessions))
	for _, state := range m.sessions {
		out = append(out, copySession(state.Session))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// TouchSession updates the LastAccessed timestamp so the session survives
// cleanup.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.Session.LastAccessed = m.cfg.Now()
	return true
}

// Line returns the line configuration of a session.
func (m *Manager) Line(id string) (*models.LineConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return state.line, true
}

// Display returns the named display of a session, building it on first
// use.
func (m *Manager) Display(ctx context.Context, id, name string) (display.Display, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	m.TouchSession(id)

	state.openMu.Lock()
	defer state.openMu.Unlock()
	if d, ok := state.displays[name]; ok {
		return d, nil
	}
	if state.displays == nil {
		// the session was closed while we waited
		return nil, ErrNotFound
	}

	d, err := display.Open(ctx, name, display.Options{
		Bus:           m.cfg.Bus,
		Table:         m.cfg.Table,
		Line:          state.line,
		Logger:        m.log.With("session", id),
		LocalScope:    id + "/",
		RetryInterval: m.cfg.RetryInterval,
		Now:           m.cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	state.displays[name] = d

	m.mu.Lock()
	state.Session.Displays = append(state.Session.Displays, name)
	m.mu.Unlock()
	m.log.Debug("display opened", "session", id, "display", name)
	return d, nil
}

// Act runs an operator action against a session's display.
func (m *Manager) Act(ctx context.Context, id, name string, a display.Action) error {
	d, err := m.Display(ctx, id, name)
	if err != nil {
		return err
	}
	return display.Dispatch(ctx, m.cfg.Bus, d, a)
}

// CloseSession tears down every display of a session and forgets it.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		state.Session.Status = models.SessionStatusClosed
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	state.close()
	m.log.Info("session closed", "session", id)
	m.report(n)
	return nil
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	states := m.sessions
	m.sessions = make(map[string]*SessionState)
	m.mu.Unlock()
	for _, state := range states {
		state.close()
	}
	m.report(0)
}

func (s *SessionState) close() {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	for _, d := range s.displays {
		d.Close()
	}
	s.displays = nil
}

// cleanupOldSessionsIfNeeded evicts the longest idle sessions outside the
// keep-alive window when the manager is full.
func (m *Manager) cleanupOldSessionsIfNeeded() {
	m.mu.RLock()
	full := len(m.sessions) >= m.cfg.MaxSessions
	m.mu.RUnlock()
	if !full {
		return
	}

	keepAliveCutoff := m.cfg.Now().Add(-SessionKeepAliveWindow)
	var idle []*models.DisplaySession
	for _, s := range m.ListSessions() {
		if s.LastAccessed.Before(keepAliveCutoff) {
			idle = append(idle, s)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].LastAccessed.Before(idle[j].LastAccessed) })

	toFree := m.Count() - m.cfg.MaxSessions + 1
	for _, s := range idle {
		if toFree <= 0 {
			break
		}
		if m.CloseSession(s.ID) == nil {
			toFree--
			m.log.Info("evicted idle session to make room", "session", s.ID)
		}
	}
}

// CleanupOldSessions closes sessions idle for longer than maxAge. Sessions
// touched inside the keep-alive window are never closed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	now := m.cfg.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-SessionKeepAliveWindow)

	closed := 0
	for _, s := range m.ListSessions() {
		if s.LastAccessed.After(keepAliveCutoff) || !s.LastAccessed.Before(cutoff) {
			continue
		}
		if m.CloseSession(s.ID) == nil {
			closed++
			m.log.Info("cleaned up aged session", "session", s.ID, "idle", now.Sub(s.LastAccessed).Round(time.Second))
		}
	}
	return closed
}

// Run cleans up aged sessions every interval until ctx is done, then
// closes everything.
func (m *Manager) Run(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}

func (m *Manager) report(n int) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SetSessions(n)
	}
}

func copySession(s *models.DisplaySession) *models.DisplaySession {
	out := *s
	out.Displays = append([]string(nil), s.Displays...)
	return &out
}
