package service

import (
	"sync"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
)

// SessionManager tracks which aliases currently accept claims. Each alias is
// an independent Closed -> Open -> Closed machine; re-opening an open alias
// refreshes OpenedAt, closing a closed alias is a no-op.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]domain.ClaimSession
	now      func() time.Time
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]domain.ClaimSession), now: time.Now}
}

func (m *SessionManager) Open(alias string) domain.ClaimSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := domain.ClaimSession{Alias: alias, OpenedAt: m.now().UTC(), Open: true}
	m.sessions[alias] = session
	return session
}

func (m *SessionManager) Close(alias string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[alias]
	if !ok {
		return
	}
	session.Open = false
	m.sessions[alias] = session
}

func (m *SessionManager) IsAccepting(alias string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[alias].Open
}

// Sessions snapshots every alias that has ever been opened.
func (m *SessionManager) Sessions() []domain.ClaimSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ClaimSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session)
	}
	return out
}
