package memory

import (
	"sync"
	"time"

	"quiz-tutor-service/internal/app"
)

type storedSession struct {
	session  *app.Session
	lastSeen time.Time
}

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	clock    func() time.Time
	mu       sync.RWMutex
	sessions map[string]*storedSession
}

func NewSessionStore() *SessionStore {
	return newSessionStoreWithClock(time.Now)
}

func newSessionStoreWithClock(clock func() time.Time) *SessionStore {
	return &SessionStore{
		clock:    clock,
		sessions: make(map[string]*storedSession),
	}
}

func (s *SessionStore) Save(session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID()] = &storedSession{session: session, lastSeen: s.clock()}
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	stored.lastSeen = s.clock()
	return stored.session, true
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Idle returns sessions nobody has looked up or listened to for at least idle.
// Sessions with a live subscriber count as seen now.
func (s *SessionStore) Idle(idle time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	var ids []string
	for id, stored := range s.sessions {
		if stored.session.Attached() {
			stored.lastSeen = now
			continue
		}
		if now.Sub(stored.lastSeen) >= idle {
			ids = append(ids, id)
		}
	}
	return ids
}
