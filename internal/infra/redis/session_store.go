package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-tutor-service/internal/app"
)

// SessionStore is a Redis-aware implementation of SessionRepository.
// Notes:
//   - Sessions own a live timer and subscriber channels, so the session itself
//     stays in a local map.
//   - Redis carries a liveness marker per session with a sliding TTL, which lets
//     operators see active sessions across instances.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	clock    func() time.Time
	mu       sync.Mutex
	sessions map[string]*storedSession
}

type storedSession struct {
	session  *app.Session
	lastSeen time.Time
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return newSessionStoreWithClock(client, ttl, time.Now)
}

func newSessionStoreWithClock(client *redis.Client, ttl time.Duration, clock func() time.Time) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		clock:    clock,
		sessions: make(map[string]*storedSession),
	}
}

func (s *SessionStore) Save(session *app.Session) {
	s.mu.Lock()
	s.sessions[session.ID()] = &storedSession{session: session, lastSeen: s.clock()}
	s.mu.Unlock()
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(session.ID()), "1", s.ttl).Err()
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.Lock()
	stored, ok := s.sessions[sessionID]
	if ok {
		stored.lastSeen = s.clock()
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.refresh(sessionID)
	return stored.session, true
}

// Idle returns sessions nobody has looked up or listened to for at least idle.
// Attached sessions count as seen now and get their marker refreshed.
func (s *SessionStore) Idle(idle time.Duration) []string {
	s.mu.Lock()
	now := s.clock()
	var ids, attached []string
	for id, stored := range s.sessions {
		if stored.session.Attached() {
			stored.lastSeen = now
			attached = append(attached, id)
			continue
		}
		if now.Sub(stored.lastSeen) >= idle {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range attached {
		s.refresh(id)
	}
	return ids
}

func (s *SessionStore) refresh(sessionID string) {
	if s.ttl > 0 {
		_ = s.client.Expire(context.Background(), s.key(sessionID), s.ttl).Err()
	}
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	_ = s.client.Del(context.Background(), s.key(sessionID)).Err()
}

// ActiveCount reports how many session markers are alive in Redis.
func (s *SessionStore) ActiveCount(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "quiz:session:*", 100).Result()
		if err != nil {
			return 0, err
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

func (s *SessionStore) key(sessionID string) string {
	return "quiz:session:" + sessionID
}
