package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"quiz-tutor-service/internal/domain"
)

// SessionRepository abstracts where live sessions are kept (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Save(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
	// Idle lists sessions with no subscriber that nobody has resumed for at least idle.
	Idle(idle time.Duration) []string
}

// QuizService owns the live sessions and layers the retry policy on top of them.
type QuizService struct {
	sessions SessionRepository
	provider ContentProvider
	retry    RetryPolicy
	opts     []Option
}

func NewQuizService(store SessionRepository, provider ContentProvider, retry RetryPolicy, opts ...Option) *QuizService {
	return &QuizService{sessions: store, provider: provider, retry: retry, opts: opts}
}

// Open creates and registers a fresh session.
func (s *QuizService) Open() *Session {
	session := NewSession(uuid.NewString(), s.provider, s.opts...)
	s.sessions.Save(session)
	return session
}

// Resume looks up a live session by id.
func (s *QuizService) Resume(sessionID string) (*Session, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Close drops a session and releases its subscribers.
func (s *QuizService) Close(sessionID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	session.Close()
	s.sessions.Delete(sessionID)
}

// Start starts the session and retries the first fetch on transient provider failures.
func (s *QuizService) Start(ctx context.Context, session *Session, cfg domain.SessionConfig) (domain.Question, bool, error) {
	q, done, err := session.Start(ctx, cfg)
	if err != nil && s.retry.Enabled() && retryable(err) {
		return NextQuestionWithRetry(ctx, session, s.retry)
	}
	return q, done, err
}

// Next fetches the next question with retries.
func (s *QuizService) Next(ctx context.Context, session *Session) (domain.Question, bool, error) {
	return NextQuestionWithRetry(ctx, session, s.retry)
}

// Advance moves past the explanation and retries the following fetch on transient failures.
func (s *QuizService) Advance(ctx context.Context, session *Session) (domain.Question, bool, error) {
	q, done, err := session.Advance(ctx)
	if err != nil && s.retry.Enabled() && retryable(err) {
		return NextQuestionWithRetry(ctx, session, s.retry)
	}
	return q, done, err
}

// Reap closes sessions left idle for at least idle and returns how many were closed.
func (s *QuizService) Reap(idle time.Duration) int {
	ids := s.sessions.Idle(idle)
	for _, id := range ids {
		s.Close(id)
	}
	return len(ids)
}

// RunReaper calls Reap every interval until ctx is done.
func (s *QuizService) RunReaper(ctx context.Context, idle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Reap(idle); n > 0 {
				log.Printf("reaped %d idle sessions", n)
			}
		}
	}
}
