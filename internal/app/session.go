package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"quiz-tutor-service/internal/domain"
	"quiz-tutor-service/internal/timer"
)

// ContentProvider generates quiz content. Calls may block on network I/O.
type ContentProvider interface {
	GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.Question, error)
	GenerateExplanation(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error)
	GenerateLearningObjectives(ctx context.Context, req domain.ExplanationRequest) (domain.LearningObjectives, error)
}

const subscriberBuffer = 32

// Session drives one quiz run: question -> answer -> explanation -> next.
//
// All mutable state is guarded by mu. Provider calls run without the lock and
// their results are applied only if the generation they started under is still
// current; Advance and Reset bump the generation.
type Session struct {
	id             string
	provider       ContentProvider
	timer          *timer.Timer
	now            func() time.Time
	newID          func() string
	requestTimeout time.Duration

	mu          sync.Mutex
	state       domain.SessionState
	phase       domain.Phase
	cfg         domain.SessionConfig
	current     *domain.Question
	resolution  *domain.Resolution
	history     []domain.AnswerRecord
	asked       []string
	correct     int
	wrong       int
	fetching    bool
	generation  uint64
	timerRun    uint64
	pending     map[uint64]context.CancelFunc
	pendingSeq  uint64
	subscribers map[chan domain.Event]struct{}
}

// Option customises a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	now            func() time.Time
	ticker         timer.TickerFunc
	newID          func() string
	requestTimeout time.Duration
}

// WithClock sets the clock used for answer timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *sessionOptions) { o.now = now }
}

// WithTicker sets the countdown ticker source.
func WithTicker(f timer.TickerFunc) Option {
	return func(o *sessionOptions) { o.ticker = f }
}

// WithIDGenerator sets how question ids are assigned when a provider leaves them empty.
func WithIDGenerator(f func() string) Option {
	return func(o *sessionOptions) { o.newID = f }
}

// WithRequestTimeout bounds every provider call. Zero means no bound beyond the caller's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *sessionOptions) { o.requestTimeout = d }
}

// NewSession builds a session in the NotStarted state.
func NewSession(id string, provider ContentProvider, opts ...Option) *Session {
	o := sessionOptions{
		now:    time.Now,
		ticker: timer.NewRealTicker,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		id:             id,
		provider:       provider,
		now:            o.now,
		newID:          o.newID,
		requestTimeout: o.requestTimeout,
		state:          domain.StateNotStarted,
		subscribers:    make(map[chan domain.Event]struct{}),
	}
	s.timer = timer.New(timer.Handler{
		OnTick:   s.onTimerTick,
		OnExpire: s.onTimerExpire,
	}, timer.WithTicker(o.ticker))
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Start validates cfg, moves the session to AwaitingAnswer and fetches the first question.
// A failed first fetch leaves the session in progress with no question so the caller can retry.
func (s *Session) Start(ctx context.Context, cfg domain.SessionConfig) (domain.Question, bool, error) {
	if err := cfg.Validate(); err != nil {
		return domain.Question{}, false, err
	}

	s.mu.Lock()
	if s.state != domain.StateNotStarted {
		s.mu.Unlock()
		return domain.Question{}, false, fmt.Errorf("%w: session already started", domain.ErrInvalidState)
	}
	s.cfg = cfg
	s.state = domain.StateInProgress
	s.phase = domain.PhaseAwaitingAnswer
	s.mu.Unlock()

	return s.RequestNextQuestion(ctx)
}

// RequestNextQuestion fetches and issues the next question. The bool result is true
// when the question limit has been reached and the session finished instead.
func (s *Session) RequestNextQuestion(ctx context.Context) (domain.Question, bool, error) {
	s.mu.Lock()
	switch {
	case s.state != domain.StateInProgress:
		s.mu.Unlock()
		return domain.Question{}, false, fmt.Errorf("%w: session is %s", domain.ErrInvalidState, s.state)
	case s.fetching:
		s.mu.Unlock()
		return domain.Question{}, false, domain.ErrFetchInProgress
	case s.phase != domain.PhaseAwaitingAnswer || s.current != nil:
		s.mu.Unlock()
		return domain.Question{}, false, fmt.Errorf("%w: current question not resolved", domain.ErrInvalidState)
	}
	if s.limitReachedLocked() {
		s.finishLocked()
		s.mu.Unlock()
		return domain.Question{}, true, nil
	}

	s.fetching = true
	gen := s.generation
	req := domain.QuestionRequest{
		Subject:         s.cfg.Subject,
		Subtopic:        s.cfg.Subtopic,
		Difficulty:      s.cfg.Difficulty,
		ExcludedPrompts: append([]string(nil), s.asked...),
	}
	ctx, cancel := s.trackLocked(ctx)
	s.mu.Unlock()
	defer cancel()

	q, err := s.provider.GenerateQuestion(ctx, req)
	if err == nil {
		err = q.Validate()
	}
	err = providerError(ctx, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		log.Printf("session %s: discarding question fetched for a previous state", s.id)
		return domain.Question{}, false, domain.ErrStaleResult
	}
	s.fetching = false
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
		s.emitLocked(domain.Event{Type: domain.EventError, Error: domain.NewErrorInfo(err)})
		return domain.Question{}, false, err
	}

	if q.ID == "" {
		q.ID = s.newID()
	}
	q.Options = append([]string(nil), q.Options...)
	s.current = &q
	s.asked = append(s.asked, q.Prompt)

	if s.cfg.TimeLimitSeconds > 0 {
		run, err := s.timer.Start(s.cfg.TimeLimitSeconds)
		if err != nil {
			// unreachable for a validated config
			log.Printf("session %s: timer start failed: %v", s.id, err)
		}
		s.timerRun = run
	}

	public := q.Public()
	progress := s.progressLocked()
	s.emitLocked(domain.Event{Type: domain.EventQuestionReady, Question: &public, Progress: &progress})
	return q, false, nil
}

// SubmitAnswer records the selected option for the current question and returns
// the answer together with its explanation and learning objectives.
func (s *Session) SubmitAnswer(ctx context.Context, selectedIndex int) (domain.Resolution, error) {
	s.mu.Lock()
	if !s.awaitingLocked() {
		s.mu.Unlock()
		return domain.Resolution{}, fmt.Errorf("%w: no question awaiting an answer", domain.ErrInvalidState)
	}
	if selectedIndex < 0 || selectedIndex >= len(s.current.Options) {
		n := len(s.current.Options)
		s.mu.Unlock()
		return domain.Resolution{}, fmt.Errorf("%w: %d not in [0,%d)", domain.ErrInvalidAnswerIndex, selectedIndex, n)
	}
	sel := selectedIndex
	rec, gen, req := s.recordLocked(&sel)
	ctx, cancel := s.trackLocked(ctx)
	s.mu.Unlock()
	defer cancel()

	return s.resolve(ctx, rec, gen, req)
}

// TimeExpired resolves the current question as unanswered.
func (s *Session) TimeExpired(ctx context.Context) (domain.Resolution, error) {
	s.mu.Lock()
	if !s.awaitingLocked() {
		s.mu.Unlock()
		return domain.Resolution{}, fmt.Errorf("%w: no question awaiting an answer", domain.ErrInvalidState)
	}
	rec, gen, req := s.recordLocked(nil)
	ctx, cancel := s.trackLocked(ctx)
	s.mu.Unlock()
	defer cancel()

	return s.resolve(ctx, rec, gen, req)
}

// Advance leaves the explanation and moves on to the next question, or finishes
// the session once the question limit is reached.
func (s *Session) Advance(ctx context.Context) (domain.Question, bool, error) {
	s.mu.Lock()
	if s.state != domain.StateInProgress || s.phase != domain.PhaseShowingExplanation {
		s.mu.Unlock()
		return domain.Question{}, false, fmt.Errorf("%w: nothing to advance from", domain.ErrInvalidState)
	}
	s.invalidateLocked()
	s.current = nil
	s.resolution = nil
	if s.limitReachedLocked() {
		s.finishLocked()
		s.mu.Unlock()
		return domain.Question{}, true, nil
	}
	s.phase = domain.PhaseAwaitingAnswer
	s.mu.Unlock()

	return s.RequestNextQuestion(ctx)
}

// Results returns the final score. Valid only once the session is finished.
func (s *Session) Results() (domain.ScoreSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateFinished {
		return domain.ScoreSummary{}, fmt.Errorf("%w: session is %s", domain.ErrInvalidState, s.state)
	}
	return domain.Summarize(s.history), nil
}

// History returns a copy of the answer log.
func (s *Session) History() []domain.AnswerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AnswerRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Reset discards all progress and pending work and returns to NotStarted. Safe to repeat.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Close resets the session and releases its subscribers.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.Snapshot{
		SessionID: s.id,
		State:     s.state,
		Phase:     s.phase,
		Correct:   s.correct,
		Wrong:     s.wrong,
		Fetching:  s.fetching,
	}
	if s.state != domain.StateNotStarted {
		cfg := s.cfg
		snap.Config = &cfg
		snap.Progress = s.progressLocked()
	}
	if s.current != nil {
		public := s.current.Public()
		snap.Question = &public
	}
	if s.resolution != nil {
		res := *s.resolution
		snap.Resolution = &res
	}
	return snap
}

// Subscribe returns a channel of session events.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Attached reports whether any subscriber is listening to the session.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers) > 0
}

func (s *Session) onTimerTick(run uint64, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run != s.timerRun || !s.awaitingLocked() {
		return
	}
	s.emitLocked(domain.Event{Type: domain.EventTimerTick, Remaining: &remaining, Display: timer.Format(remaining)})
}

func (s *Session) onTimerExpire(run uint64) {
	s.mu.Lock()
	// an answer submitted just before expiry wins
	if run != s.timerRun || !s.awaitingLocked() {
		s.mu.Unlock()
		return
	}
	rec, gen, req := s.recordLocked(nil)
	ctx, cancel := s.trackLocked(context.Background())
	s.mu.Unlock()
	defer cancel()

	if _, err := s.resolve(ctx, rec, gen, req); err != nil && !errors.Is(err, domain.ErrStaleResult) {
		log.Printf("session %s: resolve after expiry: %v", s.id, err)
	}
}

// resolve fetches explanation and objectives concurrently. Each failure degrades
// to an empty placeholder plus an error event; neither blocks progression.
func (s *Session) resolve(ctx context.Context, rec domain.AnswerRecord, gen uint64, req domain.ExplanationRequest) (domain.Resolution, error) {
	var (
		explanation    domain.Explanation
		objectives     domain.LearningObjectives
		explanationErr error
		objectivesErr  error
	)

	var g errgroup.Group
	g.Go(func() error {
		explanation, explanationErr = s.provider.GenerateExplanation(ctx, req)
		explanationErr = providerError(ctx, explanationErr)
		return nil
	})
	g.Go(func() error {
		objectives, objectivesErr = s.provider.GenerateLearningObjectives(ctx, req)
		objectivesErr = providerError(ctx, objectivesErr)
		return nil
	})
	_ = g.Wait()

	if explanationErr != nil {
		explanation = domain.Explanation{}
	}
	if objectivesErr != nil {
		objectives = domain.LearningObjectives{}
	}
	res := domain.Resolution{Record: rec, Explanation: explanation, Objectives: objectives}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		log.Printf("session %s: discarding explanation for question %s", s.id, rec.Question.ID)
		return domain.Resolution{Record: rec}, domain.ErrStaleResult
	}
	if explanationErr != nil {
		s.emitLocked(domain.Event{Type: domain.EventError, Error: domain.NewErrorInfo(fmt.Errorf("explanation: %w", explanationErr))})
	}
	if objectivesErr != nil {
		s.emitLocked(domain.Event{Type: domain.EventError, Error: domain.NewErrorInfo(fmt.Errorf("learning objectives: %w", objectivesErr))})
	}
	s.resolution = &res
	s.emitLocked(domain.Event{Type: domain.EventAnswerResolved, Resolution: &res})
	return res, nil
}

func (s *Session) awaitingLocked() bool {
	return s.state == domain.StateInProgress && s.phase == domain.PhaseAwaitingAnswer && s.current != nil && !s.fetching
}

// recordLocked appends the answer record and moves to ShowingExplanation.
func (s *Session) recordLocked(selected *int) (domain.AnswerRecord, uint64, domain.ExplanationRequest) {
	s.timer.Cancel()

	q := *s.current
	rec := domain.AnswerRecord{
		Question:      q,
		SelectedIndex: selected,
		Correct:       selected != nil && *selected == q.CorrectIndex,
		TimedOut:      selected == nil,
		AnsweredAt:    s.now(),
	}
	s.history = append(s.history, rec)
	if rec.Correct {
		s.correct++
	} else {
		s.wrong++
	}
	s.phase = domain.PhaseShowingExplanation

	req := domain.ExplanationRequest{
		Subject:       s.cfg.Subject,
		Subtopic:      s.cfg.Subtopic,
		Difficulty:    s.cfg.Difficulty,
		Prompt:        q.Prompt,
		Options:       append([]string(nil), q.Options...),
		CorrectIndex:  q.CorrectIndex,
		SelectedIndex: selected,
	}
	return rec, s.generation, req
}

// trackLocked derives a provider context that Reset and Advance can cancel.
// The returned release must be called without holding mu; it drops the entry once the call settles.
func (s *Session) trackLocked(parent context.Context) (context.Context, func()) {
	var ctx context.Context
	var cancel context.CancelFunc
	if s.requestTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, s.requestTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	if s.pending == nil {
		s.pending = make(map[uint64]context.CancelFunc)
	}
	s.pendingSeq++
	seq := s.pendingSeq
	s.pending[seq] = cancel
	release := func() {
		s.mu.Lock()
		delete(s.pending, seq)
		s.mu.Unlock()
		cancel()
	}
	return ctx, release
}

func (s *Session) invalidateLocked() {
	s.generation++
	for _, cancel := range s.pending {
		cancel()
	}
	s.pending = nil
}

func (s *Session) resetLocked() {
	s.timer.Cancel()
	s.invalidateLocked()
	s.state = domain.StateNotStarted
	s.phase = domain.PhaseNone
	s.cfg = domain.SessionConfig{}
	s.current = nil
	s.resolution = nil
	s.history = nil
	s.asked = nil
	s.correct = 0
	s.wrong = 0
	s.fetching = false
}

func (s *Session) limitReachedLocked() bool {
	return s.cfg.QuestionLimit > 0 && len(s.history) >= s.cfg.QuestionLimit
}

func (s *Session) finishLocked() {
	s.timer.Cancel()
	s.state = domain.StateFinished
	s.phase = domain.PhaseNone
	s.current = nil
	s.resolution = nil
	summary := domain.Summarize(s.history)
	s.emitLocked(domain.Event{Type: domain.EventSessionFinished, Summary: &summary})
}

func (s *Session) progressLocked() domain.Progress {
	number := len(s.history)
	if s.current != nil && s.phase == domain.PhaseAwaitingAnswer {
		number++
	}
	return domain.Progress{Number: number, Total: s.cfg.QuestionLimit}
}

func (s *Session) emitLocked(ev domain.Event) {
	ev.SessionID = s.id
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// drop the oldest event so a slow subscriber never blocks the session
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

// providerError maps context failures and unknown provider errors onto the taxonomy.
func providerError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrProviderTimeout),
		errors.Is(err, domain.ErrMalformedResponse):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrProviderTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
}
