package app_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quiz-tutor-service/internal/domain"
	"quiz-tutor-service/internal/timer"
)

type questionResult struct {
	q   domain.Question
	err error
}

// scriptedProvider hands out questions in order and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	questions []questionResult
	requests  []domain.QuestionRequest
	gate      chan struct{} // when set, GenerateQuestion waits for it

	explain    func(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error)
	objectives func(ctx context.Context, req domain.ExplanationRequest) (domain.LearningObjectives, error)
}

func newScriptedProvider(results ...questionResult) *scriptedProvider {
	return &scriptedProvider{questions: results}
}

func ok(q domain.Question) questionResult { return questionResult{q: q} }
func fail(err error) questionResult       { return questionResult{err: err} }

func mcq(prompt string, correct int, options ...string) domain.Question {
	return domain.Question{Prompt: prompt, Options: options, CorrectIndex: correct}
}

func (p *scriptedProvider) GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.Question, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Question{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.questions) == 0 {
		return domain.Question{}, fmt.Errorf("%w: script exhausted", domain.ErrProviderUnavailable)
	}
	next := p.questions[0]
	p.questions = p.questions[1:]
	return next.q, next.err
}

func (p *scriptedProvider) GenerateExplanation(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error) {
	if p.explain != nil {
		return p.explain(ctx, req)
	}
	return domain.Explanation{Text: "answer is " + req.Options[req.CorrectIndex]}, nil
}

func (p *scriptedProvider) GenerateLearningObjectives(ctx context.Context, req domain.ExplanationRequest) (domain.LearningObjectives, error) {
	if p.objectives != nil {
		return p.objectives(ctx, req)
	}
	return domain.LearningObjectives{Content: "objectives for " + req.Prompt, Items: []string{"recall"}}, nil
}

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) domain.QuestionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// manualTicks lets a test deliver countdown ticks one at a time.
type manualTicks struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.once.Do(func() { close(m.stopped) }) }

func (m *manualTicks) newTicker(time.Duration) timer.Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	tk := &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
	m.tickers = append(m.tickers, tk)
	return tk
}

func (m *manualTicks) last() *manualTicker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickers[len(m.tickers)-1]
}

func (m *manualTicks) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

func (m *manualTicker) tick() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-m.stopped:
		return false
	case <-time.After(200 * time.Millisecond):
		return false
	}
}
