package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-tutor-service/internal/domain"
)

type countingProvider struct {
	*StaticProvider
	mu           sync.Mutex
	questions    int
	explanations int
	objectives   int
	failNext     bool
}

func (p *countingProvider) GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.Question, error) {
	p.mu.Lock()
	p.questions++
	p.mu.Unlock()
	return p.StaticProvider.GenerateQuestion(ctx, req)
}

func (p *countingProvider) GenerateExplanation(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error) {
	p.mu.Lock()
	p.explanations++
	fail := p.failNext
	p.failNext = false
	p.mu.Unlock()
	if fail {
		return domain.Explanation{}, domain.ErrProviderUnavailable
	}
	return p.StaticProvider.GenerateExplanation(ctx, req)
}

func (p *countingProvider) GenerateLearningObjectives(ctx context.Context, req domain.ExplanationRequest) (domain.LearningObjectives, error) {
	p.mu.Lock()
	p.objectives++
	p.mu.Unlock()
	return p.StaticProvider.GenerateLearningObjectives(ctx, req)
}

func explanationRequest(selected int) domain.ExplanationRequest {
	q := SampleBank()[0].Question
	return domain.ExplanationRequest{
		Subject:       "Anatomy",
		Subtopic:      "Heart",
		Difficulty:    domain.DifficultyBasic,
		Prompt:        q.Prompt,
		Options:       q.Options,
		CorrectIndex:  q.CorrectIndex,
		SelectedIndex: &selected,
	}
}

func TestCachingProviderCachesFeedback(t *testing.T) {
	inner := &countingProvider{StaticProvider: NewStaticProvider(SampleBank())}
	provider := NewCachingProvider(inner, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := provider.GenerateExplanation(ctx, explanationRequest(1)); err != nil {
			t.Fatalf("explanation: %v", err)
		}
		if _, err := provider.GenerateLearningObjectives(ctx, explanationRequest(i)); err != nil {
			t.Fatalf("objectives: %v", err)
		}
	}
	if inner.explanations != 1 {
		t.Fatalf("expected one explanation load, got %d", inner.explanations)
	}
	if inner.objectives != 1 {
		t.Fatalf("objectives ignore the selection, expected one load, got %d", inner.objectives)
	}

	if _, err := provider.GenerateExplanation(ctx, explanationRequest(0)); err != nil {
		t.Fatalf("explanation: %v", err)
	}
	if inner.explanations != 2 {
		t.Fatalf("a different selection must miss the cache, got %d loads", inner.explanations)
	}
}

func TestCachingProviderNeverCachesQuestions(t *testing.T) {
	inner := &countingProvider{StaticProvider: NewStaticProvider(SampleBank())}
	provider := NewCachingProvider(inner, time.Minute)
	req := domain.QuestionRequest{Subject: "Anatomy", Subtopic: "Heart", Difficulty: domain.DifficultyBasic}

	for i := 0; i < 3; i++ {
		if _, err := provider.GenerateQuestion(context.Background(), req); err != nil {
			t.Fatalf("question: %v", err)
		}
	}
	if inner.questions != 3 {
		t.Fatalf("expected every question fetch to reach the provider, got %d", inner.questions)
	}
}

func TestCachingProviderSkipsFailuresAndExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	inner := &countingProvider{StaticProvider: NewStaticProvider(SampleBank()), failNext: true}
	provider := newCachingProviderWithClock(inner, time.Minute, clock)
	ctx := context.Background()

	if _, err := provider.GenerateExplanation(ctx, explanationRequest(1)); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected provider failure, got %v", err)
	}
	if _, err := provider.GenerateExplanation(ctx, explanationRequest(1)); err != nil {
		t.Fatalf("explanation after failure: %v", err)
	}
	if inner.explanations != 2 {
		t.Fatalf("failures must not be cached, got %d loads", inner.explanations)
	}

	now = now.Add(2 * time.Minute)
	if _, err := provider.GenerateExplanation(ctx, explanationRequest(1)); err != nil {
		t.Fatalf("explanation after expiry: %v", err)
	}
	if inner.explanations != 3 {
		t.Fatalf("expected reload after ttl, got %d loads", inner.explanations)
	}
}

// gatedProvider blocks explanation loads until release is closed or ctx ends.
type gatedProvider struct {
	*StaticProvider
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	loads   int
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{
		StaticProvider: NewStaticProvider(SampleBank()),
		started:        make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
}

func (p *gatedProvider) GenerateExplanation(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error) {
	p.mu.Lock()
	p.loads++
	p.mu.Unlock()
	select {
	case p.started <- struct{}{}:
	default:
	}
	select {
	case <-p.release:
		return p.StaticProvider.GenerateExplanation(ctx, req)
	case <-ctx.Done():
		return domain.Explanation{}, ctx.Err()
	}
}

func (p *gatedProvider) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

func TestCachingProviderSharedLoadOutlivesCallerCancel(t *testing.T) {
	inner := newGatedProvider()
	provider := NewCachingProvider(inner, time.Minute)
	req := explanationRequest(1)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := provider.GenerateExplanation(ctxA, req)
		errA <- err
	}()
	<-inner.started

	type result struct {
		exp domain.Explanation
		err error
	}
	resB := make(chan result, 1)
	go func() {
		exp, err := provider.GenerateExplanation(context.Background(), req)
		resB <- result{exp, err}
	}()
	// let the second caller join the in-flight load
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller should see its own cancellation, got %v", err)
	}

	close(inner.release)
	res := <-resB
	if res.err != nil {
		t.Fatalf("live caller failed because another caller was cancelled: %v", res.err)
	}
	if res.exp.Text == "" {
		t.Fatalf("expected explanation text")
	}
	if n := inner.loadCount(); n != 1 {
		t.Fatalf("expected one shared load, got %d", n)
	}

	// the detached load still filled the cache
	if _, err := provider.GenerateExplanation(context.Background(), req); err != nil {
		t.Fatalf("explanation: %v", err)
	}
	if n := inner.loadCount(); n != 1 {
		t.Fatalf("expected cache hit, got %d loads", n)
	}
}
