package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-tutor-service/internal/domain"
	"quiz-tutor-service/internal/infra/memory"
)

func TestCachingProviderStoresFeedbackInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	inner := &countingProvider{StaticProvider: memory.NewStaticProvider(memory.SampleBank())}
	provider := NewCachingProvider(client, inner, time.Minute)
	req := sampleRequest()

	first, err := provider.GenerateExplanation(context.Background(), req)
	if err != nil {
		t.Fatalf("explanation: %v", err)
	}
	if inner.explanations != 1 {
		t.Fatalf("expected provider called once, got %d", inner.explanations)
	}
	if !mr.Exists(explanationKey(req)) {
		t.Fatalf("expected explanation key in redis")
	}
	if ttl := mr.TTL(explanationKey(req)); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("expected ttl with up to 10%% jitter, got %v", ttl)
	}

	// Second call should hit cache, provider not incremented.
	second, err := provider.GenerateExplanation(context.Background(), req)
	if err != nil {
		t.Fatalf("explanation: %v", err)
	}
	if inner.explanations != 1 {
		t.Fatalf("expected cache hit, provider calls=%d", inner.explanations)
	}
	if first != second {
		t.Fatalf("cached explanation differs: %+v vs %+v", first, second)
	}

	objectives, err := provider.GenerateLearningObjectives(context.Background(), req)
	if err != nil {
		t.Fatalf("objectives: %v", err)
	}
	if _, err := provider.GenerateLearningObjectives(context.Background(), req); err != nil {
		t.Fatalf("objectives: %v", err)
	}
	if inner.objectives != 1 || len(objectives.Items) == 0 {
		t.Fatalf("expected cached objectives, calls=%d items=%v", inner.objectives, objectives.Items)
	}
}

func TestCachingProviderFallsBackWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := newClient(mr)
	mr.Close()

	inner := &countingProvider{StaticProvider: memory.NewStaticProvider(memory.SampleBank())}
	provider := NewCachingProvider(client, inner, time.Minute)

	exp, err := provider.GenerateExplanation(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("expected provider result despite redis outage, got %v", err)
	}
	if exp.Text == "" {
		t.Fatalf("expected explanation text")
	}
}

type countingProvider struct {
	*memory.StaticProvider
	explanations int
	objectives   int
}

func (p *countingProvider) GenerateExplanation(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error) {
	p.explanations++
	return p.StaticProvider.GenerateExplanation(ctx, req)
}

func (p *countingProvider) GenerateLearningObjectives(ctx context.Context, req domain.ExplanationRequest) (domain.LearningObjectives, error) {
	p.objectives++
	return p.StaticProvider.GenerateLearningObjectives(ctx, req)
}

func sampleRequest() domain.ExplanationRequest {
	q := memory.SampleBank()[0].Question
	selected := 0
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

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}

type gatedProvider struct {
	*memory.StaticProvider
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	loads   int
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
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	inner := &gatedProvider{
		StaticProvider: memory.NewStaticProvider(memory.SampleBank()),
		started:        make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
	provider := NewCachingProvider(newClient(mr), inner, time.Minute)
	req := sampleRequest()

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := provider.GenerateExplanation(ctxA, req)
		errA <- err
	}()
	<-inner.started

	errB := make(chan error, 1)
	go func() {
		_, err := provider.GenerateExplanation(context.Background(), req)
		errB <- err
	}()
	// let the second caller join the in-flight load
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller should see its own cancellation, got %v", err)
	}

	close(inner.release)
	if err := <-errB; err != nil {
		t.Fatalf("live caller failed because another caller was cancelled: %v", err)
	}
	if n := inner.loadCount(); n != 1 {
		t.Fatalf("expected one shared load, got %d", n)
	}
	if !mr.Exists(explanationKey(req)) {
		t.Fatalf("expected the shared load to populate redis")
	}
}
