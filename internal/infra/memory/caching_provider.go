package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-tutor-service/internal/app"
	"quiz-tutor-service/internal/domain"
)

// CachingProvider caches explanations and learning objectives with TTL to avoid
// regenerating feedback for a question that was already explained.
// Questions always pass through so every fetch can produce new content.
type CachingProvider struct {
	inner        app.ContentProvider
	explanations *ttlCache[domain.Explanation]
	objectives   *ttlCache[domain.LearningObjectives]
}

func NewCachingProvider(inner app.ContentProvider, ttl time.Duration) *CachingProvider {
	return newCachingProviderWithClock(inner, ttl, time.Now)
}

func newCachingProviderWithClock(inner app.ContentProvider, ttl time.Duration, clock func() time.Time) *CachingProvider {
	return &CachingProvider{
		inner:        inner,
		explanations: newTTLCache[domain.Explanation](ttl, clock),
		objectives:   newTTLCache[domain.LearningObjectives](ttl, clock),
	}
}

func (p *CachingProvider) GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.Question, error) {
	return p.inner.GenerateQuestion(ctx, req)
}

func (p *CachingProvider) GenerateExplanation(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error) {
	return p.explanations.get(ctx, req.CacheKey(true), func(ctx context.Context) (domain.Explanation, error) {
		return p.inner.GenerateExplanation(ctx, req)
	})
}

func (p *CachingProvider) GenerateLearningObjectives(ctx context.Context, req domain.ExplanationRequest) (domain.LearningObjectives, error) {
	return p.objectives.get(ctx, req.CacheKey(false), func(ctx context.Context) (domain.LearningObjectives, error) {
		return p.inner.GenerateLearningObjectives(ctx, req)
	})
}

type cached[T any] struct {
	value     T
	expiresAt time.Time
}

type ttlCache[T any] struct {
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu      sync.RWMutex
	rnd     *rand.Rand
	entries map[string]cached[T]
}

func newTTLCache[T any](ttl time.Duration, clock func() time.Time) *ttlCache[T] {
	return &ttlCache[T]{
		ttl:     ttl,
		clock:   clock,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]cached[T]),
	}
}

func (c *ttlCache[T]) lookup(key string, now time.Time) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if ok && entry.expiresAt.After(now) {
		return entry.value, true
	}
	var zero T
	return zero, false
}

// get returns the cached value or loads it once per key, even under concurrent callers.
// The shared load ignores any single caller's cancellation but keeps its deadline;
// each caller stops waiting when its own ctx is done. Failed loads are not cached.
func (c *ttlCache[T]) get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.lookup(key, c.clock()); ok {
		return v, nil
	}

	flight := c.sf.DoChan(key, func() (interface{}, error) {
		now := c.clock()
		// Re-check cache in case another goroutine filled it.
		if v, ok := c.lookup(key, now); ok {
			return v, nil
		}

		loadCtx, cancel := detach(ctx)
		defer cancel()
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.entries[key] = cached[T]{value: v, expiresAt: now.Add(c.ttlWithJitterLocked())}
			c.mu.Unlock()
		}
		return v, nil
	})

	select {
	case res := <-flight:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// detach drops ctx's cancellation while keeping its values and deadline.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return context.WithCancel(base)
}

// ttlWithJitterLocked adds up to 10% jitter to spread expirations.
func (c *ttlCache[T]) ttlWithJitterLocked() time.Duration {
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
