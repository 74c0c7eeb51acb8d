package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-tutor-service/internal/app"
	"quiz-tutor-service/internal/domain"
)

// CachingProvider caches generated feedback in Redis so it is shared across instances.
// Explanations are stored as: SET quiz:content:explanation:{hash} {json}
// Objectives are stored as:   SET quiz:content:objectives:{hash}  {json}
// Questions are never cached.
type CachingProvider struct {
	client *redis.Client
	inner  app.ContentProvider
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewCachingProvider(client *redis.Client, inner app.ContentProvider, ttl time.Duration) *CachingProvider {
	return &CachingProvider{
		client: client,
		inner:  inner,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *CachingProvider) GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.Question, error) {
	return p.inner.GenerateQuestion(ctx, req)
}

func (p *CachingProvider) GenerateExplanation(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error) {
	var out domain.Explanation
	err := p.cached(ctx, explanationKey(req), &out, func(ctx context.Context) (any, error) {
		return p.inner.GenerateExplanation(ctx, req)
	})
	return out, err
}

func (p *CachingProvider) GenerateLearningObjectives(ctx context.Context, req domain.ExplanationRequest) (domain.LearningObjectives, error) {
	var out domain.LearningObjectives
	err := p.cached(ctx, objectivesKey(req), &out, func(ctx context.Context) (any, error) {
		return p.inner.GenerateLearningObjectives(ctx, req)
	})
	return out, err
}

// cached decodes key into out, or loads, stores and decodes it. A Redis outage
// degrades to calling the inner provider directly. Concurrent callers share one load
// that outlives any single caller's cancellation.
func (p *CachingProvider) cached(ctx context.Context, key string, out any, load func(context.Context) (any, error)) error {
	if raw, err := p.client.Get(ctx, key).Bytes(); err == nil {
		if json.Unmarshal(raw, out) == nil {
			return nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("content cache read %s: %v", key, err)
	}

	flight := p.sf.DoChan(key, func() (interface{}, error) {
		ctx, cancel := detach(ctx)
		defer cancel()
		// Re-check cache in case another goroutine filled it.
		if raw, err := p.client.Get(ctx, key).Bytes(); err == nil {
			return raw, nil
		}

		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if ttl := p.ttlWithJitter(); ttl > 0 {
			if err := p.client.Set(ctx, key, raw, ttl).Err(); err != nil {
				log.Printf("content cache write %s: %v", key, err)
			}
		}
		return raw, nil
	})

	select {
	case res := <-flight:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), out)
	case <-ctx.Done():
		return ctx.Err()
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

func explanationKey(req domain.ExplanationRequest) string {
	return "quiz:content:explanation:" + req.CacheKey(true)
}

func objectivesKey(req domain.ExplanationRequest) string {
	return "quiz:content:objectives:" + req.CacheKey(false)
}

func (p *CachingProvider) ttlWithJitter() time.Duration {
	if p.ttl <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	jitterMax := int64(p.ttl) / 10
	return p.ttl + time.Duration(p.rnd.Int63n(jitterMax+1))
}
