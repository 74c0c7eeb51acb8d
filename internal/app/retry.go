package app

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"quiz-tutor-service/internal/domain"
)

// RetryPolicy controls automatic refetching of questions after transient provider failures.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Enabled reports whether any retry is configured.
func (p RetryPolicy) Enabled() bool {
	return p.MaxRetries > 0
}

// NextQuestionWithRetry calls RequestNextQuestion, backing off exponentially while the
// provider is unavailable or timing out. Malformed content and state errors are not retried.
func NextQuestionWithRetry(ctx context.Context, session *Session, policy RetryPolicy) (domain.Question, bool, error) {
	var (
		q    domain.Question
		done bool
	)
	op := func() error {
		var err error
		q, done, err = session.RequestNextQuestion(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if !policy.Enabled() {
		err := op()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return q, done, err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy.backOff(), uint64(policy.MaxRetries)), ctx))
	return q, done, err
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func retryable(err error) bool {
	if errors.Is(err, domain.ErrMalformedResponse) || errors.Is(err, domain.ErrStaleResult) {
		return false
	}
	return errors.Is(err, domain.ErrProviderUnavailable) || errors.Is(err, domain.ErrProviderTimeout)
}
