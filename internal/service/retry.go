package service

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy описывает повтор операции: число попыток, задержку и класс повторяемых ошибок.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff возвращает задержку после неудачной попытки attempt (начиная с 1).
	Backoff func(attempt int) time.Duration
	// Retryable решает, стоит ли повторять после ошибки. nil - не повторять никогда.
	Retryable func(err error) bool
	// Sleep ждет d или отмены ctx. nil - sleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FixedBackoff - одинаковая задержка между попытками.
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff - base * 2^(attempt-1) с джиттером 10%, не больше maxDelay.
func ExponentialBackoff(base, maxDelay time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		delay := float64(base) * math.Pow(2, float64(attempt-1))
		jitter := delay * 0.1 * (rand.Float64()*2 - 1)
		d := time.Duration(delay + jitter)
		if maxDelay > 0 && d > maxDelay {
			d = maxDelay
		}
		return d
	}
}

// Do выполняет op согласно политике.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	})
	return err
}

// Retry выполняет op, пока она не вернет успех, ошибка не станет неповторяемой
// или не закончатся попытки. Возвращается последняя ошибка.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts || p.Retryable == nil || !p.Retryable(err) {
			break
		}
		if p.Backoff == nil {
			continue
		}
		if delay := p.Backoff(attempt); delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return zero, lastErr
			}
		}
	}
	return zero, lastErr
}
