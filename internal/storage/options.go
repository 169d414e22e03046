package storage

import "time"

type cacheOptions struct {
	now func() time.Time
}

// Option настраивает кэш.
type Option func(*cacheOptions)

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(o *cacheOptions) {
		o.now = now
	}
}

func buildOptions(opts []Option) cacheOptions {
	o := cacheOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
