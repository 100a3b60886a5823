package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Limiter admits or rejects one event for key, reporting how long to wait
// when rejected.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}

// Fallback consults primary and switches to secondary while primary errors.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	logger    *slog.Logger
}

func NewFallback(primary, secondary Limiter, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error) {
	allowed, retryAfter, err := f.primary.Allow(ctx, key, now)
	if err == nil {
		return allowed, retryAfter, nil
	}
	f.logger.Warn("rate limiter fallback", "error", err)
	return f.secondary.Allow(ctx, key, now)
}
