package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AfshinJalili/tradingplatform/libs/auth"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func TestMemoryLimiterAllowAndReset(t *testing.T) {
	lim := NewMemory(2, time.Second)
	now := time.Now()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, retry, err := lim.Allow(ctx, "user", now)
		if err != nil || !allowed || retry != 0 {
			t.Fatalf("expected allow on call %d", i+1)
		}
	}

	allowed, retry, err := lim.Allow(ctx, "user", now.Add(250*time.Millisecond))
	if err != nil || allowed {
		t.Fatalf("expected rate limit on third call")
	}
	if retry != 750*time.Millisecond {
		t.Fatalf("expected retry after 750ms, got %s", retry)
	}

	allowed, _, err = lim.Allow(ctx, "user", now.Add(2*time.Second))
	if err != nil || !allowed {
		t.Fatalf("expected allow after window reset")
	}
}

func TestRedisLimiterWindow(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	lim := NewRedisLimiter(client, 1, 500*time.Millisecond, "test:")
	ctx := context.Background()

	if allowed, _, err := lim.Allow(ctx, "orders:u1", time.Now()); err != nil || !allowed {
		t.Fatalf("expected allow on first call: %v", err)
	}
	allowed, retryAfter, err := lim.Allow(ctx, "orders:u1", time.Now())
	if err != nil || allowed || retryAfter <= 0 {
		t.Fatalf("expected limited with retry, got %v %s %v", allowed, retryAfter, err)
	}
	if allowed, _, _ := lim.Allow(ctx, "orders:u2", time.Now()); !allowed {
		t.Fatalf("expected independent keys")
	}

	s.FastForward(600 * time.Millisecond)
	if allowed, _, err := lim.Allow(ctx, "orders:u1", time.Now()); err != nil || !allowed {
		t.Fatalf("expected allow after window")
	}
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string, time.Time) (bool, time.Duration, error) {
	return false, 0, errors.New("redis unavailable")
}

func TestFallbackUsesSecondaryOnError(t *testing.T) {
	lim := NewFallback(errLimiter{}, NewMemory(1, time.Minute), slog.Default())
	ctx := context.Background()

	if allowed, _, err := lim.Allow(ctx, "k", time.Now()); err != nil || !allowed {
		t.Fatalf("expected secondary allow, got %v %v", allowed, err)
	}
	if allowed, _, _ := lim.Allow(ctx, "k", time.Now()); allowed {
		t.Fatalf("expected secondary limit")
	}
}

func TestPerUserMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(auth.ContextUserIDKey, c.GetHeader("X-User"))
		c.Next()
	})
	r.POST("/orders", PerUser(NewMemory(1, time.Minute), "orders", slog.Default()), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	do := func(user string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req.Header.Set("X-User", user)
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("alice"); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	w := do("alice")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if w := do("bob"); w.Code != http.StatusCreated {
		t.Fatalf("expected other user to pass, got %d", w.Code)
	}
}
