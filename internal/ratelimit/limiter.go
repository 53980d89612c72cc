package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"reward-ledger-go/internal/models"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, scope, key string) bool
}

// RedisLimiter is a fixed-window limiter using Redis INCR/EXPIRE, shared by every
// server instance. It fails open when Redis errors.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(ctx context.Context, client *redis.Client, limit int, window time.Duration) (*RedisLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d per %v", limit, window)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("unable to reach redis: %w", err)
	}
	return &RedisLimiter{client: client, limit: limit, window: window}, nil
}

// key format: rl:<scope>:<window_seconds>:<identifier>
func (l *RedisLimiter) key(scope, ident string) string {
	return "rl:" + scope + ":" + strconv.FormatInt(int64(l.window.Seconds()), 10) + ":" + ident
}

func (l *RedisLimiter) Allow(ctx context.Context, scope, ident string) bool {
	key := l.key(scope, ident)

	val, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		zap.L().Warn("Rate limiter unavailable, allowing request", zap.String("scope", scope), zap.Error(err))
		RLRequests.WithLabelValues(scope).Inc()
		return true
	}

	if val == 1 {
		// first increment, set expiry
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			zap.L().Warn("Failed to set rate limit expiry", zap.String("key", key), zap.Error(err))
		}
	}

	if val > int64(l.limit) {
		RLBlocked.WithLabelValues(scope).Inc()
		return false
	}

	RLRequests.WithLabelValues(scope).Inc()
	return true
}

// maxLocalEntries caps the identifiers a LocalLimiter tracks at once
const maxLocalEntries = 100_000

// LocalLimiter is a per-process token bucket per identifier. A bucket idle for a
// whole window is full again, so it is dropped and recreated on next use.
type LocalLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*localEntry
	every      rate.Limit
	burst      int
	window     time.Duration
	maxEntries int
	lastSweep  time.Time
	now        func() time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &LocalLimiter{
		limiters:   make(map[string]*localEntry),
		every:      rate.Every(window / time.Duration(limit)),
		burst:      limit,
		window:     window,
		maxEntries: maxLocalEntries,
		now:        time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, scope, ident string) bool {
	key := scope + ":" + ident
	now := l.now()

	l.mu.Lock()
	l.sweep(now)
	entry, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxEntries {
			l.evictOldest()
		}
		entry = &localEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	if !entry.limiter.AllowN(now, 1) {
		RLBlocked.WithLabelValues(scope).Inc()
		return false
	}
	RLRequests.WithLabelValues(scope).Inc()
	return true
}

// sweep drops idle buckets at most once per window. Callers hold l.mu.
func (l *LocalLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.window {
			delete(l.limiters, key)
		}
	}
}

func (l *LocalLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range l.limiters {
		if oldestKey == "" || entry.lastSeen.Before(oldest) {
			oldestKey, oldest = key, entry.lastSeen
		}
	}
	delete(l.limiters, oldestKey)
}

// New returns a Redis limiter when REDIS_ADDR is configured and reachable, otherwise
// an in-process limiter. A nil Limiter means rate limiting is disabled.
func New(ctx context.Context, cfg models.RateLimitConfig) Limiter {
	if cfg.PostbackLimit <= 0 {
		zap.L().Info("Postback rate limiting disabled")
		return nil
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDb})
		limiter, err := NewRedisLimiter(ctx, client, cfg.PostbackLimit, cfg.PostbackWindow)
		if err == nil {
			zap.L().Info("Using Redis rate limiter", zap.String("addr", cfg.RedisAddr))
			return limiter
		}
		zap.L().Warn("Redis rate limiter unavailable, falling back to in-process limiter", zap.Error(err))
		_ = client.Close()
	}

	return NewLocalLimiter(cfg.PostbackLimit, cfg.PostbackWindow)
}
