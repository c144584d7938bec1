// Package ratelimit throttles clients per route group.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Rule allows Limit requests per Window for each client key.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

var (
	Submissions = Rule{Name: "submissions", Limit: 5, Window: time.Hour}
	Auth        = Rule{Name: "auth", Limit: 10, Window: time.Minute}
	API         = Rule{Name: "api", Limit: 100, Window: time.Minute}
)

type Limiter interface {
	Allow(ctx context.Context, rule Rule, key string) (bool, error)
}

// RedisLimiter counts requests in fixed windows shared by every API process.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit:", now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, rule Rule, key string) (bool, error) {
	window := l.now().UnixNano() / int64(rule.Window)
	redisKey := fmt.Sprintf("%s%s:%s:%d", l.prefix, rule.Name, key, window)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", rule.Name, err)
	}
	return count.Val() <= int64(rule.Limit), nil
}

// LocalLimiter is a per-process token bucket used when Redis is not configured.
type LocalLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	maxIdle   time.Duration
	lastPrune time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		maxIdle: 2 * time.Hour,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, rule Rule, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	id := rule.Name + ":" + key
	b, ok := l.buckets[id]
	if !ok {
		every := rule.Window / time.Duration(rule.Limit)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), rule.Limit)}
		l.buckets[id] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// prune drops buckets idle long enough to have refilled completely.
func (l *LocalLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < time.Minute {
		return
	}
	l.lastPrune = now
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.maxIdle {
			delete(l.buckets, id)
		}
	}
}
