// Package service 令牌签发限流
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 限流默认值
const (
	DefaultRateCeiling = 10
	DefaultRateWindow  = 60 * time.Second
)

// RateLimitStore 固定窗口计数存储
// 单进程内存实现与 Redis 实现可互换，多进程部署必须使用 Redis
type RateLimitStore interface {
	// Incr 自增标识在当前窗口内的计数，返回自增后的计数与窗口重置时间
	Incr(ctx context.Context, identity string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// RateLimitResult 限流判定结果
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // 拒绝时客户端应等待的时长
}

// RateLimiter 固定窗口限流器
// 固定窗口在边界处最多放行 2 倍突发，作为实现简单性的接受代价
type RateLimiter struct {
	store   RateLimitStore
	ceiling int
	window  time.Duration
}

// NewRateLimiter 创建限流器
func NewRateLimiter(store RateLimitStore, ceiling int, window time.Duration) *RateLimiter {
	if ceiling <= 0 {
		ceiling = DefaultRateCeiling
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		store:   store,
		ceiling: ceiling,
		window:  window,
	}
}

// Allow 消费一次配额
func (l *RateLimiter) Allow(ctx context.Context, identity string) (*RateLimitResult, error) {
	count, resetAt, err := l.store.Incr(ctx, identity, l.window)
	if err != nil {
		return nil, fmt.Errorf("限流计数失败: %w", err)
	}

	remaining := l.ceiling - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := &RateLimitResult{
		Allowed:   count <= int64(l.ceiling),
		Remaining: remaining,
	}
	if !result.Allowed {
		result.RetryAfter = time.Until(resetAt)
	}
	return result, nil
}

// Ceiling 当前限流上限
func (l *RateLimiter) Ceiling() int {
	return l.ceiling
}

// memoryWindow 内存存储中单个标识的窗口状态
type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryRateLimitStore 进程内固定窗口计数存储
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

// NewMemoryRateLimitStore 创建内存计数存储
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		windows: make(map[string]*memoryWindow),
	}
}

// Incr 自增计数
// 窗口严格到期后整体重置，不做漏桶式平滑
func (s *MemoryRateLimitStore) Incr(ctx context.Context, identity string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	w, exists := s.windows[identity]
	if !exists || now.After(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		s.windows[identity] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Sweep 清理已过期的窗口，防止长期运行下内存无界增长
// 由调用方周期触发
func (s *MemoryRateLimitStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for identity, w := range s.windows {
		if now.After(w.resetAt) {
			delete(s.windows, identity)
			removed++
		}
	}
	return removed
}

// Len 当前窗口条目数
func (s *MemoryRateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// rateLimitKeyPrefix Redis key 前缀
const rateLimitKeyPrefix = "playback:ratelimit:"

// RedisRateLimitStore Redis 固定窗口计数存储
// key 随窗口过期自动清理，无需额外清扫
type RedisRateLimitStore struct {
	client *redis.Client
}

// NewRedisRateLimitStore 创建 Redis 计数存储
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// Incr 自增计数
func (s *RedisRateLimitStore) Incr(ctx context.Context, identity string, window time.Duration) (int64, time.Time, error) {
	key := rateLimitKeyPrefix + identity

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	// 窗口首个请求时设置过期
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		return count, time.Now().Add(window), nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if ttl < 0 {
		// 过期设置失败的残留 key，补设过期
		s.client.Expire(ctx, key, window)
		ttl = window
	}
	return count, time.Now().Add(ttl), nil
}
