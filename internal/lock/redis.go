package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 只删除自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// 仍持有时续期
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁，持有期间后台按 ttl/3 续期
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

// NewRedisLocker 连接 redis，支持 redis:// URL 或 host:port
func NewRedisLocker(cfg config.LockConfig) (*RedisLocker, error) {
	var client *redis.Client
	if strings.HasPrefix(cfg.RedisUrl, "redis://") || strings.HasPrefix(cfg.RedisUrl, "rediss://") {
		opt, err := redis.ParseURL(cfg.RedisUrl)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.RedisUrl})
	}

	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return NewRedisLockerWithClient(client, ttl), nil
}

func NewRedisLockerWithClient(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retry: 50 * time.Millisecond, prefix: "fundledger:lock:"}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := l.prefix + key

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.watchdog(key, redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// 调用方 ctx 可能已取消，释放使用独立超时
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				logger.Warn("Failed to release lock %s: %v", key, err)
			}
		})
	}, nil
}

// watchdog 持有期间续期，锁已被他人持有时停止
func (l *RedisLocker) watchdog(key, redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		renewed, err := renewScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			logger.Warn("Failed to renew lock %s: %v", key, err)
		case renewed == 0:
			logger.Warn("Lock %s expired before renewal, work under it is no longer exclusive", key)
			return
		}
	}
}

// Close 关闭连接
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
