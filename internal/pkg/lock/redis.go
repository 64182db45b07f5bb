package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 只有持有者 token 匹配时才删除, 防止误删他人在 TTL 过期后获得的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// 续期同样校验 token, 锁已易主时返回 0
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的跨实例锁。
// 持有期间后台按 ttl/3 的间隔续期, 长时间的合并不会因租约过期被其他实例抢走。
type RedisLocker struct {
	client          *redis.Client
	ttl             time.Duration
	retryDelay      time.Duration
	refreshInterval time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		client:          client,
		ttl:             ttl,
		retryDelay:      50 * time.Millisecond,
		refreshInterval: ttl / 3,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-timer.C:
		}

		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			logger.Error("Failed to acquire redis lock", zap.String("key", key), zap.Error(err))
			return nil, fmt.Errorf("获取 Redis 锁失败: %w", err)
		}
		if ok {
			return l.releaseFunc(key, token), nil
		}
		timer.Reset(l.retryDelay)
	}
}

func (l *RedisLocker) releaseFunc(key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// 调用方的 ctx 可能已经取消, 释放使用独立的超时
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				logger.Warn("Failed to release redis lock", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

// keepAlive 定期延长租约直到 stop 关闭或锁已不属于自己
func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.refreshInterval)
		n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			// 网络抖动时继续尝试, 租约在 ttl 内仍然有效
			logger.Warn("Failed to refresh redis lock", zap.String("key", key), zap.Error(err))
			continue
		}
		if n == 0 {
			logger.Error("Redis lock lost before release", zap.String("key", key))
			return
		}
	}
}
