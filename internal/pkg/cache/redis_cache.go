package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix = "upload:cache:"
	redisOpTimeout = 2 * time.Second
)

// RedisSessionCache 多实例共享的会话缓存。
// Redis 出错时按未命中处理, 由调用方回源到持久化存储。
type RedisSessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SessionCache = (*RedisSessionCache)(nil)

func NewRedisSessionCache(client *redis.Client, ttl time.Duration) *RedisSessionCache {
	return &RedisSessionCache{client: client, ttl: ttl}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

func (r *RedisSessionCache) Get(id string) (*models.UploadSession, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("Failed to get session from Redis", zap.String("sessionID", id), zap.Error(err))
		}
		return nil, false
	}

	var session models.UploadSession
	if err := json.Unmarshal(data, &session); err != nil {
		logger.Error("Failed to unmarshal cached session", zap.String("sessionID", id), zap.Error(err))
		r.Del(id)
		return nil, false
	}
	return &session, true
}

func (r *RedisSessionCache) Set(session *models.UploadSession) {
	if session == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		logger.Error("Failed to marshal session", zap.String("sessionID", session.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Set(ctx, redisKey(session.ID), data, r.ttl).Err(); err != nil {
		logger.Warn("Failed to set session in Redis", zap.String("sessionID", session.ID), zap.Error(err))
	}
}

func (r *RedisSessionCache) Del(ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKey(id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		logger.Error("Failed to delete sessions from Redis", zap.Strings("sessionIDs", ids), zap.Error(err))
	}
}

// Len 遍历前缀统计, 仅用于诊断
func (r *RedisSessionCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			logger.Warn("Failed to scan cached sessions", zap.Error(err))
			return n
		}
		n += len(keys)
		if next == 0 {
			return n
		}
		cursor = next
	}
}
