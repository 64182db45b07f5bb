package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/storage"
	"go.uber.org/zap"
)

// InitStorage 初始化对象存储并确保分片桶和成品桶存在
func InitStorage(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	store, err := storage.NewBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化存储服务失败: %w", err)
	}
	logger.Info("存储服务已选择并初始化", zap.String("type", cfg.Storage.Type))

	// 为外部调用使用带超时的上下文
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, bucket := range []string{cfg.Storage.ChunkBucket, cfg.Storage.FinalBucket} {
		if err := store.EnsureBucket(ctx, bucket); err != nil {
			return nil, fmt.Errorf("确保存储桶 %s 存在失败: %w", bucket, err)
		}
		logger.Info("存储桶已就绪", zap.String("bucketName", bucket))
	}
	return store, nil
}
