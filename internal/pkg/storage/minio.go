package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type MinIOBlobStore struct {
	client *minio.Client
	cfg    *config.MinIOConfig // MinIO的配置信息
}

// NewMinIOBlobStore 创建并返回一个 MinIOBlobStore 实例
func NewMinIOBlobStore(cfg *config.MinIOConfig) (*MinIOBlobStore, error) {
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL, // 根据配置决定是否使用 HTTPS
	})
	if err != nil {
		logger.Error("Failed to initialize MinIO client", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	logger.Info("MinIO client initialized", zap.String("endpoint", cfg.Endpoint))
	return &MinIOBlobStore{
		client: minioClient,
		cfg:    cfg,
	}, nil
}

func (s *MinIOBlobStore) PutBlob(ctx context.Context, bucket, name string, reader io.Reader, size int64, contentType string) (BlobInfo, error) {
	info, err := s.client.PutObject(ctx, bucket, name, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return BlobInfo{}, fmt.Errorf("minio put %s/%s: %w", bucket, name, err)
	}
	return BlobInfo{
		ID:           info.Key,
		Name:         info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
	}, nil
}

func (s *MinIOBlobStore) ListBlobs(ctx context.Context, bucket, prefix string) ([]BlobInfo, error) {
	var blobs []BlobInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio list %s/%s: %w", bucket, prefix, obj.Err)
		}
		blobs = append(blobs, BlobInfo{
			ID:           obj.Key,
			Name:         obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return blobs, nil
}

func (s *MinIOBlobStore) GetBlob(ctx context.Context, bucket, id string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get %s/%s: %w", bucket, id, err)
	}
	// GetObject 是惰性的, 需要 Stat 才能发现对象不存在
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("minio get %s/%s: %w", bucket, id, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("minio stat %s/%s: %w", bucket, id, err)
	}
	return obj, nil
}

func (s *MinIOBlobStore) DeleteBlob(ctx context.Context, bucket, id string) error {
	err := s.client.RemoveObject(ctx, bucket, id, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("minio remove %s/%s: %w", bucket, id, err)
	}
	return nil
}

func (s *MinIOBlobStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check MinIO bucket %s: %w", bucket, err)
	}
	if exists {
		logger.Info("MinIO bucket already exists", zap.String("bucket", bucket))
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		// 并发创建时桶可能已经存在
		exists, errBucketExists := s.client.BucketExists(ctx, bucket)
		if errBucketExists == nil && exists {
			return nil
		}
		return fmt.Errorf("create MinIO bucket %s: %w", bucket, err)
	}
	logger.Info("MinIO bucket created", zap.String("bucket", bucket))
	return nil
}

// BlobURL MinIO 的 URL 格式通常是：Endpoint/bucketName/objectName
func (s *MinIOBlobStore) BlobURL(bucket, id string) string {
	endpoint := s.cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "http://"
		if s.cfg.UseSSL {
			scheme = "https://"
		}
		endpoint = scheme + endpoint
	}
	return fmt.Sprintf("%s/%s/%s", endpoint, bucket, id)
}
