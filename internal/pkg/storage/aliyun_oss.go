package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"go.uber.org/zap"
)

type AliyunOSSBlobStore struct {
	client *oss.Client
	cfg    *config.AliyunOSSConfig // 阿里云OSS的配置信息
}

// NewAliyunOSSBlobStore 创建并返回一个 AliyunOSSBlobStore 实例
func NewAliyunOSSBlobStore(cfg *config.AliyunOSSConfig) (*AliyunOSSBlobStore, error) {
	// OSS Endpoint 应该包含 http:// 或 https:// 前缀
	ossClient, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		logger.Error("Failed to initialize Aliyun OSS client", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize Aliyun OSS client: %w", err)
	}
	logger.Info("Aliyun OSS client initialized", zap.String("endpoint", cfg.Endpoint))
	return &AliyunOSSBlobStore{
		client: ossClient,
		cfg:    cfg,
	}, nil
}

func (s *AliyunOSSBlobStore) bucket(name string) (*oss.Bucket, error) {
	b, err := s.client.Bucket(name)
	if err != nil {
		return nil, fmt.Errorf("get OSS bucket %s: %w", name, err)
	}
	return b, nil
}

func (s *AliyunOSSBlobStore) PutBlob(ctx context.Context, bucketName, name string, reader io.Reader, size int64, contentType string) (BlobInfo, error) {
	bucket, err := s.bucket(bucketName)
	if err != nil {
		return BlobInfo{}, err
	}
	opts := []oss.Option{oss.WithContext(ctx)}
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	if size >= 0 {
		opts = append(opts, oss.ContentLength(size))
	}
	if err := bucket.PutObject(name, reader, opts...); err != nil {
		return BlobInfo{}, fmt.Errorf("oss put %s/%s: %w", bucketName, name, err)
	}
	// PutObject 不返回对象信息, 长度以调用方传入的为准
	return BlobInfo{ID: name, Name: name, Size: size}, nil
}

func (s *AliyunOSSBlobStore) ListBlobs(ctx context.Context, bucketName, prefix string) ([]BlobInfo, error) {
	bucket, err := s.bucket(bucketName)
	if err != nil {
		return nil, err
	}
	var blobs []BlobInfo
	continuation := ""
	for {
		res, err := bucket.ListObjectsV2(
			oss.Prefix(prefix),
			oss.ContinuationToken(continuation),
			oss.MaxKeys(1000),
			oss.WithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf("oss list %s/%s: %w", bucketName, prefix, err)
		}
		for _, obj := range res.Objects {
			blobs = append(blobs, BlobInfo{
				ID:           obj.Key,
				Name:         obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
			})
		}
		if !res.IsTruncated {
			return blobs, nil
		}
		continuation = res.NextContinuationToken
	}
}

func (s *AliyunOSSBlobStore) GetBlob(ctx context.Context, bucketName, id string) (io.ReadCloser, error) {
	bucket, err := s.bucket(bucketName)
	if err != nil {
		return nil, err
	}
	reader, err := bucket.GetObject(id, oss.WithContext(ctx))
	if err != nil {
		var ossErr oss.ServiceError
		if errors.As(err, &ossErr) && ossErr.Code == "NoSuchKey" {
			return nil, fmt.Errorf("oss get %s/%s: %w", bucketName, id, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("oss get %s/%s: %w", bucketName, id, err)
	}
	return reader, nil
}

func (s *AliyunOSSBlobStore) DeleteBlob(ctx context.Context, bucketName, id string) error {
	bucket, err := s.bucket(bucketName)
	if err != nil {
		return err
	}
	// OSS 删除不存在的对象同样返回成功
	if err := bucket.DeleteObject(id, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("oss delete %s/%s: %w", bucketName, id, err)
	}
	return nil
}

func (s *AliyunOSSBlobStore) EnsureBucket(ctx context.Context, bucketName string) error {
	found, err := s.client.IsBucketExist(bucketName)
	if err != nil {
		return fmt.Errorf("check OSS bucket %s: %w", bucketName, err)
	}
	if found {
		return nil
	}
	err = s.client.CreateBucket(bucketName)
	if err != nil {
		var ossErr oss.ServiceError
		if errors.As(err, &ossErr) && (ossErr.Code == "BucketAlreadyExists" || ossErr.Code == "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("create OSS bucket %s: %w", bucketName, err)
	}
	logger.Info("Aliyun OSS bucket created", zap.String("bucket", bucketName))
	return nil
}

// BlobURL 阿里云OSS的URL通常是 bucketName.endpoint/objectName
// 私有桶需要另外生成预签名URL
func (s *AliyunOSSBlobStore) BlobURL(bucketName, id string) string {
	scheme := "http://"
	if s.cfg.UseSSL {
		scheme = "https://"
	}
	endpoint := strings.TrimPrefix(s.cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return fmt.Sprintf("%s%s.%s/%s", scheme, bucketName, endpoint, id)
}
