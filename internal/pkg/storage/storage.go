package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
)

// ErrBlobNotFound 对象不存在
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore 定义了分片上传所需的最小对象存储操作
// 对象以确定性的名字写入, 重复写入同名对象会覆盖, 因此 PutBlob 是幂等的
type BlobStore interface {
	// PutBlob 写入对象, size 为 -1 时表示长度未知
	PutBlob(ctx context.Context, bucket, name string, reader io.Reader, size int64, contentType string) (BlobInfo, error)
	// ListBlobs 列出名字以 prefix 开头的对象
	ListBlobs(ctx context.Context, bucket, prefix string) ([]BlobInfo, error)
	// GetBlob 打开对象读取器，调用方负责关闭
	GetBlob(ctx context.Context, bucket, id string) (io.ReadCloser, error)
	// DeleteBlob 删除对象，对象不存在时不报错
	DeleteBlob(ctx context.Context, bucket, id string) error
	// EnsureBucket 存储桶不存在时创建
	EnsureBucket(ctx context.Context, bucket string) error
	// BlobURL 获取对象的访问URL
	BlobURL(bucket, id string) string
}

// BlobInfo 对象元数据; 所有实现中 ID 与对象名相同
type BlobInfo struct {
	ID           string
	Name         string
	Size         int64
	LastModified time.Time
}

const chunkMarker = "_chunk_"

// ChunkBlobName 返回分片对象名 "{sessionId}_chunk_{index}"，序号不补零
func ChunkBlobName(sessionID string, index int) string {
	return ChunkBlobPrefix(sessionID) + strconv.Itoa(index)
}

// ChunkBlobPrefix 返回某个会话所有分片对象共同的前缀
func ChunkBlobPrefix(sessionID string) string {
	return sessionID + chunkMarker
}

// ParseChunkIndex 从分片对象名中解析出序号。
// 名字必须严格为 ChunkBlobName(sessionID, n) 的形式 (不接受前导零和符号)
func ParseChunkIndex(sessionID, name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, ChunkBlobPrefix(sessionID))
	if !ok || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	if len(rest) > 1 && rest[0] == '0' {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SplitChunkBlobName 从任意分片对象名中拆出会话ID和序号, 供清理孤儿分片使用
func SplitChunkBlobName(name string) (sessionID string, index int, ok bool) {
	i := strings.LastIndex(name, chunkMarker)
	if i <= 0 {
		return "", 0, false
	}
	sessionID = name[:i]
	index, ok = ParseChunkIndex(sessionID, name)
	return sessionID, index, ok
}

// FinalBlobName 合并后文件的对象名
func FinalBlobName(sessionID, fileName string) string {
	return fmt.Sprintf("uploads/%s/%s", sessionID, fileName)
}

// NewBlobStore 根据配置创建存储实现
func NewBlobStore(ctx context.Context, cfg *config.Config) (BlobStore, error) {
	switch cfg.Storage.Type {
	case "minio":
		return NewMinIOBlobStore(&cfg.MinIO)
	case "aliyun_oss":
		return NewAliyunOSSBlobStore(&cfg.AliyunOSS)
	case "s3":
		return NewS3BlobStore(ctx, &cfg.S3)
	case "memory":
		return NewMemoryBlobStore(), nil
	default:
		return nil, fmt.Errorf("invalid storage type %q", cfg.Storage.Type)
	}
}
