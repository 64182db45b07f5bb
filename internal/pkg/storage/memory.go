package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

// MemoryBlobStore 进程内对象存储, 用于本地开发和测试
type MemoryBlobStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*memoryObject
	now     func() time.Time
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		buckets: make(map[string]map[string]*memoryObject),
		now:     time.Now,
	}
}

// SetClock 替换写入时记录的时间, 测试中用来构造过期分片
func (s *MemoryBlobStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryBlobStore) PutBlob(ctx context.Context, bucket, name string, reader io.Reader, size int64, contentType string) (BlobInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("memory put %s/%s: %w", bucket, name, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return BlobInfo{}, fmt.Errorf("memory put %s/%s: read %d bytes, expected %d", bucket, name, len(data), size)
	}
	if err := ctx.Err(); err != nil {
		return BlobInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		objects = make(map[string]*memoryObject)
		s.buckets[bucket] = objects
	}
	obj := &memoryObject{data: data, contentType: contentType, lastModified: s.now()}
	objects[name] = obj
	return BlobInfo{ID: name, Name: name, Size: int64(len(data)), LastModified: obj.lastModified}, nil
}

func (s *MemoryBlobStore) ListBlobs(ctx context.Context, bucket, prefix string) ([]BlobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var blobs []BlobInfo
	for name, obj := range s.buckets[bucket] {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		blobs = append(blobs, BlobInfo{
			ID:           name,
			Name:         name,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
		})
	}
	// 与对象存储一致, 按字典序返回
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Name < blobs[j].Name })
	return blobs, nil
}

func (s *MemoryBlobStore) GetBlob(ctx context.Context, bucket, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][id]
	if !ok {
		return nil, fmt.Errorf("memory get %s/%s: %w", bucket, id, ErrBlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryBlobStore) DeleteBlob(ctx context.Context, bucket, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], id)
	return nil
}

func (s *MemoryBlobStore) EnsureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]*memoryObject)
	}
	return nil
}

func (s *MemoryBlobStore) BlobURL(bucket, id string) string {
	return fmt.Sprintf("memory://%s/%s", bucket, id)
}

// ContentType 返回写入时记录的内容类型
func (s *MemoryBlobStore) ContentType(bucket, id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][id]
	if !ok {
		return "", false
	}
	return obj.contentType, true
}
