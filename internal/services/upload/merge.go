package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/storage"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const defaultContentType = "application/octet-stream"

// CorruptionError 合并前发现分片对象与会话记录不一致
// Missing 中的分片需要客户端重新上传
type CorruptionError struct {
	SessionID string
	Missing   []int
	Reason    string
}

func (e *CorruptionError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("session %s: %s (missing chunks %v)", e.SessionID, e.Reason, e.Missing)
	}
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return xerr.ErrDataCorruption }

// MergeResult 合并后的最终文件
type MergeResult struct {
	BlobID      string
	URL         string
	Size        int64
	ContentType string
}

// MergeEngine 将一个会话的分片按序号拼接成最终文件
type MergeEngine struct {
	store       storage.BlobStore
	chunkBucket string
}

func NewMergeEngine(store storage.BlobStore, chunkBucket string) *MergeEngine {
	return &MergeEngine{store: store, chunkBucket: chunkBucket}
}

// Merge 校验分片完整性后流式合并到 destBucket, 不删除分片
func (e *MergeEngine) Merge(ctx context.Context, session *models.UploadSession, destBucket string) (*MergeResult, error) {
	names, err := e.orderedChunks(ctx, session)
	if err != nil {
		return nil, err
	}

	contentType, err := e.detectContentType(ctx, session, names[0])
	if err != nil {
		return nil, err
	}

	finalName := storage.FinalBlobName(session.ID, session.FileName)
	reader := &sequentialReader{ctx: ctx, store: e.store, bucket: e.chunkBucket, names: names}
	defer reader.Close()

	info, err := e.store.PutBlob(ctx, destBucket, finalName, reader, session.FileSize, contentType)
	if err != nil {
		// 写入失败时可能留下不完整的对象
		if delErr := e.store.DeleteBlob(context.WithoutCancel(ctx), destBucket, finalName); delErr != nil {
			logger.Warn("Merge: failed to remove partial final blob", zap.String("sessionID", session.ID), zap.Error(delErr))
		}
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, &CorruptionError{SessionID: session.ID, Missing: []int{reader.failedIndex(session.ID)}, Reason: "chunk disappeared during merge"}
		}
		logger.Error("Merge: failed to write final blob", zap.String("sessionID", session.ID), zap.Error(err))
		return nil, xerr.Unavailable("merge chunks", err)
	}
	if reader.read != session.FileSize {
		_ = e.store.DeleteBlob(context.WithoutCancel(ctx), destBucket, finalName)
		return nil, &CorruptionError{SessionID: session.ID, Reason: fmt.Sprintf("merged %d bytes, expected %d", reader.read, session.FileSize)}
	}

	logger.Info("Merge: chunks merged",
		zap.String("sessionID", session.ID),
		zap.String("blob", info.ID),
		zap.Int("chunks", len(names)),
		zap.Int64("size", reader.read))

	return &MergeResult{
		BlobID:      info.ID,
		URL:         e.store.BlobURL(destBucket, info.ID),
		Size:        reader.read,
		ContentType: contentType,
	}, nil
}

// orderedChunks 列出分片并按数字序号排序 (10 排在 9 之后)
func (e *MergeEngine) orderedChunks(ctx context.Context, session *models.UploadSession) ([]string, error) {
	blobs, err := e.store.ListBlobs(ctx, e.chunkBucket, storage.ChunkBlobPrefix(session.ID))
	if err != nil {
		logger.Error("Merge: failed to list chunks", zap.String("sessionID", session.ID), zap.Error(err))
		return nil, xerr.Unavailable("list chunks", err)
	}

	byIndex := make(map[int]storage.BlobInfo, len(blobs))
	var (
		outOfRange []int
		duplicates []int
		damaged    []int
	)
	for _, b := range blobs {
		index, ok := storage.ParseChunkIndex(session.ID, b.Name)
		if !ok {
			continue
		}
		if index < 0 || index >= session.TotalChunks {
			outOfRange = append(outOfRange, index)
			continue
		}
		if _, dup := byIndex[index]; dup {
			duplicates = append(duplicates, index)
			continue
		}
		// 长度不符的分片视为丢失, 要求重传
		if b.Size != session.ExpectedChunkSize(index) {
			damaged = append(damaged, index)
			continue
		}
		byIndex[index] = b
	}

	var missing []int
	for i := 0; i < session.TotalChunks; i++ {
		if _, ok := byIndex[i]; !ok {
			missing = append(missing, i)
		}
	}

	switch {
	case len(duplicates) > 0:
		return nil, &CorruptionError{SessionID: session.ID, Reason: fmt.Sprintf("duplicate chunks %v", duplicates)}
	case len(outOfRange) > 0:
		return nil, &CorruptionError{SessionID: session.ID, Reason: fmt.Sprintf("chunk indices out of range %v", outOfRange)}
	case len(missing) > 0:
		sort.Ints(damaged)
		reason := "chunks missing"
		if len(damaged) > 0 {
			reason = fmt.Sprintf("chunks missing or damaged %v", damaged)
		}
		return nil, &CorruptionError{SessionID: session.ID, Missing: missing, Reason: reason}
	case len(byIndex) != session.TotalChunks:
		return nil, &CorruptionError{SessionID: session.ID, Reason: fmt.Sprintf("found %d chunks, expected %d", len(byIndex), session.TotalChunks)}
	}

	names := make([]string, session.TotalChunks)
	for i := range names {
		names[i] = byIndex[i].Name
	}
	return names, nil
}

// detectContentType 先按扩展名, 再嗅探首个分片
func (e *MergeEngine) detectContentType(ctx context.Context, session *models.UploadSession, firstChunk string) (string, error) {
	if ext := strings.ToLower(filepath.Ext(session.FileName)); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct, nil
		}
	}

	rc, err := e.store.GetBlob(ctx, e.chunkBucket, firstChunk)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return "", &CorruptionError{SessionID: session.ID, Missing: []int{0}, Reason: "chunk disappeared during merge"}
		}
		return "", xerr.Unavailable("read first chunk", err)
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		logger.Warn("Merge: content type detection failed", zap.String("sessionID", session.ID), zap.Error(err))
		return defaultContentType, nil
	}
	return mt.String(), nil
}

// DiscardChunks 尽力删除会话的所有分片对象, 返回删除成功的数量
func (e *MergeEngine) DiscardChunks(ctx context.Context, sessionID string) int {
	blobs, err := e.store.ListBlobs(ctx, e.chunkBucket, storage.ChunkBlobPrefix(sessionID))
	if err != nil {
		logger.Warn("DiscardChunks: failed to list chunks", zap.String("sessionID", sessionID), zap.Error(err))
		return 0
	}
	return e.deleteBlobs(ctx, sessionID, blobs)
}

func (e *MergeEngine) deleteBlobs(ctx context.Context, sessionID string, blobs []storage.BlobInfo) int {
	deleted := 0
	for _, b := range blobs {
		if err := e.store.DeleteBlob(ctx, e.chunkBucket, b.ID); err != nil {
			logger.Warn("DiscardChunks: failed to delete chunk",
				zap.String("sessionID", sessionID),
				zap.String("blob", b.ID),
				zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted
}

// sequentialReader 依次打开分片, 读完一个关闭一个
type sequentialReader struct {
	ctx    context.Context
	store  storage.BlobStore
	bucket string
	names  []string

	next int
	cur  io.ReadCloser
	read int64
}

func (r *sequentialReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= len(r.names) {
				return 0, io.EOF
			}
			rc, err := r.store.GetBlob(r.ctx, r.bucket, r.names[r.next])
			if err != nil {
				return 0, err
			}
			r.cur = rc
			r.next++
		}

		n, err := r.cur.Read(p)
		r.read += int64(n)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *sequentialReader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}

// failedIndex 打开失败的分片序号
func (r *sequentialReader) failedIndex(sessionID string) int {
	if r.next < len(r.names) {
		if index, ok := storage.ParseChunkIndex(sessionID, r.names[r.next]); ok {
			return index
		}
	}
	return 0
}
