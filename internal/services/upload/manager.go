package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/cache"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/lock"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/storage"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"github.com/3Eeeecho/go-chunkupload/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// loadTimeout 缓存未命中时等锁和读取会话的上限
const loadTimeout = 30 * time.Second

// SessionManager 分片上传会话的全部操作
type SessionManager interface {
	InitUpload(ctx context.Context, ownerID, fileName string, fileSize int64) (*models.UploadInitResponse, error)
	UploadChunk(ctx context.Context, sessionID, ownerID string, index int, data io.Reader, size int64) (*models.UploadChunkResponse, error)
	CompleteUpload(ctx context.Context, sessionID, ownerID string) (*models.UploadCompleteResponse, error)
	GetStatus(ctx context.Context, sessionID, ownerID string) (*models.UploadStatusResponse, error)
	CancelUpload(ctx context.Context, sessionID, ownerID string) error
	// Evict 从缓存中移除会话, 不影响持久化记录
	Evict(sessionIDs ...string)
}

// FinalizeHook 会话合并成功后被调用, 失败不影响上传结果
type FinalizeHook interface {
	OnFinalized(ctx context.Context, session *models.UploadSession, result *MergeResult)
}

// Deps 会话管理器和清理器共用的依赖
type Deps struct {
	Repo   repositories.SessionRepository
	Store  storage.BlobStore
	Locker lock.Locker
	Cache  cache.SessionCache // 为空时使用进程内缓存
	Hook   FinalizeHook       // 可选
	Now    func() time.Time   // 可选, 测试中替换时钟
}

func (d *Deps) withDefaults() {
	if d.Locker == nil {
		d.Locker = lock.NewKeyedLocker()
	}
	if d.Cache == nil {
		d.Cache = cache.NewSessionCache()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

type sessionManager struct {
	repo   repositories.SessionRepository
	store  storage.BlobStore
	engine *MergeEngine
	locker lock.Locker
	cache  cache.SessionCache
	hook   FinalizeHook
	now    func() time.Time
	group  singleflight.Group

	chunkSize   int64
	maxFileSize int64
	chunkBucket string
	finalBucket string
}

var _ SessionManager = (*sessionManager)(nil)

// NewSessionManager 创建会话管理器
func NewSessionManager(cfg *config.Config, deps Deps) SessionManager {
	deps.withDefaults()
	return &sessionManager{
		repo:        deps.Repo,
		store:       deps.Store,
		engine:      NewMergeEngine(deps.Store, cfg.Storage.ChunkBucket),
		locker:      deps.Locker,
		cache:       deps.Cache,
		hook:        deps.Hook,
		now:         deps.Now,
		chunkSize:   cfg.Upload.ChunkSize,
		maxFileSize: cfg.Upload.MaxFileSize,
		chunkBucket: cfg.Storage.ChunkBucket,
		finalBucket: cfg.Storage.FinalBucket,
	}
}

// InitUpload 创建上传会话
func (m *sessionManager) InitUpload(ctx context.Context, ownerID, fileName string, fileSize int64) (*models.UploadInitResponse, error) {
	if ownerID == "" {
		return nil, xerr.InvalidArgument("ownerId is required")
	}
	name := baseName(fileName)
	if name == "" {
		return nil, xerr.InvalidArgument("invalid file name %q", fileName)
	}
	if fileSize <= 0 {
		return nil, xerr.InvalidArgument("fileSize must be positive, got %d", fileSize)
	}
	if m.maxFileSize > 0 && fileSize > m.maxFileSize {
		return nil, fmt.Errorf("%w: %d > %d", xerr.ErrFileTooLarge, fileSize, m.maxFileSize)
	}

	now := m.now()
	session := &models.UploadSession{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		FileName:       name,
		FileSize:       fileSize,
		ChunkSize:      m.chunkSize,
		TotalChunks:    models.TotalChunksFor(fileSize, m.chunkSize),
		UploadedChunks: []int{},
		Status:         models.StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.repo.Create(ctx, session); err != nil {
		logger.Error("InitUpload: failed to create session", zap.String("ownerID", ownerID), zap.Error(err))
		return nil, xerr.Unavailable("create session", err)
	}
	m.cache.Set(session)

	logger.Info("InitUpload: session created",
		zap.String("sessionID", session.ID),
		zap.String("ownerID", ownerID),
		zap.String("fileName", name),
		zap.Int64("fileSize", fileSize),
		zap.Int("totalChunks", session.TotalChunks))

	return &models.UploadInitResponse{
		SessionID:   session.ID,
		ChunkSize:   session.ChunkSize,
		TotalChunks: session.TotalChunks,
	}, nil
}

// UploadChunk 接收一个分片; 重复上传同一分片是幂等的
func (m *sessionManager) UploadChunk(ctx context.Context, sessionID, ownerID string, index int, data io.Reader, size int64) (*models.UploadChunkResponse, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(session, ownerID); err != nil {
		return nil, err
	}
	if session.Status == models.StatusFinalized {
		return nil, fmt.Errorf("%w: session %s", xerr.ErrUploadFinalized, sessionID)
	}
	if index < 0 || index >= session.TotalChunks {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", xerr.ErrChunkIndexOutOfRange, index, session.TotalChunks)
	}
	if expected := session.ExpectedChunkSize(index); size != expected {
		return nil, fmt.Errorf("%w: chunk %d has %d bytes, expected %d", xerr.ErrChunkSizeMismatch, index, size, expected)
	}

	// 分片对象名是确定的, 在锁外写入
	blobName := storage.ChunkBlobName(sessionID, index)
	if _, err := m.store.PutBlob(ctx, m.chunkBucket, blobName, data, size, defaultContentType); err != nil {
		logger.Error("UploadChunk: failed to store chunk", zap.String("sessionID", sessionID), zap.Int("chunkIndex", index), zap.Error(err))
		return nil, xerr.Unavailable("store chunk", err)
	}

	release, err := m.locker.Acquire(ctx, lock.SessionKey(sessionID))
	if err != nil {
		return nil, xerr.Unavailable("lock session", err)
	}
	defer release()

	// 锁内以持久化记录为准, 其他实例可能已经修改了会话
	fresh, err := m.repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, xerr.ErrNotFound) {
			m.dropOrphanChunk(ctx, sessionID, blobName)
			return nil, err
		}
		return nil, xerr.Unavailable("load session", err)
	}
	if fresh.Status == models.StatusFinalized {
		m.dropOrphanChunk(ctx, sessionID, blobName)
		return nil, fmt.Errorf("%w: session %s", xerr.ErrUploadFinalized, sessionID)
	}

	if fresh.AddChunk(index) || fresh.IsComplete() != (fresh.Status == models.StatusCompleted) {
		if fresh.IsComplete() {
			fresh.Status = models.StatusCompleted
		} else {
			fresh.Status = models.StatusInProgress
		}
		fresh.UpdatedAt = m.now()
		if err := m.repo.Update(ctx, fresh); err != nil {
			if errors.Is(err, xerr.ErrNotFound) {
				m.dropOrphanChunk(ctx, sessionID, blobName)
				return nil, err
			}
			logger.Error("UploadChunk: failed to persist session", zap.String("sessionID", sessionID), zap.Error(err))
			return nil, xerr.Unavailable("update session", err)
		}
	}
	m.cache.Set(fresh)

	logger.Debug("UploadChunk: chunk accepted",
		zap.String("sessionID", sessionID),
		zap.Int("chunkIndex", index),
		zap.Int("uploadedChunks", fresh.UploadedCount),
		zap.Int("totalChunks", fresh.TotalChunks))

	return &models.UploadChunkResponse{
		Accepted:       true,
		Completed:      fresh.IsComplete(),
		UploadedChunks: fresh.UploadedCount,
		TotalChunks:    fresh.TotalChunks,
	}, nil
}

// dropOrphanChunk 会话已被取消或合并, 刚写入的分片不再需要
func (m *sessionManager) dropOrphanChunk(ctx context.Context, sessionID, blobName string) {
	m.cache.Del(sessionID)
	if err := m.store.DeleteBlob(context.WithoutCancel(ctx), m.chunkBucket, blobName); err != nil {
		logger.Warn("UploadChunk: failed to remove orphan chunk", zap.String("sessionID", sessionID), zap.String("blob", blobName), zap.Error(err))
	}
}

// CompleteUpload 合并全部分片并把会话标记为 finalized
func (m *sessionManager) CompleteUpload(ctx context.Context, sessionID, ownerID string) (*models.UploadCompleteResponse, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(session, ownerID); err != nil {
		return nil, err
	}
	if err := checkCompletable(session); err != nil {
		return nil, err
	}

	release, err := m.locker.Acquire(ctx, lock.SessionKey(sessionID))
	if err != nil {
		return nil, xerr.Unavailable("lock session", err)
	}
	defer release()

	fresh, err := m.repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, xerr.ErrNotFound) {
			m.cache.Del(sessionID)
			return nil, err
		}
		return nil, xerr.Unavailable("load session", err)
	}
	if err := checkCompletable(fresh); err != nil {
		m.cache.Set(fresh)
		return nil, err
	}

	result, err := m.engine.Merge(ctx, fresh, m.finalBucket)
	if err != nil {
		var corruption *CorruptionError
		if errors.As(err, &corruption) {
			m.revertMissing(ctx, fresh, corruption)
		}
		logger.Error("CompleteUpload: merge failed", zap.String("sessionID", sessionID), zap.Error(err))
		return nil, err
	}

	fresh.Status = models.StatusFinalized
	fresh.FinalFileID = &result.BlobID
	fresh.FinalFileURL = &result.URL
	fresh.UpdatedAt = m.now()
	if err := m.repo.Update(ctx, fresh); err != nil {
		// 未能持久化则删除最终文件, 会话保持可重试
		if delErr := m.store.DeleteBlob(context.WithoutCancel(ctx), m.finalBucket, result.BlobID); delErr != nil {
			logger.Warn("CompleteUpload: failed to remove final blob", zap.String("sessionID", sessionID), zap.Error(delErr))
		}
		logger.Error("CompleteUpload: failed to persist finalized session", zap.String("sessionID", sessionID), zap.Error(err))
		if errors.Is(err, xerr.ErrNotFound) {
			return nil, err
		}
		return nil, xerr.Unavailable("finalize session", err)
	}
	m.cache.Del(sessionID)

	discarded := m.engine.DiscardChunks(ctx, sessionID)
	logger.Info("CompleteUpload: session finalized",
		zap.String("sessionID", sessionID),
		zap.String("fileID", result.BlobID),
		zap.Int64("size", result.Size),
		zap.Int("chunksDiscarded", discarded))

	if m.hook != nil {
		m.hook.OnFinalized(ctx, fresh.Clone(), result)
	}

	return &models.UploadCompleteResponse{
		SessionID: sessionID,
		FileID:    result.BlobID,
		FileURL:   result.URL,
	}, nil
}

// revertMissing 丢失的分片从会话中移除, 客户端重新上传后可再次合并
func (m *sessionManager) revertMissing(ctx context.Context, session *models.UploadSession, corruption *CorruptionError) {
	if len(corruption.Missing) == 0 {
		return
	}
	session.RemoveChunks(corruption.Missing...)
	session.Status = models.StatusInProgress
	session.UpdatedAt = m.now()
	if err := m.repo.Update(ctx, session); err != nil {
		logger.Error("CompleteUpload: failed to revert session", zap.String("sessionID", session.ID), zap.Error(err))
		m.cache.Del(session.ID)
		return
	}
	m.cache.Set(session)
	logger.Warn("CompleteUpload: chunks missing, session reverted to in_progress",
		zap.String("sessionID", session.ID),
		zap.Ints("missing", corruption.Missing))
}

// GetStatus 返回会话进度
func (m *sessionManager) GetStatus(ctx context.Context, sessionID, ownerID string) (*models.UploadStatusResponse, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(session, ownerID); err != nil {
		return nil, err
	}

	resp := &models.UploadStatusResponse{
		SessionID:            session.ID,
		Status:               session.Status,
		UploadedChunks:       session.UploadedCount,
		TotalChunks:          session.TotalChunks,
		ChunkSize:            session.ChunkSize,
		FileSize:             session.FileSize,
		UploadedChunkIndices: session.UploadedChunks,
	}
	if resp.UploadedChunkIndices == nil {
		resp.UploadedChunkIndices = []int{}
	}
	if session.FinalFileID != nil {
		resp.FileID = *session.FinalFileID
	}
	if session.FinalFileURL != nil {
		resp.FileURL = *session.FinalFileURL
	}
	return resp, nil
}

// CancelUpload 删除会话及其分片; 会话不存在时视为成功
func (m *sessionManager) CancelUpload(ctx context.Context, sessionID, ownerID string) error {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, xerr.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := checkOwner(session, ownerID); err != nil {
		return err
	}

	release, err := m.locker.Acquire(ctx, lock.SessionKey(sessionID))
	if err != nil {
		return xerr.Unavailable("lock session", err)
	}
	defer release()

	fresh, err := m.repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, xerr.ErrNotFound) {
			m.cache.Del(sessionID)
			return nil
		}
		return xerr.Unavailable("load session", err)
	}
	if fresh.Status == models.StatusFinalized {
		return fmt.Errorf("%w: session %s", xerr.ErrUploadFinalized, sessionID)
	}

	discarded := m.engine.DiscardChunks(ctx, sessionID)
	if err := m.repo.Delete(ctx, sessionID); err != nil {
		logger.Error("CancelUpload: failed to delete session", zap.String("sessionID", sessionID), zap.Error(err))
		return xerr.Unavailable("delete session", err)
	}
	m.cache.Del(sessionID)

	logger.Info("CancelUpload: session cancelled", zap.String("sessionID", sessionID), zap.Int("chunksDiscarded", discarded))
	return nil
}

func (m *sessionManager) Evict(sessionIDs ...string) {
	m.cache.Del(sessionIDs...)
}

// load 先查缓存, 未命中时从持久化存储读取; 同一会话的并发未命中只读一次。
// 回填缓存在会话锁内进行, 与取消和清理的删除串行, 避免把已删除的会话写回缓存。
func (m *sessionManager) load(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	if session, ok := m.cache.Get(sessionID); ok {
		return session, nil
	}

	v, err, _ := m.group.Do(sessionID, func() (any, error) {
		// 多个调用方共享结果, 不受首个调用方取消的影响
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		release, err := m.locker.Acquire(loadCtx, lock.SessionKey(sessionID))
		if err != nil {
			return nil, err
		}
		defer release()

		if session, ok := m.cache.Get(sessionID); ok {
			return session, nil
		}
		session, err := m.repo.FindByID(loadCtx, sessionID)
		if err != nil {
			return nil, err
		}
		if session.Status != models.StatusFinalized {
			m.cache.Set(session)
		}
		return session, nil
	})
	if err != nil {
		if errors.Is(err, xerr.ErrNotFound) {
			return nil, err
		}
		logger.Error("load: failed to read session", zap.String("sessionID", sessionID), zap.Error(err))
		return nil, xerr.Unavailable("load session", err)
	}
	// 共享结果需要复制一份, 调用方可能会修改
	return v.(*models.UploadSession).Clone(), nil
}

func checkOwner(session *models.UploadSession, ownerID string) error {
	if session.OwnerID != ownerID {
		return fmt.Errorf("%w: session %s", xerr.ErrUnauthorized, session.ID)
	}
	return nil
}

func checkCompletable(session *models.UploadSession) error {
	if session.Status == models.StatusFinalized {
		return fmt.Errorf("%w: session %s", xerr.ErrUploadFinalized, session.ID)
	}
	if !session.IsComplete() {
		return fmt.Errorf("%w: %d of %d chunks uploaded", xerr.ErrUploadIncomplete, session.UploadedCount, session.TotalChunks)
	}
	return nil
}

// baseName 只保留文件名部分, 兼容 Windows 路径分隔符
func baseName(fileName string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}
