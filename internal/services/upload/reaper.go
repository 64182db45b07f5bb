package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/lock"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/storage"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"github.com/3Eeeecho/go-chunkupload/internal/repositories"
	"go.uber.org/zap"
)

// Evictor 清理会话后同步移除缓存
type Evictor interface {
	Evict(sessionIDs ...string)
}

// SweepSummary 一次清理的统计
type SweepSummary struct {
	Scanned        int `json:"scanned"`
	Reaped         int `json:"reaped"`
	Failed         int `json:"failed"`
	OrphansDeleted int `json:"orphansDeleted"`
}

// Reaper 周期性删除超过保留期仍未完成的会话及其分片
type Reaper struct {
	repo    repositories.SessionRepository
	store   storage.BlobStore
	engine  *MergeEngine
	locker  lock.Locker
	evictor Evictor
	now     func() time.Time

	retention   time.Duration
	interval    time.Duration
	chunkBucket string

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewReaper 创建清理器; deps.Locker 应与会话管理器共用
func NewReaper(cfg *config.Config, deps Deps, evictor Evictor) *Reaper {
	deps.withDefaults()
	return &Reaper{
		repo:        deps.Repo,
		store:       deps.Store,
		engine:      NewMergeEngine(deps.Store, cfg.Storage.ChunkBucket),
		locker:      deps.Locker,
		evictor:     evictor,
		now:         deps.Now,
		retention:   cfg.Upload.Retention,
		interval:    cfg.Upload.ReapInterval,
		chunkBucket: cfg.Storage.ChunkBucket,
	}
}

// Start 在后台运行, 启动时立即清理一次
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		logger.Info("Reaper started", zap.Duration("interval", r.interval), zap.Duration("retention", r.retention))

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			r.runOnce(ctx)
			select {
			case <-ctx.Done():
				logger.Info("Reaper stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop 停止后台清理并等待当前一轮结束
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel == nil {
			return
		}
		r.cancel()
		<-r.done
	})
}

func (r *Reaper) runOnce(ctx context.Context) {
	summary, err := r.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Reaper: sweep failed", zap.Error(err))
		}
		return
	}
	logger.Info("Reaper: sweep finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("reaped", summary.Reaped),
		zap.Int("failed", summary.Failed),
		zap.Int("orphansDeleted", summary.OrphansDeleted))
}

// Sweep 执行一轮清理; 单个会话的失败只记录日志
func (r *Reaper) Sweep(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary
	cutoff := r.now().Add(-r.retention)

	sessions, err := r.repo.ListByStatusNot(ctx, models.StatusFinalized)
	if err != nil {
		return summary, xerr.Unavailable("list sessions", err)
	}
	summary.Scanned = len(sessions)

	for _, s := range sessions {
		if !s.CreatedAt.Before(cutoff) {
			continue
		}
		reaped, err := r.reapSession(ctx, s.ID, cutoff)
		if err != nil {
			summary.Failed++
			logger.Error("Reaper: failed to reap session", zap.String("sessionID", s.ID), zap.Error(err))
			continue
		}
		if reaped {
			summary.Reaped++
		}
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	summary.OrphansDeleted = r.sweepOrphans(ctx, cutoff)
	return summary, nil
}

func (r *Reaper) reapSession(ctx context.Context, sessionID string, cutoff time.Time) (bool, error) {
	release, err := r.locker.Acquire(ctx, lock.SessionKey(sessionID))
	if err != nil {
		return false, err
	}
	defer release()

	// 等锁期间会话可能已被合并或取消
	session, err := r.repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, xerr.ErrNotFound) {
			r.evictor.Evict(sessionID)
			return false, nil
		}
		return false, err
	}
	if session.Status == models.StatusFinalized || !session.CreatedAt.Before(cutoff) {
		return false, nil
	}

	discarded := r.engine.DiscardChunks(ctx, sessionID)
	if err := r.repo.Delete(ctx, sessionID); err != nil {
		return false, err
	}
	r.evictor.Evict(sessionID)

	logger.Info("Reaper: abandoned session removed",
		zap.String("sessionID", sessionID),
		zap.Time("createdAt", session.CreatedAt),
		zap.Int("chunksDiscarded", discarded))
	return true, nil
}

// sweepOrphans 删除没有对应活跃会话的分片对象, 返回删除数量
func (r *Reaper) sweepOrphans(ctx context.Context, cutoff time.Time) int {
	blobs, err := r.store.ListBlobs(ctx, r.chunkBucket, "")
	if err != nil {
		logger.Warn("Reaper: failed to list chunk bucket", zap.Error(err))
		return 0
	}

	groups := make(map[string][]storage.BlobInfo)
	newest := make(map[string]time.Time)
	for _, b := range blobs {
		sessionID, _, ok := storage.SplitChunkBlobName(b.Name)
		if !ok {
			continue
		}
		groups[sessionID] = append(groups[sessionID], b)
		if b.LastModified.After(newest[sessionID]) {
			newest[sessionID] = b.LastModified
		}
	}

	deleted := 0
	for sessionID, group := range groups {
		// 修改时间未知或仍在保留期内的分片可能属于正在进行的上传
		if newest[sessionID].IsZero() || !newest[sessionID].Before(cutoff) {
			continue
		}
		session, err := r.repo.FindByID(ctx, sessionID)
		switch {
		case errors.Is(err, xerr.ErrNotFound):
		case err != nil:
			logger.Warn("Reaper: failed to check orphan owner", zap.String("sessionID", sessionID), zap.Error(err))
			continue
		case session.Status != models.StatusFinalized:
			continue
		}
		n := r.engine.deleteBlobs(ctx, sessionID, group)
		deleted += n
		logger.Info("Reaper: orphan chunks removed", zap.String("sessionID", sessionID), zap.Int("count", n))
	}
	return deleted
}
