package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionRepository 定义了上传会话的持久化操作接口
// 记录不存在时返回的错误满足 errors.Is(err, xerr.ErrNotFound)
type SessionRepository interface {
	// Create 创建一个新的会话记录
	Create(ctx context.Context, session *models.UploadSession) error
	// FindByID 根据会话ID查找
	FindByID(ctx context.Context, id string) (*models.UploadSession, error)
	// Update 持久化会话的可变字段 (分片集合、计数、状态、最终文件信息)
	Update(ctx context.Context, session *models.UploadSession) error
	// Delete 删除会话记录, 记录不存在时不报错
	Delete(ctx context.Context, id string) error
	// ListByStatusNot 列出状态不等于 status 的所有会话
	ListByStatusNot(ctx context.Context, status models.UploadStatus) ([]*models.UploadSession, error)
}

type dbSessionRepository struct {
	db *gorm.DB
}

var _ SessionRepository = (*dbSessionRepository)(nil)

// NewDBSessionRepository 创建一个基于 GORM 的 SessionRepository 实例
func NewDBSessionRepository(db *gorm.DB) SessionRepository {
	return &dbSessionRepository{db: db}
}

func (r *dbSessionRepository) Create(ctx context.Context, session *models.UploadSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		logger.Error("Error creating upload session", zap.String("sessionID", session.ID), zap.Error(err))
		return fmt.Errorf("create upload session: %w", err)
	}
	return nil
}

func (r *dbSessionRepository) FindByID(ctx context.Context, id string) (*models.UploadSession, error) {
	var session models.UploadSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, xerr.ErrNotFound)
		}
		logger.Error("Error getting upload session", zap.String("sessionID", id), zap.Error(err))
		return nil, fmt.Errorf("find upload session: %w", err)
	}
	return &session, nil
}

func (r *dbSessionRepository) Update(ctx context.Context, session *models.UploadSession) error {
	db := r.db.WithContext(ctx)
	result := db.Model(&models.UploadSession{}).
		Where("id = ?", session.ID).
		Select("uploaded_chunks", "uploaded_count", "status", "final_file_id", "final_file_url", "updated_at").
		Updates(session)
	if result.Error != nil {
		logger.Error("Error updating upload session", zap.String("sessionID", session.ID), zap.Error(result.Error))
		return fmt.Errorf("update upload session: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// MySQL 在值未变化时 RowsAffected 也为 0, 需要再确认记录是否存在
	var count int64
	if err := db.Model(&models.UploadSession{}).Where("id = ?", session.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("update upload session: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("session %s: %w", session.ID, xerr.ErrNotFound)
	}
	return nil
}

func (r *dbSessionRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.UploadSession{}).Error
	if err != nil {
		logger.Error("Error deleting upload session", zap.String("sessionID", id), zap.Error(err))
		return fmt.Errorf("delete upload session: %w", err)
	}
	return nil
}

func (r *dbSessionRepository) ListByStatusNot(ctx context.Context, status models.UploadStatus) ([]*models.UploadSession, error) {
	var sessions []*models.UploadSession
	err := r.db.WithContext(ctx).Where("status <> ?", status).Order("created_at").Find(&sessions).Error
	if err != nil {
		logger.Error("Error listing upload sessions", zap.String("excludeStatus", string(status)), zap.Error(err))
		return nil, fmt.Errorf("list upload sessions: %w", err)
	}
	return sessions, nil
}
