package models

import (
	"sort"
	"time"
)

// UploadStatus 上传会话状态
type UploadStatus string

const (
	StatusInProgress UploadStatus = "in_progress" // 仍有分片未上传
	StatusCompleted  UploadStatus = "completed"   // 分片齐全, 尚未合并
	StatusFinalized  UploadStatus = "finalized"   // 合并成功
	StatusCancelled  UploadStatus = "cancelled"
)

// IsTerminal 终态会话不再接受分片
func (s UploadStatus) IsTerminal() bool {
	return s == StatusFinalized || s == StatusCancelled
}

// UploadSession 对应 upload_sessions 表 (DynamoDB 中为同名表)，
// 是一次分片上传的持久化记录
type UploadSession struct {
	ID             string       `gorm:"primaryKey;type:varchar(36)" json:"id" dynamodbav:"upload_id"`
	OwnerID        string       `gorm:"type:varchar(128);not null;index" json:"ownerId" dynamodbav:"owner_id"`
	FileName       string       `gorm:"type:varchar(255);not null" json:"fileName" dynamodbav:"file_name"`
	FileSize       int64        `gorm:"type:bigint;not null" json:"fileSize" dynamodbav:"file_size"`
	ChunkSize      int64        `gorm:"type:bigint;not null" json:"chunkSize" dynamodbav:"chunk_size"`
	TotalChunks    int          `gorm:"not null" json:"totalChunks" dynamodbav:"total_chunks"`
	UploadedChunks []int        `gorm:"type:text;serializer:json" json:"uploadedChunkIndices" dynamodbav:"uploaded_chunks"` // 升序、无重复
	UploadedCount  int          `gorm:"not null;default:0" json:"uploadedChunks" dynamodbav:"uploaded_count"`
	Status         UploadStatus `gorm:"type:varchar(20);not null;default:'in_progress';index" json:"status" dynamodbav:"status"`
	FinalFileID    *string      `gorm:"type:varchar(1024);default:null" json:"finalFileId,omitempty" dynamodbav:"final_file_id,omitempty"`
	FinalFileURL   *string      `gorm:"type:varchar(2048);default:null" json:"finalFileUrl,omitempty" dynamodbav:"final_file_url,omitempty"`
	CreatedAt      time.Time    `gorm:"index" json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt      time.Time    `json:"updatedAt" dynamodbav:"updated_at"`
}

// TableName 指定 GORM 使用的表名
func (UploadSession) TableName() string {
	return "upload_sessions"
}

// TotalChunksFor 计算 ceil(fileSize / chunkSize)
func TotalChunksFor(fileSize, chunkSize int64) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// ExpectedChunkSize 返回第 index 个分片应有的字节数, 最后一个分片可能较短
func (s *UploadSession) ExpectedChunkSize(index int) int64 {
	if index < 0 || index >= s.TotalChunks {
		return 0
	}
	if index == s.TotalChunks-1 {
		return s.FileSize - int64(index)*s.ChunkSize
	}
	return s.ChunkSize
}

// HasChunk 判断分片是否已被接受
func (s *UploadSession) HasChunk(index int) bool {
	i := sort.SearchInts(s.UploadedChunks, index)
	return i < len(s.UploadedChunks) && s.UploadedChunks[i] == index
}

// AddChunk 记录一个已接受的分片, 重复添加返回 false
func (s *UploadSession) AddChunk(index int) bool {
	i := sort.SearchInts(s.UploadedChunks, index)
	if i < len(s.UploadedChunks) && s.UploadedChunks[i] == index {
		return false
	}
	s.UploadedChunks = append(s.UploadedChunks, 0)
	copy(s.UploadedChunks[i+1:], s.UploadedChunks[i:])
	s.UploadedChunks[i] = index
	s.UploadedCount = len(s.UploadedChunks)
	return true
}

// RemoveChunks 移除分片记录, 用于合并时发现分片对象丢失的情况
func (s *UploadSession) RemoveChunks(indices ...int) {
	for _, index := range indices {
		i := sort.SearchInts(s.UploadedChunks, index)
		if i < len(s.UploadedChunks) && s.UploadedChunks[i] == index {
			s.UploadedChunks = append(s.UploadedChunks[:i], s.UploadedChunks[i+1:]...)
		}
	}
	s.UploadedCount = len(s.UploadedChunks)
}

// IsComplete 所有分片都已上传
func (s *UploadSession) IsComplete() bool {
	return s.TotalChunks > 0 && len(s.UploadedChunks) == s.TotalChunks
}

// Clone 深拷贝, 缓存中保存和返回的都是副本
func (s *UploadSession) Clone() *UploadSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.UploadedChunks != nil {
		c.UploadedChunks = append([]int(nil), s.UploadedChunks...)
	}
	if s.FinalFileID != nil {
		id := *s.FinalFileID
		c.FinalFileID = &id
	}
	if s.FinalFileURL != nil {
		u := *s.FinalFileURL
		c.FinalFileURL = &u
	}
	return &c
}
