package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/3Eeeecho/go-chunkupload/internal/services/upload"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

// UploadDocument 已完成上传在 Elasticsearch 中的文档
type UploadDocument struct {
	SessionID   string    `json:"session_id"`
	OwnerID     string    `json:"owner_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	FileID      string    `json:"file_id"`
	FileURL     string    `json:"file_url"`
	TotalChunks int       `json:"total_chunks"`
	CreatedAt   time.Time `json:"created_at"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// UploadIndexer 把合并完成的上传写入索引, 作为会话管理器的 FinalizeHook
type UploadIndexer struct {
	client *elasticsearch.Client
	index  string
}

var _ upload.FinalizeHook = (*UploadIndexer)(nil)

func NewUploadIndexer(client *elasticsearch.Client, index string) *UploadIndexer {
	return &UploadIndexer{client: client, index: index}
}

// OnFinalized 索引失败只记录日志, 不影响上传结果
func (i *UploadIndexer) OnFinalized(ctx context.Context, session *models.UploadSession, result *upload.MergeResult) {
	doc := UploadDocument{
		SessionID:   session.ID,
		OwnerID:     session.OwnerID,
		FileName:    session.FileName,
		FileSize:    result.Size,
		ContentType: result.ContentType,
		FileID:      result.BlobID,
		FileURL:     result.URL,
		TotalChunks: session.TotalChunks,
		CreatedAt:   session.CreatedAt,
		FinalizedAt: session.UpdatedAt,
	}
	if err := i.IndexUpload(ctx, doc); err != nil {
		logger.Error("OnFinalized: failed to index upload", zap.String("sessionID", session.ID), zap.Error(err))
	}
}

// IndexUpload 以会话ID为文档ID写入, 重复写入会覆盖
func (i *UploadIndexer) IndexUpload(ctx context.Context, doc UploadDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal upload document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: doc.SessionID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("index upload document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index upload document: %s", res.String())
	}
	logger.Debug("IndexUpload: document indexed", zap.String("index", i.index), zap.String("sessionID", doc.SessionID))
	return nil
}
