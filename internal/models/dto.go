package models

// UploadInitRequest 定义了初始化分片上传的请求体
type UploadInitRequest struct {
	FileName string `json:"fileName" binding:"required"`
	FileSize int64  `json:"fileSize" binding:"required"`
	OwnerID  string `json:"ownerId"`
}

// UploadInitResponse 定义了初始化分片上传的响应体
type UploadInitResponse struct {
	SessionID   string `json:"sessionId"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
}

// UploadChunkResponse 分片上传结果; Completed 为 true 时客户端可以请求合并
type UploadChunkResponse struct {
	Accepted       bool `json:"accepted"`
	Completed      bool `json:"completed"`
	UploadedChunks int  `json:"uploadedChunks"`
	TotalChunks    int  `json:"totalChunks"`
}

// UploadCompleteRequest 定义了完成分片上传的请求体
type UploadCompleteRequest struct {
	OwnerID string `json:"ownerId"`
}

// UploadCompleteResponse 合并完成后的最终文件信息
type UploadCompleteResponse struct {
	SessionID string `json:"sessionId"`
	FileID    string `json:"fileId"`
	FileURL   string `json:"fileUrl"`
}

// UploadStatusResponse 会话进度, UploadedChunkIndices 供客户端断点续传
type UploadStatusResponse struct {
	SessionID            string       `json:"sessionId"`
	Status               UploadStatus `json:"status"`
	UploadedChunks       int          `json:"uploadedChunks"`
	TotalChunks          int          `json:"totalChunks"`
	ChunkSize            int64        `json:"chunkSize"`
	FileSize             int64        `json:"fileSize"`
	UploadedChunkIndices []int        `json:"uploadedChunkIndices"`
	FileID               string       `json:"fileId,omitempty"`
	FileURL              string       `json:"fileUrl,omitempty"`
}
