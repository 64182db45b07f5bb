package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/utils"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"github.com/3Eeeecho/go-chunkupload/internal/services/upload"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UploadHandler struct {
	manager upload.SessionManager
}

func NewUploadHandler(manager upload.SessionManager) *UploadHandler {
	return &UploadHandler{manager: manager}
}

// InitUpload 处理上传初始化请求
// @Summary 初始化分片上传
// @Description 创建上传会话并返回分片大小和分片数量
// @Tags Upload
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.UploadInitRequest true "上传初始化参数"
// @Success 201 {object} xerr.Response{data=models.UploadInitResponse} "会话已创建"
// @Failure 400 {object} xerr.ErrorResponse "参数错误"
// @Failure 503 {object} xerr.ErrorResponse "存储不可用"
// @Router /api/v1/uploads/init [post]
func (h *UploadHandler) InitUpload(c *gin.Context) {
	var req models.UploadInitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.AbortWithError(c, http.StatusBadRequest, xerr.InvalidParamsCode, "invalid_argument", "Invalid request body")
		return
	}

	ownerID := utils.ResolveOwnerID(c, req.OwnerID)
	resp, err := h.manager.InitUpload(c.Request.Context(), ownerID, req.FileName, req.FileSize)
	if err != nil {
		h.fail(c, "InitUpload", "", err)
		return
	}
	xerr.Success(c, http.StatusCreated, "Upload initialized", resp)
}

// UploadChunk 处理分片上传请求
// @Summary 上传文件分片
// @Description 上传一个分片, 重复上传同一分片是幂等的
// @Tags Upload
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param chunk formData file true "分片内容"
// @Param chunkIndex formData int true "分片序号, 从 0 开始"
// @Param ownerId formData string false "上传者ID"
// @Success 200 {object} xerr.Response{data=models.UploadChunkResponse} "分片已接收"
// @Failure 400 {object} xerr.ErrorResponse "参数错误"
// @Failure 403 {object} xerr.ErrorResponse "会话不属于当前上传者"
// @Failure 404 {object} xerr.ErrorResponse "会话不存在"
// @Failure 409 {object} xerr.ErrorResponse "会话已完成"
// @Router /api/v1/uploads/{id}/chunk [post]
func (h *UploadHandler) UploadChunk(c *gin.Context) {
	sessionID := c.Param("id")

	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			xerr.AbortWithError(c, http.StatusRequestEntityTooLarge, xerr.ChunkSizeInvalidCode, "invalid_argument", "Chunk exceeds the session chunk size")
			return
		}
		xerr.AbortWithError(c, http.StatusBadRequest, xerr.InvalidParamsCode, "invalid_argument", "Chunk file not found")
		return
	}

	// 手动从表单中获取其他字段
	chunkIndex, err := strconv.Atoi(c.PostForm("chunkIndex"))
	if err != nil {
		xerr.AbortWithError(c, http.StatusBadRequest, xerr.InvalidParamsCode, "invalid_argument", "Invalid chunkIndex")
		return
	}
	ownerID := utils.ResolveOwnerID(c, c.PostForm("ownerId"))

	chunk, err := fileHeader.Open()
	if err != nil {
		logger.Error("UploadChunk: failed to open chunk", zap.String("sessionID", sessionID), zap.Error(err))
		xerr.AbortWithError(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "internal", "Failed to read chunk")
		return
	}
	defer chunk.Close()

	resp, err := h.manager.UploadChunk(c.Request.Context(), sessionID, ownerID, chunkIndex, chunk, fileHeader.Size)
	if err != nil {
		h.fail(c, "UploadChunk", sessionID, err)
		return
	}
	xerr.Success(c, http.StatusOK, "Chunk accepted", resp)
}

// CompleteUpload 处理分片合并请求
// @Summary 完成分片上传
// @Description 按序号合并所有分片, 生成最终文件
// @Tags Upload
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param request body models.UploadCompleteRequest false "上传者"
// @Success 200 {object} xerr.Response{data=models.UploadCompleteResponse} "合并完成"
// @Failure 403 {object} xerr.ErrorResponse "会话不属于当前上传者"
// @Failure 404 {object} xerr.ErrorResponse "会话不存在"
// @Failure 409 {object} xerr.ErrorResponse "分片不完整或已损坏"
// @Failure 503 {object} xerr.ErrorResponse "存储不可用"
// @Router /api/v1/uploads/{id}/complete [post]
func (h *UploadHandler) CompleteUpload(c *gin.Context) {
	sessionID := c.Param("id")

	var req models.UploadCompleteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			xerr.AbortWithError(c, http.StatusBadRequest, xerr.InvalidParamsCode, "invalid_argument", "Invalid request body")
			return
		}
	}

	ownerID := utils.ResolveOwnerID(c, req.OwnerID)
	resp, err := h.manager.CompleteUpload(c.Request.Context(), sessionID, ownerID)
	if err != nil {
		h.fail(c, "CompleteUpload", sessionID, err)
		return
	}
	xerr.Success(c, http.StatusOK, "Upload completed", resp)
}

// GetStatus 查询上传进度
// @Summary 查询上传进度
// @Description 返回已上传的分片序号, 客户端据此续传
// @Tags Upload
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param ownerId query string false "上传者ID"
// @Success 200 {object} xerr.Response{data=models.UploadStatusResponse} "会话进度"
// @Failure 403 {object} xerr.ErrorResponse "会话不属于当前上传者"
// @Failure 404 {object} xerr.ErrorResponse "会话不存在"
// @Router /api/v1/uploads/{id}/status [get]
func (h *UploadHandler) GetStatus(c *gin.Context) {
	sessionID := c.Param("id")
	ownerID := utils.ResolveOwnerID(c, c.Query("ownerId"))

	resp, err := h.manager.GetStatus(c.Request.Context(), sessionID, ownerID)
	if err != nil {
		h.fail(c, "GetStatus", sessionID, err)
		return
	}
	xerr.Success(c, http.StatusOK, "OK", resp)
}

// CancelUpload 取消上传
// @Summary 取消上传
// @Description 删除会话和已上传的分片; 会话不存在时同样返回成功
// @Tags Upload
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param ownerId query string false "上传者ID"
// @Success 200 {object} xerr.Response "已取消"
// @Failure 403 {object} xerr.ErrorResponse "会话不属于当前上传者"
// @Failure 409 {object} xerr.ErrorResponse "会话已完成"
// @Router /api/v1/uploads/{id} [delete]
func (h *UploadHandler) CancelUpload(c *gin.Context) {
	sessionID := c.Param("id")
	ownerID := utils.ResolveOwnerID(c, c.Query("ownerId"))

	if err := h.manager.CancelUpload(c.Request.Context(), sessionID, ownerID); err != nil {
		h.fail(c, "CancelUpload", sessionID, err)
		return
	}
	xerr.Success(c, http.StatusOK, "Upload cancelled", nil)
}

func (h *UploadHandler) fail(c *gin.Context, op, sessionID string, err error) {
	r := xerr.Resolve(err)
	if r.HTTPStatus >= http.StatusInternalServerError {
		logger.Error(op+": request failed", zap.String("sessionID", sessionID), zap.Error(err))
	} else {
		logger.Debug(op+": request rejected", zap.String("sessionID", sessionID), zap.String("error", r.Name), zap.Error(err))
	}
	xerr.FromError(c, err)
}
