package xerr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CodeError 结构体用于在服务层传递带有业务码的错误
// 它实现了 error 接口
type CodeError struct {
	Code int   // 业务错误码
	Err  error // 被包裹的底层错误
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return e.Err.Error()
}

// Unwrap 返回被包裹的底层错误，支持 errors.Unwrap
func (e *CodeError) Unwrap() error {
	return e.Err
}

// NewCodeError 创建一个 CodeError 实例
func NewCodeError(code int, err error) *CodeError {
	return &CodeError{Code: code, Err: err}
}

// Resolution 是错误映射到 HTTP 层的结果
type Resolution struct {
	HTTPStatus int
	Code       int
	Name       string // 机器可读的错误名，写入响应的 error 字段
}

// Resolve 把错误链映射为 HTTP 状态码、业务码和错误名。
// 顺序很重要: 细分错误先于它所属的分类匹配。
func Resolve(err error) Resolution {
	var ce *CodeError
	if errors.As(err, &ce) {
		r := resolveKind(ce.Err)
		r.Code = ce.Code
		return r
	}
	return resolveKind(err)
}

func resolveKind(err error) Resolution {
	switch {
	case errors.Is(err, ErrChunkIndexOutOfRange):
		return Resolution{http.StatusBadRequest, ChunkIndexInvalidCode, "invalid_argument"}
	case errors.Is(err, ErrChunkSizeMismatch):
		return Resolution{http.StatusBadRequest, ChunkSizeInvalidCode, "invalid_argument"}
	case errors.Is(err, ErrFileTooLarge):
		return Resolution{http.StatusBadRequest, FileTooLargeCode, "invalid_argument"}
	case errors.Is(err, ErrInvalidArgument):
		return Resolution{http.StatusBadRequest, InvalidParamsCode, "invalid_argument"}
	case errors.Is(err, ErrUnauthorized):
		return Resolution{http.StatusForbidden, PermissionDeniedCode, "unauthorized"}
	case errors.Is(err, ErrNotFound):
		return Resolution{http.StatusNotFound, UploadSessionNotFoundCode, "not_found"}
	case errors.Is(err, ErrUploadIncomplete):
		return Resolution{http.StatusConflict, UploadIncompleteCode, "failed_precondition"}
	case errors.Is(err, ErrUploadFinalized):
		return Resolution{http.StatusConflict, UploadFinalizedCode, "failed_precondition"}
	case errors.Is(err, ErrFailedPrecondition):
		return Resolution{http.StatusConflict, UploadIncompleteCode, "failed_precondition"}
	case errors.Is(err, ErrDataCorruption):
		return Resolution{http.StatusConflict, ChunkCorruptedCode, "data_corruption"}
	case errors.Is(err, ErrUnavailable):
		return Resolution{http.StatusServiceUnavailable, UnavailableCode, "unavailable"}
	default:
		return Resolution{http.StatusInternalServerError, InternalServerErrorCode, "internal"}
	}
}

// Response 是通用 JSON 响应结构
type Response struct {
	Code    int    `json:"code"`    // 业务状态码
	Message string `json:"message"` // 消息
	Data    any    `json:"data"`    // 响应数据
}

// ErrorResponse 是非 2xx 响应的结构
type ErrorResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Success 成功响应
func Success(c *gin.Context, httpStatus int, message string, data any) {
	c.JSON(httpStatus, Response{
		Code:    SuccessCode,
		Message: message,
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpStatus int, code int, name, message string) {
	c.JSON(httpStatus, ErrorResponse{
		Code:    code,
		Error:   name,
		Message: message,
	})
}

// AbortWithError 终止请求并发送错误响应
func AbortWithError(c *gin.Context, httpStatus int, code int, name, message string) {
	Error(c, httpStatus, code, name, message)
	c.Abort() // 终止后续的 HandlerFunc
}

// FromError 根据错误链自动选择状态码并终止请求
func FromError(c *gin.Context, err error) {
	r := Resolve(err)
	// 5xx 的错误链里是存储和数据库的原始信息, 不返回给客户端
	msg := err.Error()
	switch {
	case r.HTTPStatus == http.StatusServiceUnavailable:
		msg = "service temporarily unavailable"
	case r.HTTPStatus >= http.StatusInternalServerError:
		msg = "internal server error"
	}
	AbortWithError(c, r.HTTPStatus, r.Code, r.Name, msg)
}
