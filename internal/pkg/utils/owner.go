package utils

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// OwnerIDKey 认证中间件写入 gin 上下文的键
	OwnerIDKey = "ownerID"
	// OwnerHeader 未启用令牌时的上传者请求头
	OwnerHeader = "X-User-Id"
)

// GetOwnerIDFromContext 返回经过令牌认证的上传者ID
func GetOwnerIDFromContext(c *gin.Context) (string, bool) {
	v, exists := c.Get(OwnerIDKey)
	if !exists {
		return "", false
	}
	ownerID, ok := v.(string)
	return ownerID, ok && ownerID != ""
}

// ResolveOwnerID 依次取令牌中的上传者、请求参数中的 ownerId、X-User-Id 请求头
func ResolveOwnerID(c *gin.Context, fromRequest string) string {
	if ownerID, ok := GetOwnerIDFromContext(c); ok {
		return ownerID
	}
	if ownerID := strings.TrimSpace(fromRequest); ownerID != "" {
		return ownerID
	}
	return strings.TrimSpace(c.GetHeader(OwnerHeader))
}
