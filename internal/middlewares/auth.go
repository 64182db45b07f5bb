package middlewares

import (
	"net/http"
	"strings"

	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/logger"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/utils"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthMiddleware 校验 Bearer Token 并把上传者写入上下文。
// 未配置密钥时直接放行, 由请求参数或 X-User-Id 提供上传者。
func AuthMiddleware(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.SecretKey == "" {
			c.Next()
			return
		}

		// 1. 从请求头获取 Token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "unauthenticated", "Authorization header is required")
			return
		}

		// Token 格式通常是 "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "unauthenticated", "Invalid Authorization header format")
			return
		}

		// 2. 解析和验证 Token
		claims, err := utils.ParseToken(strings.TrimSpace(parts[1]), cfg.SecretKey, cfg.Issuer)
		if err != nil {
			logger.Debug("AuthMiddleware: token rejected", zap.Error(err))
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.TokenInvalidCode, "unauthenticated", "Invalid or expired token")
			return
		}

		// 3. 令牌中的上传者优先于请求参数
		c.Set(utils.OwnerIDKey, claims.OwnerID())
		c.Next()
	}
}
