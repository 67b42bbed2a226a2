package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/apperr"
	"trekmate/pkg/auth"
	tracecontext "trekmate/pkg/context"
	"trekmate/pkg/httpx"
)

// ContextUserID gin上下文中保存当前用户ID的键
const ContextUserID = "userID"

// AuthMiddleware 认证中间件配置
type AuthMiddleware struct {
	logger     kratoslog.Logger
	jwtKey     string
	cookieName string
	skipPaths  []string
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(logger kratoslog.Logger, jwtKey, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{
		logger:     logger,
		jwtKey:     jwtKey,
		cookieName: cookieName,
		skipPaths:  []string{"/health", "/metrics"},
	}
}

// GinAuth Gin认证中间件：会话Cookie优先，其次 Authorization: Bearer
func (am *AuthMiddleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.shouldSkipAuth(c.Request.URL.Path) {
			c.Next()
			return
		}

		token := am.extractToken(c)
		if token == "" {
			am.logger.Log(kratoslog.LevelWarn, "msg", "Missing session credential", "path", c.Request.URL.Path)
			httpx.WriteError(c, nil, apperr.Unauthorized("Not authorized, no token"))
			return
		}

		claims, err := auth.ValidateJWT(token, am.jwtKey)
		if err != nil {
			am.logger.Log(kratoslog.LevelWarn, "msg", "Invalid token", "error", err, "path", c.Request.URL.Path)
			httpx.WriteError(c, nil, apperr.Unauthorized("Not authorized, token failed"))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Request = c.Request.WithContext(tracecontext.WithUserID(c.Request.Context(), claims.UserID))
		c.Next()
	}
}

// extractToken 从Cookie或Authorization头中提取token
func (am *AuthMiddleware) extractToken(c *gin.Context) string {
	if am.cookieName != "" {
		if cookie, err := c.Cookie(am.cookieName); err == nil && cookie != "" {
			return cookie
		}
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// WebSocket握手无法设置头时通过query传递
	return c.Query("token")
}

// shouldSkipAuth 判断是否跳过认证
func (am *AuthMiddleware) shouldSkipAuth(path string) bool {
	for _, skipPath := range am.skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

// CurrentUserID 读取认证中间件写入的用户ID
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// CurrentUserObjectID 当前用户ID解析为ObjectID
func CurrentUserObjectID(c *gin.Context) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(CurrentUserID(c))
	if err != nil {
		return primitive.NilObjectID, apperr.Unauthorized("Not authorized, invalid user")
	}
	return id, nil
}
