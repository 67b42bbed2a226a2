package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trekmate/apps/im-gateway-service/model"
	"trekmate/apps/im-gateway-service/service"
	"trekmate/pkg/httpx"
	"trekmate/pkg/logger"
)

// HTTPHandler HTTP处理器
type HTTPHandler struct {
	svc *service.Service
	log logger.Logger
}

// NewHTTPHandler 创建HTTP处理器
func NewHTTPHandler(svc *service.Service, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: log}
}

// RegisterRoutes 注册HTTP路由
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/presence/:userId", h.GetPresence) // 在线状态
}

// GetPresence 用户是否有活跃的WebSocket会话
func (h *HTTPHandler) GetPresence(c *gin.Context) {
	userID, err := httpx.ObjectIDParam(c, "userId", model.MsgInvalidUserID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	presence, err := h.svc.Presence(c.Request.Context(), userID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Presence retrieved successfully", presence)
}
