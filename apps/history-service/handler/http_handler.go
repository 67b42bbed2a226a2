package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trekmate/apps/history-service/model"
	"trekmate/apps/history-service/service"
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
	groups := r.Group("/groups/:groupId/activity")
	{
		groups.GET("", h.ListActivity)       // 动态分页
		groups.GET("/stats", h.ActivityStats) // 事件统计
	}
}

// ListActivity 群组动态，最新在前
func (h *HTTPHandler) ListActivity(c *gin.Context) {
	groupID, err := httpx.ObjectIDParam(c, "groupId", model.MsgInvalidGroupID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	page := httpx.IntQuery(c, "page", model.DefaultPage)
	limit := httpx.IntQuery(c, "limit", model.DefaultPageSize)

	result, err := h.svc.ListActivity(c.Request.Context(), groupID.Hex(), page, limit)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Activity retrieved successfully", result)
}

// ActivityStats 群组各事件类型累计
func (h *HTTPHandler) ActivityStats(c *gin.Context) {
	groupID, err := httpx.ObjectIDParam(c, "groupId", model.MsgInvalidGroupID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	stats, err := h.svc.Stats(c.Request.Context(), groupID.Hex())
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Activity stats retrieved successfully", stats)
}
