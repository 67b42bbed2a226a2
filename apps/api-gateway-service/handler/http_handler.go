package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trekmate/apps/api-gateway-service/model"
	"trekmate/apps/api-gateway-service/service"
	"trekmate/pkg/httpx"
	"trekmate/pkg/logger"
)

// HTTPHandler HTTP协议处理器
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
	r.GET("/gateway/services", h.Services)

	// 所有 /api/v1/{service-name}/* 请求按服务名转发
	r.Any(model.RoutePrefix+"/*path", h.DynamicRoute)
}

// DynamicRoute 动态路由处理器
func (h *HTTPHandler) DynamicRoute(c *gin.Context) {
	if err := h.svc.ProxyRequest(c.Request.Context(), c.Writer, c.Request); err != nil {
		httpx.WriteError(c, h.log, err)
	}
}

// Services 已配置的下游服务
func (h *HTTPHandler) Services(c *gin.Context) {
	httpx.WriteObject(c, http.StatusOK, "Services retrieved successfully", h.svc.Routes())
}
