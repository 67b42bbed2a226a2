package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/user-service/model"
	"trekmate/apps/user-service/service"
	"trekmate/pkg/httpx"
	"trekmate/pkg/logger"
	"trekmate/pkg/middleware"
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
	users := r.Group("/users")
	{
		users.GET("/me", h.Me)
		users.PATCH("/profile", h.UpdateProfile)
		users.GET("/:userId", h.GetProfile)
	}
}

// Me 当前用户资料
func (h *HTTPHandler) Me(c *gin.Context) {
	userID, err := middleware.CurrentUserObjectID(c)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	h.writeProfile(c, userID)
}

// GetProfile 按ID查询资料
func (h *HTTPHandler) GetProfile(c *gin.Context) {
	userID, err := httpx.ObjectIDParam(c, "userId", model.MsgInvalidUserID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	h.writeProfile(c, userID)
}

// UpdateProfile 更新当前用户资料
func (h *HTTPHandler) UpdateProfile(c *gin.Context) {
	userID, err := middleware.CurrentUserObjectID(c)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	var req model.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.WriteError(c, h.log, httpx.BindError(err, model.MsgInvalidBody))
		return
	}

	profile, err := h.svc.UpdateProfile(c.Request.Context(), userID, &req)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Profile updated successfully", profile)
}

func (h *HTTPHandler) writeProfile(c *gin.Context, userID primitive.ObjectID) {
	profile, err := h.svc.GetProfile(c.Request.Context(), userID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Profile retrieved successfully", profile)
}
