package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/group-service/converter"
	"trekmate/apps/group-service/model"
	"trekmate/apps/group-service/service"
	"trekmate/pkg/httpx"
	"trekmate/pkg/logger"
	"trekmate/pkg/middleware"
)

// HTTPHandler HTTP协议处理器
type HTTPHandler struct {
	svc       *service.Service
	converter *converter.Converter
	log       logger.Logger
}

// NewHTTPHandler 创建HTTP处理器
func NewHTTPHandler(svc *service.Service, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc:       svc,
		converter: converter.NewConverter(),
		log:       log,
	}
}

// RegisterRoutes 注册HTTP路由
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/groups")
	{
		api.POST("", h.CreateGroup)                             // 创建群组
		api.GET("", h.ListGroups)                               // 搜索群组
		api.GET("/my-groups", h.GetMyGroups)                    // 我的群组
		api.GET("/:groupId", h.GetGroup)                        // 群组详情
		api.PATCH("/:groupId", h.UpdateGroup)                   // 修改群组
		api.POST("/:groupId/join", h.JoinGroup)                 // 加入群组
		api.POST("/:groupId/leave", h.LeaveGroup)               // 退出群组
		api.POST("/:groupId/make-admin/:userId", h.MakeAdmin)   // 设为管理员
		api.DELETE("/:groupId/members/:userId", h.RemoveMember) // 移除成员
		api.POST("/:groupId/pins/:messageId", h.PinMessage)     // 置顶消息
		api.DELETE("/:groupId/pins/:messageId", h.UnpinMessage) // 取消置顶
	}
}

// CreateGroup 创建群组
func (h *HTTPHandler) CreateGroup(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := middleware.CurrentUserObjectID(c)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}

	var req converter.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn(ctx, "Invalid create group request", logger.F("error", err.Error()))
		httpx.WriteError(c, h.log, httpx.BindError(err, model.MsgRequiredFields))
		return
	}
	in, err := h.converter.CreateInput(&req)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}

	group, err := h.svc.CreateGroup(ctx, userID, in)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusCreated, "Group created successfully", group)
}

// JoinGroup 加入群组
func (h *HTTPHandler) JoinGroup(c *gin.Context) {
	ctx := c.Request.Context()
	userID, groupID, ok := h.userAndGroup(c)
	if !ok {
		return
	}

	group, err := h.svc.JoinGroup(ctx, userID, groupID)
	if err != nil {
		h.log.Debug(ctx, "Join group rejected", logger.F("groupID", groupID.Hex()), logger.F("error", err.Error()))
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Successfully joined the group", group)
}

// LeaveGroup 退出群组
func (h *HTTPHandler) LeaveGroup(c *gin.Context) {
	ctx := c.Request.Context()
	userID, groupID, ok := h.userAndGroup(c)
	if !ok {
		return
	}

	if err := h.svc.LeaveGroup(ctx, userID, groupID); err != nil {
		h.log.Debug(ctx, "Leave group rejected", logger.F("groupID", groupID.Hex()), logger.F("error", err.Error()))
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Successfully left the group", gin.H{})
}

// MakeAdmin 设为管理员
func (h *HTTPHandler) MakeAdmin(c *gin.Context) {
	ctx := c.Request.Context()
	requester, groupID, target, ok := h.userGroupTarget(c)
	if !ok {
		return
	}

	group, err := h.svc.MakeAdmin(ctx, requester, groupID, target)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "User promoted to admin successfully", group)
}

// RemoveMember 移除成员
func (h *HTTPHandler) RemoveMember(c *gin.Context) {
	ctx := c.Request.Context()
	requester, groupID, target, ok := h.userGroupTarget(c)
	if !ok {
		return
	}

	if err := h.svc.RemoveMember(ctx, requester, groupID, target); err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Member removed successfully", gin.H{})
}

// userAndGroup 当前用户与路径中的群ID，失败时已写出错误响应
func (h *HTTPHandler) userAndGroup(c *gin.Context) (userID, groupID primitive.ObjectID, ok bool) {
	uid, err := middleware.CurrentUserObjectID(c)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return userID, groupID, false
	}
	gid, err := httpx.ObjectIDParam(c, "groupId", model.MsgInvalidGroupID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return userID, groupID, false
	}
	return uid, gid, true
}

// userGroupTarget 额外解析目标用户
func (h *HTTPHandler) userGroupTarget(c *gin.Context) (userID, groupID, target primitive.ObjectID, ok bool) {
	userID, groupID, ok = h.userAndGroup(c)
	if !ok {
		return
	}
	tid, err := httpx.ObjectIDParam(c, "userId", model.MsgInvalidGroupOrUser)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return userID, groupID, target, false
	}
	return userID, groupID, tid, true
}
