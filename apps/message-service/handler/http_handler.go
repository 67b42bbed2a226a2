package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/message-service/converter"
	"trekmate/apps/message-service/model"
	"trekmate/apps/message-service/service"
	"trekmate/pkg/httpx"
	"trekmate/pkg/logger"
	"trekmate/pkg/middleware"
)

// HTTPHandler HTTP处理器
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
	api := r.Group("/messages")
	{
		api.POST("", h.SendMessage)                // 发送消息
		api.PATCH("/:messageId", h.EditMessage)    // 编辑消息
		api.DELETE("/:messageId", h.DeleteMessage) // 删除消息
		api.POST("/:messageId/read", h.MarkRead)   // 已读回执
	}
	r.GET("/groups/:groupId/messages", h.GetGroupMessages) // 历史消息
}

// SendMessage 发送消息，消息同时经推送通道回显给发送者
func (h *HTTPHandler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := middleware.CurrentUserObjectID(c)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}

	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn(ctx, "Invalid send message request", logger.F("error", err.Error()))
		httpx.WriteError(c, h.log, httpx.BindError(err, model.MsgTextRequired))
		return
	}
	in, err := h.converter.SendInput(&req)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}

	view, err := h.svc.SendMessage(ctx, userID, in)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusCreated, "Message sent successfully", view)
}

// EditMessage 编辑消息
func (h *HTTPHandler) EditMessage(c *gin.Context) {
	ctx := c.Request.Context()
	userID, messageID, ok := h.userAndMessage(c)
	if !ok {
		return
	}

	var req model.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.WriteError(c, h.log, httpx.BindError(err, model.MsgContentRequired))
		return
	}

	view, err := h.svc.EditMessage(ctx, userID, messageID, req.Body())
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Message updated successfully", view)
}

// DeleteMessage 删除消息
func (h *HTTPHandler) DeleteMessage(c *gin.Context) {
	ctx := c.Request.Context()
	userID, messageID, ok := h.userAndMessage(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteMessage(ctx, userID, messageID); err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Message deleted successfully", gin.H{})
}

// MarkRead 标记已读
func (h *HTTPHandler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	userID, messageID, ok := h.userAndMessage(c)
	if !ok {
		return
	}

	result, err := h.svc.MarkRead(ctx, userID, messageID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Message marked as read", result)
}

// GetGroupMessages 群历史消息，按时间正序
func (h *HTTPHandler) GetGroupMessages(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := middleware.CurrentUserObjectID(c)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	groupID, err := httpx.ObjectIDParam(c, "groupId", model.MsgInvalidGroupID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}

	page := httpx.IntQuery(c, "page", model.DefaultPage)
	limit := httpx.IntQuery(c, "limit", model.DefaultLimit)
	views, err := h.svc.GetGroupMessages(ctx, userID, groupID, page, limit)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Messages retrieved successfully", views)
}

func (h *HTTPHandler) userAndMessage(c *gin.Context) (userID, messageID primitive.ObjectID, ok bool) {
	userID, err := middleware.CurrentUserObjectID(c)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return userID, messageID, false
	}
	messageID, err = httpx.ObjectIDParam(c, "messageId", model.MsgInvalidMessageID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return userID, messageID, false
	}
	return userID, messageID, true
}
