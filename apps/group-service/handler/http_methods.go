package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trekmate/apps/group-service/converter"
	"trekmate/apps/group-service/model"
	"trekmate/apps/group-service/service"
	"trekmate/pkg/httpx"
	"trekmate/pkg/logger"
	"trekmate/pkg/middleware"
)

// ListGroups 搜索开放的群组
func (h *HTTPHandler) ListGroups(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := middleware.CurrentUserObjectID(c)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}

	page := httpx.IntQuery(c, "page", service.DefaultPage)
	limit := httpx.IntQuery(c, "limit", service.DefaultLimit)
	q, err := h.converter.ListQuery(c, page, limit)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}

	result, err := h.svc.ListGroups(ctx, userID, q)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "", result)
}

// GetMyGroups 当前用户加入的群组
func (h *HTTPHandler) GetMyGroups(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := middleware.CurrentUserObjectID(c)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}

	groups, err := h.svc.GetMyGroups(ctx, userID, c.Query("withPreview") == "true")
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "", gin.H{"groups": groups})
}

// GetGroup 群组详情
func (h *HTTPHandler) GetGroup(c *gin.Context) {
	ctx := c.Request.Context()
	userID, groupID, ok := h.userAndGroup(c)
	if !ok {
		return
	}

	detail, err := h.svc.GetGroup(ctx, userID, groupID)
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "", detail)
}

// UpdateGroup 管理员修改群组信息
func (h *HTTPHandler) UpdateGroup(c *gin.Context) {
	ctx := c.Request.Context()
	userID, groupID, ok := h.userAndGroup(c)
	if !ok {
		return
	}

	var req converter.UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn(ctx, "Invalid update group request", logger.F("error", err.Error()))
		httpx.WriteError(c, h.log, httpx.BindError(err, "Invalid request body"))
		return
	}

	group, err := h.svc.UpdateGroup(ctx, userID, groupID, h.converter.GroupUpdate(&req))
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, "Group updated successfully", group)
}

// PinMessage 置顶消息
func (h *HTTPHandler) PinMessage(c *gin.Context) {
	h.changePin(c, true)
}

// UnpinMessage 取消置顶
func (h *HTTPHandler) UnpinMessage(c *gin.Context) {
	h.changePin(c, false)
}

func (h *HTTPHandler) changePin(c *gin.Context, pin bool) {
	ctx := c.Request.Context()
	userID, groupID, ok := h.userAndGroup(c)
	if !ok {
		return
	}
	messageID, err := httpx.ObjectIDParam(c, "messageId", "Invalid message ID")
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}

	var group *model.GroupView
	message := "Message pinned"
	if pin {
		group, err = h.svc.PinMessage(ctx, userID, groupID, messageID)
	} else {
		group, err = h.svc.UnpinMessage(ctx, userID, groupID, messageID)
		message = "Message unpinned"
	}
	if err != nil {
		httpx.WriteError(c, h.log, err)
		return
	}
	httpx.WriteObject(c, http.StatusOK, message, gin.H{"pinned": group.Pinned})
}
