package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trekmate/apps/vote-service/model"
	"trekmate/apps/vote-service/service"
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
	post := r.Group("/post")
	{
		post.POST("/upvote/:postId", h.Toggle(model.TargetPost, model.Up, "postId"))
		post.POST("/downvote/:postId", h.Toggle(model.TargetPost, model.Down, "postId"))
		post.GET("/:postId/votes", h.Summary(model.TargetPost, "postId"))
	}

	comment := r.Group("/comment")
	{
		comment.POST("/upvote/:id", h.Toggle(model.TargetComment, model.Up, "id"))
		comment.POST("/downvote/:id", h.Toggle(model.TargetComment, model.Down, "id"))
		comment.GET("/:id/votes", h.Summary(model.TargetComment, "id"))
	}
}

// Toggle 投票切换，响应 data 为 {action, voteCount}
func (h *HTTPHandler) Toggle(target model.Target, dir model.Direction, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := middleware.CurrentUserObjectID(c)
		if err != nil {
			httpx.WriteError(c, h.log, err)
			return
		}
		id, err := httpx.ObjectIDParam(c, param, target.InvalidIDMessage())
		if err != nil {
			httpx.WriteError(c, h.log, err)
			return
		}

		result, err := h.svc.Toggle(c.Request.Context(), target, id, userID, dir)
		if err != nil {
			httpx.WriteError(c, h.log, err)
			return
		}
		httpx.WriteObject(c, http.StatusOK, result.Message(dir), result)
	}
}

// Summary 投票汇总
func (h *HTTPHandler) Summary(target model.Target, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := middleware.CurrentUserObjectID(c)
		if err != nil {
			httpx.WriteError(c, h.log, err)
			return
		}
		id, err := httpx.ObjectIDParam(c, param, target.InvalidIDMessage())
		if err != nil {
			httpx.WriteError(c, h.log, err)
			return
		}

		summary, err := h.svc.Summary(c.Request.Context(), target, id, userID)
		if err != nil {
			httpx.WriteError(c, h.log, err)
			return
		}
		httpx.WriteObject(c, http.StatusOK, "Votes retrieved successfully", summary)
	}
}
