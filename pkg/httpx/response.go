package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trekmate/pkg/apperr"
	"trekmate/pkg/logger"
)

// Envelope 统一响应结构
type Envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteObject 写成功响应
func WriteObject(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Envelope{Status: "success", Message: message, Data: data})
}

// WriteError 唯一的错误出口：业务错误原样返回message，其他错误记录日志并返回500
func WriteError(c *gin.Context, log logger.Logger, err error) {
	status := apperr.StatusOf(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.Error(c.Request.Context(), "Request failed",
			logger.F("method", c.Request.Method),
			logger.F("path", c.FullPath()),
			logger.F("error", err))
	}
	c.AbortWithStatusJSON(status, Envelope{Status: statusText(status), Message: apperr.MessageOf(err)})
}

func statusText(status int) string {
	if status >= http.StatusInternalServerError {
		return "error"
	}
	return "fail"
}
