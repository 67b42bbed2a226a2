package httpx

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/apperr"
)

// ObjectIDParam 解析路径参数，非法时返回400
func ObjectIDParam(c *gin.Context, name, message string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		return primitive.NilObjectID, apperr.BadRequest(message)
	}
	return id, nil
}

// IntQuery 解析整数查询参数，缺省或非法时使用默认值
func IntQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// BindError 请求体绑定失败统一为400
func BindError(err error, message string) error {
	return apperr.Wrap(apperr.KindValidation, message, err)
}
