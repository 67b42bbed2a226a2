package validation

import (
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Genders 群组性别偏好取值
var Genders = []string{"any", "male", "female", "others"}

var registerOnce sync.Once

// Register 向gin的binding验证器注册自定义规则，可重复调用
func Register() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("objectid", validateObjectID)
			_ = v.RegisterValidation("gender", validateGender)
		}
	})
}

// validateObjectID 十六进制ObjectID
func validateObjectID(fl validator.FieldLevel) bool {
	return primitive.IsValidObjectID(fl.Field().String())
}

// validateGender 不区分大小写
func validateGender(fl validator.FieldLevel) bool {
	return IsGender(fl.Field().String())
}

// IsGender 判断是否为合法的性别偏好
func IsGender(s string) bool {
	for _, g := range Genders {
		if strings.EqualFold(s, g) {
			return true
		}
	}
	return false
}
