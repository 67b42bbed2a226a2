package converter

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/message-service/model"
	"trekmate/apps/message-service/service"
	"trekmate/pkg/apperr"
)

// Converter 请求到服务参数的转换
type Converter struct{}

// NewConverter 创建转换器实例
func NewConverter() *Converter {
	return &Converter{}
}

// SendInput binding 已校验ID格式，这里只做类型转换
func (c *Converter) SendInput(req *model.SendMessageRequest) (service.SendInput, error) {
	groupID, err := primitive.ObjectIDFromHex(req.GroupID)
	if err != nil {
		return service.SendInput{}, apperr.BadRequest(model.MsgInvalidGroupID)
	}
	in := service.SendInput{
		GroupID:     groupID,
		Text:        req.Text,
		Attachments: req.Attachments,
	}
	if req.ReplyTo != "" {
		replyTo, err := primitive.ObjectIDFromHex(req.ReplyTo)
		if err != nil {
			return service.SendInput{}, apperr.BadRequest(model.MsgInvalidMessageID)
		}
		in.ReplyTo = &replyTo
	}
	return in, nil
}
