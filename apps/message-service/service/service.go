package service

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trekmate/apps/message-service/dao"
	"trekmate/apps/message-service/model"
	"trekmate/pkg/apperr"
	tracecontext "trekmate/pkg/context"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
	"trekmate/pkg/msgstore"
	"trekmate/pkg/telemetry"
)

// Service 消息服务：持久化为准，实时推送尽力而为
type Service struct {
	members   dao.MembershipDAO
	messages  msgstore.Store
	formatter *msgstore.Formatter
	notifier  *fanout.Notifier
	logger    logger.Logger
	now       func() time.Time
}

// NewService 创建消息服务实例
func NewService(members dao.MembershipDAO, messages msgstore.Store, profiles msgstore.ProfileSource, notifier *fanout.Notifier, log logger.Logger) *Service {
	return &Service{
		members:   members,
		messages:  messages,
		formatter: msgstore.NewFormatter(messages, profiles),
		notifier:  notifier,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SendInput 发送参数
type SendInput struct {
	GroupID     primitive.ObjectID
	Text        string
	ReplyTo     *primitive.ObjectID
	Attachments []msgstore.Attachment
}

// SendMessage 发送消息。发送者自动标记已读；推送失败不影响发送结果
func (s *Service) SendMessage(ctx context.Context, senderID primitive.ObjectID, in SendInput) (*msgstore.View, error) {
	ctx, span := telemetry.StartSpan(ctx, "message.service.SendMessage")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", in.GroupID.Hex()), attribute.String("user.id", senderID.Hex()))
	ctx = tracecontext.WithGroupID(ctx, in.GroupID.Hex())

	if strings.TrimSpace(in.Text) == "" && len(in.Attachments) == 0 {
		return nil, apperr.BadRequest(model.MsgTextRequired)
	}
	if len(in.Attachments) > model.MaxAttachments {
		return nil, apperr.BadRequest(model.MsgTooManyAttachment)
	}

	membership, err := s.members.GetMembership(ctx, in.GroupID, senderID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !membership.IsMember() {
		return nil, apperr.Forbidden(model.MsgSendNotMember)
	}

	if in.ReplyTo != nil {
		target, err := s.messages.Get(ctx, *in.ReplyTo)
		if err != nil {
			return nil, s.fail(span, err)
		}
		if target.Group != in.GroupID {
			return nil, apperr.BadRequest(model.MsgReplyNotInGroup)
		}
	}

	msg := msgstore.NewMessage(in.GroupID, senderID, in.Text, in.ReplyTo, in.Attachments)
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, s.fail(span, apperr.Internal("Failed to send message", err))
	}
	metrics.MessagesSent.WithLabelValues("user").Inc()
	span.SetAttributes(attribute.String("message.id", msg.ID.Hex()), attribute.Int64("message.seq", msg.Seq))

	view, err := s.formatter.FormatOne(ctx, msg)
	if err != nil {
		return nil, s.fail(span, apperr.Internal("Failed to format message", err))
	}
	s.notifier.NotifyData(ctx, fanout.EventNewMessage, in.GroupID.Hex(), msg.Seq, senderID.Hex(), view)

	s.logger.Info(ctx, "Message sent",
		logger.F("messageID", msg.ID.Hex()),
		logger.F("groupID", in.GroupID.Hex()),
		logger.F("senderID", senderID.Hex()),
		logger.F("seq", msg.Seq),
		logger.F("attachments", len(msg.Attachments)))
	return view, nil
}

// EditMessage 只有发送者本人可以编辑，系统消息不可编辑，不保留历史版本
func (s *Service) EditMessage(ctx context.Context, userID, messageID primitive.ObjectID, content string) (*msgstore.View, error) {
	ctx, span := telemetry.StartSpan(ctx, "message.service.EditMessage")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", messageID.Hex()))

	if strings.TrimSpace(content) == "" {
		return nil, apperr.BadRequest(model.MsgContentRequired)
	}
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if msg.IsSystemMessage {
		return nil, apperr.Forbidden(model.MsgEditSystem)
	}
	if msg.Sender != userID {
		return nil, apperr.Forbidden(model.MsgEditOwnOnly)
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, content, s.now())
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, s.fail(span, err)
		}
		return nil, s.fail(span, apperr.Internal("Failed to edit message", err))
	}

	view, err := s.formatter.FormatOne(ctx, updated)
	if err != nil {
		return nil, s.fail(span, apperr.Internal("Failed to format message", err))
	}
	s.notifier.NotifyData(ctx, fanout.EventMessageUpdated, updated.Group.Hex(), updated.Seq, userID.Hex(), view)

	s.logger.Info(ctx, "Message edited",
		logger.F("messageID", messageID.Hex()),
		logger.F("groupID", updated.Group.Hex()))
	return view, nil
}

// DeleteMessage 发送者或群管理员可以删除
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID primitive.ObjectID) error {
	ctx, span := telemetry.StartSpan(ctx, "message.service.DeleteMessage")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", messageID.Hex()))

	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return s.fail(span, err)
	}
	if msg.Sender != userID {
		membership, err := s.members.GetMembership(ctx, msg.Group, userID)
		if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
			return s.fail(span, apperr.Internal("Failed to delete message", err))
		}
		if !membership.IsAdmin() {
			return apperr.Forbidden(model.MsgDeleteNotAllowed)
		}
	}

	if err := s.messages.Delete(ctx, messageID); err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return s.fail(span, err)
		}
		return s.fail(span, apperr.Internal("Failed to delete message", err))
	}
	s.notifier.NotifyData(ctx, fanout.EventMessageDeleted, msg.Group.Hex(), msg.Seq, userID.Hex(),
		fanout.DeletedPayload{ID: messageID.Hex(), GroupID: msg.Group.Hex()})

	s.logger.Info(ctx, "Message deleted",
		logger.F("messageID", messageID.Hex()),
		logger.F("groupID", msg.Group.Hex()),
		logger.F("byAdmin", msg.Sender != userID))
	return nil
}

// GetGroupMessages 按时间正序返回一页历史消息，只有成员可见
func (s *Service) GetGroupMessages(ctx context.Context, userID, groupID primitive.ObjectID, page, limit int) ([]*msgstore.View, error) {
	ctx, span := telemetry.StartSpan(ctx, "message.service.GetGroupMessages")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID.Hex()), attribute.Int("page", page))

	if page < 1 {
		page = model.DefaultPage
	}
	if limit < 1 {
		limit = model.DefaultLimit
	}
	if limit > model.MaxLimit {
		limit = model.MaxLimit
	}

	membership, err := s.members.GetMembership(ctx, groupID, userID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !membership.IsMember() {
		return nil, apperr.Forbidden(model.MsgNotMember)
	}

	msgs, err := s.messages.List(ctx, groupID, page, limit)
	if err != nil {
		return nil, s.fail(span, apperr.Internal("Failed to load messages", err))
	}
	views, err := s.formatter.Format(ctx, msgs...)
	if err != nil {
		return nil, s.fail(span, apperr.Internal("Failed to format messages", err))
	}
	span.SetAttributes(attribute.Int("message.count", len(views)))
	return views, nil
}

// MarkRead 记录已读回执，同一用户只记录一次
func (s *Service) MarkRead(ctx context.Context, userID, messageID primitive.ObjectID) (*model.ReadResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "message.service.MarkRead")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", messageID.Hex()))

	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	membership, err := s.members.GetMembership(ctx, msg.Group, userID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !membership.IsMember() {
		return nil, apperr.Forbidden(model.MsgNotMember)
	}

	updated, added, err := s.messages.MarkRead(ctx, messageID, userID, s.now())
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, s.fail(span, err)
		}
		return nil, s.fail(span, apperr.Internal("Failed to mark message as read", err))
	}
	if added {
		s.logger.Debug(ctx, "Message marked as read",
			logger.F("messageID", messageID.Hex()),
			logger.F("userID", userID.Hex()))
	}
	return &model.ReadResult{MessageID: messageID, ReadBy: updated.ReadBy, Added: added}, nil
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.MessageOf(err))
	return err
}
