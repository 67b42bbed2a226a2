package service

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"

	"trekmate/apps/im-gateway-service/dao"
	"trekmate/apps/im-gateway-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
	"trekmate/pkg/telemetry"
)

// GroupIndex 用户已加入群组的索引
type GroupIndex interface {
	JoinedGroups(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error)
}

// Service 网关服务：为每个WebSocket会话维护一份频道订阅
type Service struct {
	subscriber fanout.Subscriber
	groups     GroupIndex
	presence   dao.PresenceDAO
	logger     logger.Logger
	instanceID string
}

// NewService 创建网关服务实例
func NewService(subscriber fanout.Subscriber, groups GroupIndex, presence dao.PresenceDAO, log logger.Logger) *Service {
	return &Service{
		subscriber: subscriber,
		groups:     groups,
		presence:   presence,
		logger:     log,
		instanceID: uuid.NewString(),
	}
}

// InstanceID 网关实例ID
func (s *Service) InstanceID() string {
	return s.instanceID
}

// Open 建立会话：订阅资料变更频道以及用户每个群的两个频道
func (s *Service) Open(ctx context.Context, userID primitive.ObjectID) (*Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway.service.Open")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID.Hex()))

	groupIDs, err := s.joinedGroups(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("Failed to load joined groups", err)
	}
	sub, err := s.subscriber.NewSubscription(ctx)
	if err != nil {
		return nil, apperr.Internal("Failed to open subscription", err)
	}

	sess := newSession(s, userID, sub)
	channels := []string{fanout.ProfileChannel}
	for _, id := range groupIDs {
		channels = append(channels, fanout.GroupChannels(id.Hex())...)
		sess.groups[id.Hex()] = struct{}{}
	}
	if err := sub.Subscribe(ctx, channels...); err != nil {
		sub.Close()
		return nil, apperr.Internal("Failed to subscribe to group channels", err)
	}

	if err := s.presence.Online(ctx, userID.Hex(), sess.ID, s.instanceID, model.PresenceTTL); err != nil {
		s.logger.Warn(ctx, "Failed to record presence",
			logger.F("userID", userID.Hex()),
			logger.F("error", err.Error()))
	}
	metrics.GatewaySessions.Inc()
	go sess.run()

	span.SetAttributes(attribute.Int("group.count", len(groupIDs)))
	s.logger.Info(ctx, "Gateway session opened",
		logger.F("sessionID", sess.ID),
		logger.F("userID", userID.Hex()),
		logger.F("groups", len(groupIDs)))
	return sess, nil
}

// Presence 用户在线状态
func (s *Service) Presence(ctx context.Context, userID primitive.ObjectID) (*model.Presence, error) {
	n, err := s.presence.Sessions(ctx, userID.Hex())
	if err != nil {
		return nil, apperr.Internal("Failed to load presence", err)
	}
	return &model.Presence{UserID: userID.Hex(), Online: n > 0, Sessions: n}, nil
}

// isMember 通过用户索引核对成员身份
func (s *Service) isMember(ctx context.Context, userID, groupID primitive.ObjectID) (bool, error) {
	groupIDs, err := s.joinedGroups(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, id := range groupIDs {
		if id == groupID {
			return true, nil
		}
	}
	return false, nil
}

// joinedGroups 目录中尚无该用户时视为未加入任何群
func (s *Service) joinedGroups(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	groupIDs, err := s.groups.JoinedGroups(ctx, userID)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return nil, nil
	}
	return groupIDs, err
}
