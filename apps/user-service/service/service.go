package service

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trekmate/apps/user-service/dao"
	"trekmate/apps/user-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
	"trekmate/pkg/telemetry"
	"trekmate/pkg/userdir"
)

// ProfileCache 资料缓存失效
type ProfileCache interface {
	Invalidate(ctx context.Context, userID primitive.ObjectID) error
}

// Service 用户资料服务
type Service struct {
	dao      dao.ProfileDAO
	users    userdir.Directory
	cache    ProfileCache
	notifier *fanout.Notifier
	logger   logger.Logger
}

// NewService 创建用户资料服务实例，cache 可为nil
func NewService(profileDAO dao.ProfileDAO, users userdir.Directory, cache ProfileCache, notifier *fanout.Notifier, log logger.Logger) *Service {
	return &Service{
		dao:      profileDAO,
		users:    users,
		cache:    cache,
		notifier: notifier,
		logger:   log,
	}
}

// GetProfile 查询资料
func (s *Service) GetProfile(ctx context.Context, userID primitive.ObjectID) (*userdir.Profile, error) {
	ctx, span := telemetry.StartSpan(ctx, "user.service.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID.Hex()))

	p, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fail(span, internalUnlessApp(err, "Failed to load profile"))
	}
	return p, nil
}

// UpdateProfile 更新资料，清除缓存后向资料频道推送 profile-updated
func (s *Service) UpdateProfile(ctx context.Context, userID primitive.ObjectID, req *model.UpdateProfileRequest) (*userdir.Profile, error) {
	ctx, span := telemetry.StartSpan(ctx, "user.service.UpdateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID.Hex()))

	if err := req.Normalize(); err != nil {
		metrics.ProfileUpdates.WithLabelValues(apperr.KindOf(err).String()).Inc()
		return nil, fail(span, err)
	}
	p, err := s.dao.UpdateProfile(ctx, userID, req)
	if err != nil {
		err = internalUnlessApp(err, "Failed to update profile")
		metrics.ProfileUpdates.WithLabelValues(apperr.KindOf(err).String()).Inc()
		return nil, fail(span, err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.logger.Warn(ctx, "Failed to invalidate profile cache",
				logger.F("userID", userID.Hex()),
				logger.F("error", err.Error()))
		}
	}
	s.notifier.NotifyData(ctx, fanout.EventProfileUpdated, "", 0, userID.Hex(), fanout.ProfilePayload{
		User:           userID.Hex(),
		FullName:       p.FullName,
		Username:       p.Username,
		ProfilePicture: p.Avatar(),
	})

	metrics.ProfileUpdates.WithLabelValues("ok").Inc()
	span.SetStatus(codes.Ok, "profile updated")
	s.logger.Info(ctx, "Profile updated",
		logger.F("userID", userID.Hex()),
		logger.F("username", p.Username))
	return p, nil
}

// internalUnlessApp 已分类的错误原样返回，其余包装为500
func internalUnlessApp(err error, message string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(message, err)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.MessageOf(err))
	return err
}
