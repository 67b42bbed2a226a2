package service

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trekmate/apps/vote-service/dao"
	"trekmate/apps/vote-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
	"trekmate/pkg/telemetry"
)

// MaxAttempts 条件更新未命中时最多重判的次数
const MaxAttempts = 3

// Service 投票服务，帖子与评论共用同一套切换规则
type Service struct {
	dao    dao.VoteDAO
	logger logger.Logger
}

// NewService 创建投票服务实例
func NewService(voteDAO dao.VoteDAO, log logger.Logger) *Service {
	return &Service{dao: voteDAO, logger: log}
}

// Toggle 投票切换。每次尝试读取最新状态决定结果，再用条件更新落盘；
// 期间被其他请求改动则从新状态重来
func (s *Service) Toggle(ctx context.Context, target model.Target, id, voter primitive.ObjectID, dir model.Direction) (*model.ToggleResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "vote.service.Toggle")
	defer span.End()
	span.SetAttributes(
		attribute.String("vote.target", string(target)),
		attribute.String("vote.direction", string(dir)),
		attribute.String("item.id", id.Hex()),
		attribute.String("user.id", voter.Hex()))

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		item, err := s.dao.Get(ctx, target, id)
		if err != nil {
			return nil, s.fail(span, target, err)
		}
		outcome := item.Plan(voter, dir)

		applied, err := s.dao.Apply(ctx, target, id, voter, dir, outcome)
		if err != nil {
			return nil, s.fail(span, target, apperr.Internal("Failed to record vote", err))
		}
		if !applied {
			s.logger.Debug(ctx, "Vote precondition changed, re-reading",
				logger.F("target", string(target)),
				logger.F("itemID", id.Hex()),
				logger.F("attempt", attempt))
			continue
		}

		item.Apply(voter, dir, outcome)
		metrics.VoteToggles.WithLabelValues(string(target), string(outcome)).Inc()
		span.SetAttributes(attribute.String("vote.outcome", string(outcome)), attribute.Int("vote.attempts", attempt))
		span.SetStatus(codes.Ok, "vote recorded")

		s.logger.Info(ctx, "Vote toggled",
			logger.F("target", string(target)),
			logger.F("itemID", id.Hex()),
			logger.F("userID", voter.Hex()),
			logger.F("direction", string(dir)),
			logger.F("outcome", string(outcome)))
		return &model.ToggleResult{Action: outcome, VoteCount: item.VoteCount()}, nil
	}

	s.logger.Warn(ctx, "Vote toggle kept losing races",
		logger.F("target", string(target)),
		logger.F("itemID", id.Hex()),
		logger.F("attempts", MaxAttempts))
	return nil, s.fail(span, target, apperr.Conflict(model.MsgVoteContended))
}

// Summary 当前投票汇总
func (s *Service) Summary(ctx context.Context, target model.Target, id, viewer primitive.ObjectID) (*model.Summary, error) {
	ctx, span := telemetry.StartSpan(ctx, "vote.service.Summary")
	defer span.End()
	span.SetAttributes(attribute.String("vote.target", string(target)), attribute.String("item.id", id.Hex()))

	item, err := s.dao.Get(ctx, target, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.MessageOf(err))
		return nil, err
	}
	return model.NewSummary(item, viewer), nil
}

// fail 记录失败的切换，按错误分类计数
func (s *Service) fail(span trace.Span, target model.Target, err error) error {
	metrics.VoteToggles.WithLabelValues(string(target), apperr.KindOf(err).String()).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.MessageOf(err))
	return err
}
