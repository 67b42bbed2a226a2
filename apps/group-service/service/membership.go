package service

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"

	"trekmate/apps/group-service/dao"
	"trekmate/apps/group-service/model"
	"trekmate/pkg/apperr"
	tracecontext "trekmate/pkg/context"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/telemetry"
)

// JoinGroup 加入群组。先写群文档，再写用户索引，后者失败时撤回成员
func (s *Service) JoinGroup(ctx context.Context, userID, groupID primitive.ObjectID) (*model.GroupView, error) {
	ctx, span := telemetry.StartSpan(ctx, "group.service.JoinGroup")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID.Hex()), attribute.String("user.id", userID.Hex()))
	ctx = tracecontext.WithGroupID(ctx, groupID.Hex())

	g, err := s.dao.GetGroup(ctx, groupID)
	if err != nil {
		return nil, s.fail(span, "join", err)
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, s.fail(span, "join", err)
	}
	if err := g.CheckJoin(user); err != nil {
		return nil, s.fail(span, "join", err)
	}

	updated, err := s.dao.AddMember(ctx, groupID, user, s.now())
	if errors.Is(err, dao.ErrConditionFailed) {
		return nil, s.fail(span, "join", s.reclassify(ctx, "join", groupID, func(g *model.Group) error {
			return g.CheckJoin(user)
		}))
	}
	if err != nil {
		return nil, s.fail(span, "join", apperr.Internal("Failed to join group", err))
	}

	if err := s.users.AddJoinedGroup(ctx, userID, groupID); err != nil {
		s.compensate(ctx, "join", groupID, userID, err, func(ctx context.Context) error {
			return s.dao.PullMember(ctx, groupID, userID)
		})
		return nil, s.fail(span, "join", apperr.Internal("Failed to join group", err))
	}

	seq := s.announce(ctx, groupID, userID, model.JoinedText(fullName(user)))
	s.notifyMember(ctx, fanout.EventMemberJoined, updated, userID, userID, seq, user)

	s.succeed(span, "join")
	s.logger.Info(ctx, "User joined group",
		logger.F("groupID", groupID.Hex()),
		logger.F("userID", userID.Hex()),
		logger.F("memberCount", updated.MemberCount()),
		logger.F("capacity", updated.Capacity()))
	return model.NewGroupView(updated, user), nil
}

// LeaveGroup 退出群组。唯一管理员在仍有其他成员时不能退出
func (s *Service) LeaveGroup(ctx context.Context, userID, groupID primitive.ObjectID) error {
	ctx, span := telemetry.StartSpan(ctx, "group.service.LeaveGroup")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID.Hex()), attribute.String("user.id", userID.Hex()))
	ctx = tracecontext.WithGroupID(ctx, groupID.Hex())

	g, err := s.dao.GetGroup(ctx, groupID)
	if err != nil {
		return s.fail(span, "leave", err)
	}
	if err := g.CheckLeave(userID); err != nil {
		return s.fail(span, "leave", err)
	}
	snapshot, _ := g.FindMember(userID)
	entry := *snapshot

	updated, err := s.dao.LeaveGroup(ctx, groupID, userID, s.now())
	if errors.Is(err, dao.ErrConditionFailed) {
		return s.fail(span, "leave", s.reclassify(ctx, "leave", groupID, func(g *model.Group) error {
			return g.CheckLeave(userID)
		}))
	}
	if err != nil {
		return s.fail(span, "leave", apperr.Internal("Failed to leave group", err))
	}

	if err := s.users.RemoveJoinedGroup(ctx, userID, groupID); err != nil {
		s.compensate(ctx, "leave", groupID, userID, err, func(ctx context.Context) error {
			return s.dao.RestoreMember(ctx, groupID, entry)
		})
		return s.fail(span, "leave", apperr.Internal("Failed to leave group", err))
	}

	user := s.viewer(ctx, userID)
	seq := s.announce(ctx, groupID, userID, model.LeftText(fullName(user)))
	s.notifyMember(ctx, fanout.EventMemberLeft, updated, userID, userID, seq, user)

	s.succeed(span, "leave")
	s.logger.Info(ctx, "User left group",
		logger.F("groupID", groupID.Hex()),
		logger.F("userID", userID.Hex()),
		logger.F("memberCount", updated.MemberCount()))
	return nil
}

// MakeAdmin 管理员将普通成员提升为管理员
func (s *Service) MakeAdmin(ctx context.Context, requester, groupID, target primitive.ObjectID) (*model.GroupView, error) {
	ctx, span := telemetry.StartSpan(ctx, "group.service.MakeAdmin")
	defer span.End()
	span.SetAttributes(
		attribute.String("group.id", groupID.Hex()),
		attribute.String("user.id", requester.Hex()),
		attribute.String("target.id", target.Hex()),
	)
	ctx = tracecontext.WithGroupID(ctx, groupID.Hex())

	g, err := s.dao.GetGroup(ctx, groupID)
	if err != nil {
		return nil, s.fail(span, "promote", err)
	}
	check := func(g *model.Group) error {
		return g.CheckPromote(requester, target)
	}
	if err := check(g); err != nil {
		return nil, s.fail(span, "promote", err)
	}

	updated, err := s.dao.PromoteMember(ctx, groupID, requester, target, s.now())
	if errors.Is(err, dao.ErrConditionFailed) {
		return nil, s.fail(span, "promote", s.reclassify(ctx, "promote", groupID, check))
	}
	if err != nil {
		return nil, s.fail(span, "promote", apperr.Internal("Failed to promote member", err))
	}

	promoted := s.viewer(ctx, target)
	seq := s.announce(ctx, groupID, requester, model.PromotedText(fullName(promoted)))
	s.notifyMember(ctx, fanout.EventMemberPromoted, updated, requester, target, seq, promoted)

	s.succeed(span, "promote")
	s.logger.Info(ctx, "Member promoted to admin",
		logger.F("groupID", groupID.Hex()),
		logger.F("requester", requester.Hex()),
		logger.F("target", target.Hex()),
		logger.F("adminCount", updated.AdminCount()))
	return model.NewGroupView(updated, s.viewer(ctx, requester)), nil
}

// RemoveMember 管理员移除普通成员，并同步被移除者的用户索引
func (s *Service) RemoveMember(ctx context.Context, requester, groupID, target primitive.ObjectID) error {
	ctx, span := telemetry.StartSpan(ctx, "group.service.RemoveMember")
	defer span.End()
	span.SetAttributes(
		attribute.String("group.id", groupID.Hex()),
		attribute.String("user.id", requester.Hex()),
		attribute.String("target.id", target.Hex()),
	)
	ctx = tracecontext.WithGroupID(ctx, groupID.Hex())

	g, err := s.dao.GetGroup(ctx, groupID)
	if err != nil {
		return s.fail(span, "remove", err)
	}
	check := func(g *model.Group) error {
		return g.CheckRemove(requester, target)
	}
	if err := check(g); err != nil {
		return s.fail(span, "remove", err)
	}
	removed, err := s.users.GetUser(ctx, target)
	if err != nil {
		return s.fail(span, "remove", err)
	}
	snapshot, _ := g.FindMember(target)
	entry := *snapshot

	updated, err := s.dao.RemoveMember(ctx, groupID, requester, target, s.now())
	if errors.Is(err, dao.ErrConditionFailed) {
		return s.fail(span, "remove", s.reclassify(ctx, "remove", groupID, check))
	}
	if err != nil {
		return s.fail(span, "remove", apperr.Internal("Failed to remove member", err))
	}

	if err := s.users.RemoveJoinedGroup(ctx, target, groupID); err != nil {
		s.compensate(ctx, "remove", groupID, target, err, func(ctx context.Context) error {
			return s.dao.RestoreMember(ctx, groupID, entry)
		})
		return s.fail(span, "remove", apperr.Internal("Failed to remove member", err))
	}

	seq := s.announce(ctx, groupID, requester, model.RemovedText(fullName(removed)))
	s.notifyMember(ctx, fanout.EventMemberLeft, updated, requester, target, seq, removed)

	s.succeed(span, "remove")
	s.logger.Info(ctx, "Member removed from group",
		logger.F("groupID", groupID.Hex()),
		logger.F("requester", requester.Hex()),
		logger.F("target", target.Hex()))
	return nil
}
