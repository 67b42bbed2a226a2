package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trekmate/apps/group-service/dao"
	"trekmate/apps/group-service/model"
	"trekmate/pkg/apperr"
	tracecontext "trekmate/pkg/context"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
	"trekmate/pkg/msgstore"
	"trekmate/pkg/telemetry"
	"trekmate/pkg/userdir"
)

// 列表默认分页
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Service 群组服务
type Service struct {
	dao       dao.GroupDAO
	users     userdir.Directory
	messages  msgstore.Store
	formatter *msgstore.Formatter
	notifier  *fanout.Notifier
	logger    logger.Logger
	now       func() time.Time
}

// NewService 创建群组服务实例
func NewService(groupDAO dao.GroupDAO, users userdir.Directory, messages msgstore.Store, notifier *fanout.Notifier, log logger.Logger) *Service {
	return &Service{
		dao:       groupDAO,
		users:     users,
		messages:  messages,
		formatter: msgstore.NewFormatter(messages, users),
		notifier:  notifier,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateGroupInput 创建群组参数
type CreateGroupInput struct {
	Name              string
	TrekRoute         string
	Description       string
	StartDate         time.Time
	EndDate           time.Time
	GroupSize         int
	AdditionalMembers int
	GenderPreference  string
	AgeFrom           int
	AgeTo             int
	GroupImage        string
}

// Validate 必填项、日期顺序与年龄范围
func (in *CreateGroupInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.TrekRoute) == "" ||
		in.StartDate.IsZero() || in.EndDate.IsZero() || in.GroupSize < 1 {
		return apperr.BadRequest(model.MsgRequiredFields)
	}
	if in.EndDate.Before(in.StartDate) {
		return apperr.BadRequest(model.MsgEndBeforeStart)
	}
	if in.AdditionalMembers < 0 {
		return apperr.BadRequest("Additional members cannot be negative")
	}
	if err := validateGender(in.GenderPreference); err != nil {
		return err
	}
	return validateAgeRange(in.AgeFrom, in.AgeTo)
}

func validateGender(pref string) error {
	switch strings.ToLower(pref) {
	case "", model.GenderAny, model.GenderMale, model.GenderFemale, model.GenderOthers:
		return nil
	}
	return apperr.BadRequest("Gender preference must be one of any, male, female, others")
}

func validateAgeRange(from, to int) error {
	if from < 0 || to < 0 {
		return apperr.BadRequest("Age cannot be negative")
	}
	if from > 0 && to > 0 && from > to {
		return apperr.BadRequest(model.MsgInvalidAgeRange)
	}
	return nil
}

// CreateGroup 创建群组，创建者随文档一起写入为管理员
func (s *Service) CreateGroup(ctx context.Context, creatorID primitive.ObjectID, in CreateGroupInput) (*model.GroupView, error) {
	ctx, span := telemetry.StartSpan(ctx, "group.service.CreateGroup")
	defer span.End()
	span.SetAttributes(
		attribute.String("group.name", in.Name),
		attribute.String("user.id", creatorID.Hex()),
		attribute.Int("group.size", in.GroupSize),
	)

	if err := in.Validate(); err != nil {
		return nil, s.fail(span, "create", err)
	}
	creator, err := s.users.GetUser(ctx, creatorID)
	if err != nil {
		return nil, s.fail(span, "create", err)
	}

	now := s.now()
	pref := strings.ToLower(in.GenderPreference)
	if pref == "" {
		pref = model.GenderAny
	}
	image := in.GroupImage
	if image == "" {
		image = model.DefaultGroupImage
	}
	group := &model.Group{
		ID:          primitive.NewObjectID(),
		Name:        strings.TrimSpace(in.Name),
		TrekRoute:   in.TrekRoute,
		Description: in.Description,
		CreatedBy:   creatorID,
		Members:     []model.Member{{User: creatorID, Role: model.RoleAdmin, JoinedAt: now}},
		TrekDetails: model.TrekDetails{
			StartDate:         in.StartDate,
			EndDate:           in.EndDate,
			GroupSize:         in.GroupSize,
			AdditionalMembers: in.AdditionalMembers,
			GenderPreference:  pref,
			AgeFrom:           in.AgeFrom,
			AgeTo:             in.AgeTo,
		},
		IsOpen:       true,
		GroupImage:   image,
		Pinned:       []primitive.ObjectID{},
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ctx = tracecontext.WithGroupID(ctx, group.ID.Hex())
	span.SetAttributes(attribute.String("group.id", group.ID.Hex()))

	if err := s.dao.CreateGroup(ctx, group); err != nil {
		return nil, s.fail(span, "create", apperr.Internal("Failed to create group", err))
	}

	if err := s.users.AddJoinedGroup(ctx, creatorID, group.ID); err != nil {
		s.compensate(ctx, "create", group.ID, creatorID, err, func(ctx context.Context) error {
			return s.dao.DeleteGroup(ctx, group.ID)
		})
		return nil, s.fail(span, "create", apperr.Internal("Failed to create group", err))
	}

	seq := s.announce(ctx, group.ID, creatorID, model.CreatedText(fullName(creator)))
	s.notifyMember(ctx, fanout.EventMemberJoined, group, creatorID, creatorID, seq, creator)

	s.succeed(span, "create")
	s.logger.Info(ctx, "Group created successfully",
		logger.F("groupID", group.ID.Hex()),
		logger.F("groupName", group.Name),
		logger.F("creatorID", creatorID.Hex()),
		logger.F("capacity", group.Capacity()))

	created, err := s.dao.GetGroup(ctx, group.ID)
	if err != nil {
		created = group
	}
	return model.NewGroupView(created, creator), nil
}

// GroupPage 分页结果
type GroupPage struct {
	Groups      []*model.GroupView `json:"groups"`
	TotalGroups int64              `json:"totalGroups"`
	CurrentPage int                `json:"currentPage"`
	TotalPages  int                `json:"totalPages"`
}

// ListGroups 搜索群组，每个群带浏览者视角的状态
func (s *Service) ListGroups(ctx context.Context, viewerID primitive.ObjectID, q model.ListQuery) (*GroupPage, error) {
	ctx, span := telemetry.StartSpan(ctx, "group.service.ListGroups")
	defer span.End()

	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.SortBy == "" {
		q.SortBy = "createdAt"
	}
	if _, ok := model.SortableFields[q.SortBy]; !ok {
		return nil, apperr.BadRequest("Unsupported sort field: " + q.SortBy)
	}
	if q.StartDateFrom != nil && q.StartDateTo != nil && q.StartDateTo.Before(*q.StartDateFrom) {
		return nil, apperr.BadRequest("startDateTo cannot be before startDateFrom")
	}

	groups, total, err := s.dao.ListGroups(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list groups")
		return nil, apperr.Internal("Failed to list groups", err)
	}

	viewer := s.viewer(ctx, viewerID)
	views := make([]*model.GroupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, model.NewGroupView(g, viewer))
	}
	span.SetAttributes(attribute.Int64("group.total", total))

	return &GroupPage{
		Groups:      views,
		TotalGroups: total,
		CurrentPage: q.Page,
		TotalPages:  int(math.Ceil(float64(total) / float64(q.Limit))),
	}, nil
}

// MyGroupView 我的群组条目，可附带最新一条消息
type MyGroupView struct {
	*model.GroupView
	LatestMessage *msgstore.View `json:"latestMessage,omitempty"`
}

// GetMyGroups 用户所在的群，按最近活跃倒序；withPreview 时每个群只取一条最新消息
func (s *Service) GetMyGroups(ctx context.Context, userID primitive.ObjectID, withPreview bool) ([]*MyGroupView, error) {
	ctx, span := telemetry.StartSpan(ctx, "group.service.GetMyGroups")
	defer span.End()

	groups, err := s.dao.GetUserGroups(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Internal("Failed to get user groups", err)
	}

	viewer := s.viewer(ctx, userID)
	result := make([]*MyGroupView, 0, len(groups))
	for _, g := range groups {
		item := &MyGroupView{GroupView: model.NewGroupView(g, viewer)}
		if withPreview {
			item.LatestMessage = s.preview(ctx, g.ID)
		}
		result = append(result, item)
	}
	span.SetAttributes(attribute.Int("group.count", len(result)))
	return result, nil
}

// preview 预览失败不影响列表
func (s *Service) preview(ctx context.Context, groupID primitive.ObjectID) *msgstore.View {
	latest, err := s.messages.Latest(ctx, groupID)
	if err != nil {
		s.logger.Warn(ctx, "Failed to load latest message", logger.F("groupID", groupID.Hex()), logger.F("error", err))
		return nil
	}
	if latest == nil {
		return nil
	}
	view, err := s.formatter.FormatOne(ctx, latest)
	if err != nil {
		s.logger.Warn(ctx, "Failed to format latest message", logger.F("groupID", groupID.Hex()), logger.F("error", err))
		return nil
	}
	return view
}

// GroupDetail 群详情：成员展示资料与置顶消息
type GroupDetail struct {
	*model.GroupView
	Creator        model.MemberView   `json:"creator"`
	MemberProfiles []model.MemberView `json:"memberProfiles"`
	PinnedMessages []*msgstore.View   `json:"pinnedMessages"`
}

// GetGroup 获取群组详情
func (s *Service) GetGroup(ctx context.Context, viewerID, groupID primitive.ObjectID) (*GroupDetail, error) {
	ctx, span := telemetry.StartSpan(ctx, "group.service.GetGroup")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID.Hex()))

	g, err := s.dao.GetGroup(ctx, groupID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ids := append(g.MemberIDs(), g.CreatedBy)
	profiles, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("Failed to load member profiles", err)
	}

	viewer := profiles[viewerID]
	if viewer == nil {
		viewer = s.viewer(ctx, viewerID)
	}
	detail := &GroupDetail{
		GroupView:      model.NewGroupView(g, viewer),
		Creator:        model.NewMemberView(model.Member{User: g.CreatedBy, Role: model.RoleAdmin}, profiles[g.CreatedBy]),
		MemberProfiles: make([]model.MemberView, 0, len(g.Members)),
		PinnedMessages: []*msgstore.View{},
	}
	for _, m := range g.Members {
		detail.MemberProfiles = append(detail.MemberProfiles, model.NewMemberView(m, profiles[m.User]))
	}

	if len(g.Pinned) > 0 {
		pinned, err := s.messages.GetMany(ctx, g.Pinned)
		if err != nil {
			return nil, apperr.Internal("Failed to load pinned messages", err)
		}
		ordered := make([]*msgstore.Message, 0, len(pinned))
		for _, id := range g.Pinned {
			if m, ok := pinned[id]; ok {
				ordered = append(ordered, m)
			}
		}
		views, err := s.formatter.Format(ctx, ordered...)
		if err != nil {
			return nil, apperr.Internal("Failed to format pinned messages", err)
		}
		detail.PinnedMessages = views
	}
	return detail, nil
}

// UpdateGroup 管理员修改群资料，只接受允许的字段
func (s *Service) UpdateGroup(ctx context.Context, requester, groupID primitive.ObjectID, update *model.GroupUpdate) (*model.GroupView, error) {
	ctx, span := telemetry.StartSpan(ctx, "group.service.UpdateGroup")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID.Hex()))

	if update == nil || update.Empty() {
		return nil, s.fail(span, "update", apperr.BadRequest("No valid fields to update"))
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, s.fail(span, "update", apperr.BadRequest("Group name cannot be empty"))
	}
	if update.AdditionalMembers != nil && *update.AdditionalMembers < 0 {
		return nil, s.fail(span, "update", apperr.BadRequest("Additional members cannot be negative"))
	}
	if update.GenderPreference != nil {
		if err := validateGender(*update.GenderPreference); err != nil {
			return nil, s.fail(span, "update", err)
		}
		lower := strings.ToLower(*update.GenderPreference)
		if lower == "" {
			lower = model.GenderAny
		}
		update.GenderPreference = &lower
	}

	g, err := s.dao.GetGroup(ctx, groupID)
	if err != nil {
		return nil, s.fail(span, "update", err)
	}
	check := func(g *model.Group) error {
		if !g.IsAdmin(requester) {
			return apperr.Forbidden(model.MsgOnlyAdminsUpdate)
		}
		preview := g.Clone()
		update.Apply(preview)
		return validateAgeRange(preview.TrekDetails.AgeFrom, preview.TrekDetails.AgeTo)
	}
	if err := check(g); err != nil {
		return nil, s.fail(span, "update", err)
	}

	updated, err := s.dao.UpdateGroup(ctx, groupID, requester, update, s.now())
	if errors.Is(err, dao.ErrConditionFailed) {
		return nil, s.fail(span, "update", s.reclassify(ctx, "update", groupID, check))
	}
	if err != nil {
		return nil, s.fail(span, "update", apperr.Internal("Failed to update group", err))
	}

	s.succeed(span, "update")
	s.logger.Info(ctx, "Group updated successfully",
		logger.F("groupID", groupID.Hex()),
		logger.F("requester", requester.Hex()))
	return model.NewGroupView(updated, s.viewer(ctx, requester)), nil
}

// PinMessage 管理员置顶本群消息
func (s *Service) PinMessage(ctx context.Context, requester, groupID, messageID primitive.ObjectID) (*model.GroupView, error) {
	return s.changePin(ctx, "pin", requester, groupID, messageID, s.dao.PinMessage)
}

// UnpinMessage 取消置顶
func (s *Service) UnpinMessage(ctx context.Context, requester, groupID, messageID primitive.ObjectID) (*model.GroupView, error) {
	return s.changePin(ctx, "unpin", requester, groupID, messageID, s.dao.UnpinMessage)
}

type pinFunc func(ctx context.Context, groupID, requester, messageID primitive.ObjectID, at time.Time) (*model.Group, error)

func (s *Service) changePin(ctx context.Context, op string, requester, groupID, messageID primitive.ObjectID, apply pinFunc) (*model.GroupView, error) {
	ctx, span := telemetry.StartSpan(ctx, "group.service."+op)
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID.Hex()), attribute.String("message.id", messageID.Hex()))

	g, err := s.dao.GetGroup(ctx, groupID)
	if err != nil {
		return nil, s.fail(span, op, err)
	}
	check := func(g *model.Group) error {
		if !g.IsAdmin(requester) {
			return apperr.Forbidden(model.MsgOnlyAdminsPin)
		}
		return nil
	}
	if err := check(g); err != nil {
		return nil, s.fail(span, op, err)
	}
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, s.fail(span, op, err)
	}
	if msg.Group != groupID {
		return nil, s.fail(span, op, apperr.BadRequest(model.MsgMessageNotInGroup))
	}

	updated, err := apply(ctx, groupID, requester, messageID, s.now())
	if errors.Is(err, dao.ErrConditionFailed) {
		return nil, s.fail(span, op, s.reclassify(ctx, op, groupID, check))
	}
	if err != nil {
		return nil, s.fail(span, op, apperr.Internal("Failed to update pinned messages", err))
	}

	s.succeed(span, op)
	s.logger.Info(ctx, "Pinned messages changed",
		logger.F("groupID", groupID.Hex()),
		logger.F("messageID", messageID.Hex()),
		logger.F("operation", op))
	return model.NewGroupView(updated, s.viewer(ctx, requester)), nil
}

// viewer 取浏览者资料，失败时按匿名处理
func (s *Service) viewer(ctx context.Context, userID primitive.ObjectID) *userdir.Profile {
	p, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if !apperr.IsKind(err, apperr.KindNotFound) {
			s.logger.Warn(ctx, "Failed to load viewer profile", logger.F("userID", userID.Hex()), logger.F("error", err))
		}
		return &userdir.Profile{ID: userID}
	}
	return p
}

// reclassify 条件更新未命中后重新读取并按前置条件归类；仍全部满足说明期间发生了并发修改
func (s *Service) reclassify(ctx context.Context, op string, groupID primitive.ObjectID, check func(*model.Group) error) error {
	metrics.MembershipRetries.WithLabelValues(op).Inc()
	fresh, err := s.dao.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if err := check(fresh); err != nil {
		return err
	}
	s.logger.Warn(ctx, "Conditional group update lost a race",
		logger.F("groupID", groupID.Hex()),
		logger.F("operation", op))
	return apperr.Conflict(model.MsgConcurrentChange)
}

// compensate 撤销群文档变更；请求取消后仍需执行
func (s *Service) compensate(ctx context.Context, op string, groupID, userID primitive.ObjectID, cause error, undo func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.logger.Error(ctx, "Joined-groups index update failed, compensating",
		logger.F("groupID", groupID.Hex()),
		logger.F("userID", userID.Hex()),
		logger.F("operation", op),
		logger.F("error", cause))

	if err := undo(ctx); err != nil {
		metrics.SagaCompensations.WithLabelValues(op, "failed").Inc()
		s.logger.Error(ctx, "Compensation failed, group and user index are inconsistent",
			logger.F("groupID", groupID.Hex()),
			logger.F("userID", userID.Hex()),
			logger.F("operation", op),
			logger.F("error", err))
		return
	}
	metrics.SagaCompensations.WithLabelValues(op, "ok").Inc()
}

// announce 写系统消息并推送，返回其序号；失败只记录日志
func (s *Service) announce(ctx context.Context, groupID, actor primitive.ObjectID, text string) int64 {
	msg := msgstore.NewSystemMessage(groupID, actor, text)
	if err := s.messages.Append(ctx, msg); err != nil {
		s.logger.Error(ctx, "Failed to write system message",
			logger.F("groupID", groupID.Hex()),
			logger.F("text", text),
			logger.F("error", err))
		return 0
	}
	metrics.MessagesSent.WithLabelValues("system").Inc()

	view, err := s.formatter.FormatOne(ctx, msg)
	if err != nil {
		s.logger.Error(ctx, "Failed to format system message", logger.F("messageID", msg.ID.Hex()), logger.F("error", err))
		return msg.Seq
	}
	s.notifier.NotifyData(ctx, fanout.EventNewMessage, groupID.Hex(), msg.Seq, actor.Hex(), view)
	return msg.Seq
}

// notifyMember 成员事件携带对应系统消息的序号
func (s *Service) notifyMember(ctx context.Context, event string, g *model.Group, actor, subject primitive.ObjectID, seq int64, profile *userdir.Profile) {
	payload := fanout.MemberPayload{
		GroupID:        g.ID.Hex(),
		User:           subject.Hex(),
		FullName:       fullName(profile),
		ProfilePicture: profile.Avatar(),
		MemberCount:    g.MemberCount(),
	}
	if m, ok := g.FindMember(subject); ok {
		payload.Role = m.Role
		payload.JoinedAt = m.JoinedAt
	}
	s.notifier.NotifyData(ctx, event, g.ID.Hex(), seq, actor.Hex(), payload)
}

func (s *Service) fail(span trace.Span, op string, err error) error {
	metrics.MembershipOps.WithLabelValues(op, apperr.KindOf(err).String()).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.MessageOf(err))
	return err
}

func (s *Service) succeed(span trace.Span, op string) {
	metrics.MembershipOps.WithLabelValues(op, "ok").Inc()
	span.SetStatus(codes.Ok, op+" succeeded")
}

// fullName 系统消息使用全名
func fullName(p *userdir.Profile) string {
	if p != nil && p.FullName != "" {
		return p.FullName
	}
	return p.DisplayName()
}
