package service

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trekmate/apps/history-service/dao"
	"trekmate/apps/history-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
	"trekmate/pkg/telemetry"
)

// Service 群组动态服务：消费扇出事件归档，并提供分页查询
type Service struct {
	dao    dao.ActivityDAO
	logger logger.Logger
}

// NewService 创建群组动态服务实例
func NewService(activityDAO dao.ActivityDAO, log logger.Logger) *Service {
	return &Service{
		dao:    activityDAO,
		logger: log,
	}
}

// subjectRef 从事件载荷中取出被操作对象
type subjectRef struct {
	ID   string `json:"_id"`
	User string `json:"user"`
}

// HandleMessage kafka.ConsumerHandler，无法解析的消息记日志后跳过
func (s *Service) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ev, err := fanout.Decode(msg.Value)
	if err != nil {
		s.logger.Warn(ctx, "Skipping undecodable activity event",
			logger.F("topic", msg.Topic),
			logger.F("offset", msg.Offset),
			logger.F("error", err.Error()))
		return nil
	}
	_, err = s.Record(ctx, ev)
	return err
}

// Record 归档一条事件。没有群组的事件（资料变更）不归档，重复投递返回false
func (s *Service) Record(ctx context.Context, ev *fanout.Event) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "history.service.Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.name", ev.Event),
		attribute.String("group.id", ev.GroupID),
		attribute.Int64("event.seq", ev.Seq))

	if ev.GroupID == "" {
		return false, nil
	}

	record := &model.ActivityRecord{
		GroupID: ev.GroupID,
		Event:   ev.Event,
		ActorID: ev.ActorID,
		Seq:     ev.Seq,
		At:      ev.At.UTC(),
	}
	var ref subjectRef
	if err := ev.DecodeData(&ref); err == nil {
		record.Subject = ref.User
		if record.Subject == "" {
			record.Subject = ref.ID
		}
	}

	inserted, err := s.dao.Record(ctx, record)
	if err != nil {
		return false, fail(span, apperr.Internal("Failed to record activity", err))
	}
	if !inserted {
		s.logger.Debug(ctx, "Duplicate activity event ignored",
			logger.F("groupID", ev.GroupID),
			logger.F("event", ev.Event),
			logger.F("seq", ev.Seq))
		return false, nil
	}

	metrics.ActivityRecorded.WithLabelValues(ev.Event).Inc()
	s.logger.Info(ctx, "Activity recorded",
		logger.F("recordID", record.ID),
		logger.F("groupID", ev.GroupID),
		logger.F("event", ev.Event),
		logger.F("seq", ev.Seq))
	return true, nil
}

// ListActivity 群组动态分页，最新在前
func (s *Service) ListActivity(ctx context.Context, groupID string, page, limit int) (*model.ActivityPage, error) {
	ctx, span := telemetry.StartSpan(ctx, "history.service.ListActivity")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID))

	if page < 0 || limit < 0 {
		return nil, fail(span, apperr.BadRequest(model.MsgInvalidPaging))
	}
	page, limit = model.NormalizePaging(page, limit)

	records, total, err := s.dao.List(ctx, groupID, page, limit)
	if err != nil {
		return nil, fail(span, apperr.Internal("Failed to load activity", err))
	}
	if records == nil {
		records = []*model.ActivityRecord{}
	}
	return &model.ActivityPage{
		Activities:  records,
		Total:       total,
		CurrentPage: page,
		TotalPages:  model.TotalPages(total, limit),
	}, nil
}

// Stats 群组各事件类型累计
func (s *Service) Stats(ctx context.Context, groupID string) ([]*model.GroupEventStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "history.service.Stats")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID))

	stats, err := s.dao.Stats(ctx, groupID)
	if err != nil {
		return nil, fail(span, apperr.Internal("Failed to load activity stats", err))
	}
	if stats == nil {
		stats = []*model.GroupEventStats{}
	}
	return stats, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.KindOf(err).String())
	return err
}
