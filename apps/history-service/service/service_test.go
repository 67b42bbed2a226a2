package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"trekmate/apps/history-service/dao"
	"trekmate/pkg/apperr"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
)

const group = "64b7f0c2a1e4d3b2c1a09f01"

func event(t *testing.T, name string, seq int64, at time.Time, data interface{}) *fanout.Event {
	t.Helper()
	ev, err := fanout.NewEvent(name, group, seq, "64b7f0c2a1e4d3b2c1a09f02", data)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	ev.At = at
	return ev
}

func TestRecordAndListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := dao.NewMemoryActivityDAO()
	svc := NewService(store, logger.NewNopLogger())
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	joined := fanout.MemberPayload{GroupID: group, User: "64b7f0c2a1e4d3b2c1a09f03", MemberCount: 2}
	events := []*fanout.Event{
		event(t, fanout.EventNewMessage, 1, base, map[string]string{"_id": "64b7f0c2a1e4d3b2c1a09faa"}),
		event(t, fanout.EventMemberJoined, 2, base.Add(time.Minute), joined),
		event(t, fanout.EventMessageDeleted, 1, base.Add(2*time.Minute), fanout.DeletedPayload{ID: "64b7f0c2a1e4d3b2c1a09faa", GroupID: group}),
	}
	for _, ev := range events {
		ok, err := svc.Record(ctx, ev)
		if err != nil || !ok {
			t.Fatalf("Record(%s) = %v, %v", ev.Event, ok, err)
		}
	}

	page, err := svc.ListActivity(ctx, group, 1, 2)
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || page.CurrentPage != 1 {
		t.Fatalf("page = %+v", page)
	}
	if len(page.Activities) != 2 {
		t.Fatalf("len(activities) = %d", len(page.Activities))
	}
	if got := page.Activities[0]; got.Event != fanout.EventMessageDeleted || got.Subject != "64b7f0c2a1e4d3b2c1a09faa" {
		t.Errorf("newest = %+v", got)
	}
	if got := page.Activities[1]; got.Event != fanout.EventMemberJoined || got.Subject != joined.User {
		t.Errorf("second = %+v", got)
	}

	rest, err := svc.ListActivity(ctx, group, 2, 2)
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(rest.Activities) != 1 || rest.Activities[0].Event != fanout.EventNewMessage {
		t.Errorf("page 2 = %+v", rest.Activities)
	}
}

func TestRecordIgnoresRedelivery(t *testing.T) {
	ctx := context.Background()
	svc := NewService(dao.NewMemoryActivityDAO(), logger.NewNopLogger())
	ev := event(t, fanout.EventMessageUpdated, 4, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), nil)

	if ok, err := svc.Record(ctx, ev); err != nil || !ok {
		t.Fatalf("first Record() = %v, %v", ok, err)
	}
	if ok, err := svc.Record(ctx, ev); err != nil || ok {
		t.Fatalf("redelivered Record() = %v, %v, want false, nil", ok, err)
	}

	// 同一消息再次编辑是新事件
	again := event(t, fanout.EventMessageUpdated, 4, ev.At.Add(time.Second), nil)
	if ok, err := svc.Record(ctx, again); err != nil || !ok {
		t.Fatalf("second edit Record() = %v, %v", ok, err)
	}

	stats, err := svc.Stats(ctx, group)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if len(stats) != 1 || stats[0].TotalCount != 2 || stats[0].LastSeq != 4 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRecordSkipsProfileEvents(t *testing.T) {
	svc := NewService(dao.NewMemoryActivityDAO(), logger.NewNopLogger())
	ev, _ := fanout.NewEvent(fanout.EventProfileUpdated, "", 0, "", fanout.ProfilePayload{User: "64b7f0c2a1e4d3b2c1a09f03"})
	if ok, err := svc.Record(context.Background(), ev); err != nil || ok {
		t.Errorf("Record(profile) = %v, %v", ok, err)
	}
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()
	store := dao.NewMemoryActivityDAO()
	svc := NewService(store, logger.NewNopLogger())

	if err := svc.HandleMessage(ctx, &sarama.ConsumerMessage{Topic: "group-events", Value: []byte("not json")}); err != nil {
		t.Errorf("undecodable message error = %v, want nil", err)
	}

	payload, _ := event(t, fanout.EventNewMessage, 9, time.Now(), nil).Encode()
	if err := svc.HandleMessage(ctx, &sarama.ConsumerMessage{Topic: "group-events", Value: payload}); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	page, _ := svc.ListActivity(ctx, group, 0, 0)
	if page.Total != 1 || page.Activities[0].Seq != 9 {
		t.Errorf("page = %+v", page)
	}

	store.FailWith(errors.New("connection reset"))
	payload, _ = event(t, fanout.EventNewMessage, 10, time.Now(), nil).Encode()
	err := svc.HandleMessage(ctx, &sarama.ConsumerMessage{Topic: "group-events", Value: payload})
	if !apperr.IsKind(err, apperr.KindInternal) {
		t.Errorf("storage failure error = %v, want internal", err)
	}
}

func TestListActivityRejectsNegativePaging(t *testing.T) {
	svc := NewService(dao.NewMemoryActivityDAO(), logger.NewNopLogger())
	for _, tc := range []struct{ page, limit int }{{-1, 10}, {1, -5}} {
		_, err := svc.ListActivity(context.Background(), group, tc.page, tc.limit)
		if !apperr.IsKind(err, apperr.KindValidation) {
			t.Errorf("ListActivity(%d, %d) error = %v", tc.page, tc.limit, err)
		}
	}
}
