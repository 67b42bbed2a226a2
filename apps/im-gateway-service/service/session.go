package service

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/im-gateway-service/model"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
)

// Session 一个WebSocket连接的订阅状态。
// 推送事件与控制帧应答在 run 中合并为一个有序的出站流
type Session struct {
	ID     string
	UserID primitive.ObjectID

	svc     *Service
	sub     fanout.Subscription
	mu      sync.Mutex
	groups  map[string]struct{}
	replies chan *fanout.Event
	out     chan *fanout.Event
	done    chan struct{}
	once    sync.Once
}

func newSession(svc *Service, userID primitive.ObjectID, sub fanout.Subscription) *Session {
	return &Session{
		ID:      uuid.NewString(),
		UserID:  userID,
		svc:     svc,
		sub:     sub,
		groups:  make(map[string]struct{}),
		replies: make(chan *fanout.Event, 8),
		out:     make(chan *fanout.Event, 64),
		done:    make(chan struct{}),
	}
}

// Outbound 待写给客户端的事件，会话关闭后关闭
func (sess *Session) Outbound() <-chan *fanout.Event {
	return sess.out
}

// Groups 当前订阅的群
func (sess *Session) Groups() []string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	ids := make([]string, 0, len(sess.groups))
	for id := range sess.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Handle 处理客户端控制帧
func (sess *Session) Handle(ctx context.Context, frame fanout.ControlFrame) {
	groupID, err := primitive.ObjectIDFromHex(frame.GroupID)
	if err != nil {
		sess.reply(ctx, fanout.EventRejected, frame.GroupID, model.MsgInvalidGroupID)
		return
	}

	switch frame.Action {
	case fanout.ActionSubscribe:
		ok, err := sess.svc.isMember(ctx, sess.UserID, groupID)
		if err != nil {
			sess.svc.logger.Error(ctx, "Failed to check membership for subscribe",
				logger.F("sessionID", sess.ID),
				logger.F("groupID", frame.GroupID),
				logger.F("error", err.Error()))
			sess.reply(ctx, fanout.EventRejected, frame.GroupID, "Failed to subscribe")
			return
		}
		if !ok {
			sess.reply(ctx, fanout.EventRejected, frame.GroupID, model.MsgNotMember)
			return
		}
		if err := sess.join(ctx, frame.GroupID); err != nil {
			sess.reply(ctx, fanout.EventRejected, frame.GroupID, "Failed to subscribe")
			return
		}
		sess.reply(ctx, fanout.EventSubscribed, frame.GroupID, "")
	case fanout.ActionUnsubscribe:
		sess.leave(ctx, frame.GroupID)
		sess.reply(ctx, fanout.EventUnsubscribed, frame.GroupID, "")
	default:
		sess.reply(ctx, fanout.EventRejected, frame.GroupID, model.MsgUnknownAction)
	}
}

// Heartbeat 续期在线记录
func (sess *Session) Heartbeat(ctx context.Context) error {
	return sess.svc.presence.Online(ctx, sess.UserID.Hex(), sess.ID, sess.svc.instanceID, model.PresenceTTL)
}

// Close 取消订阅并清理在线记录，可重复调用
func (sess *Session) Close(ctx context.Context) {
	sess.once.Do(func() {
		close(sess.done)
		if err := sess.sub.Close(); err != nil {
			sess.svc.logger.Warn(ctx, "Failed to close subscription",
				logger.F("sessionID", sess.ID),
				logger.F("error", err.Error()))
		}
		if err := sess.svc.presence.Offline(context.WithoutCancel(ctx), sess.UserID.Hex(), sess.ID); err != nil {
			sess.svc.logger.Warn(ctx, "Failed to clear presence",
				logger.F("sessionID", sess.ID),
				logger.F("error", err.Error()))
		}
		metrics.GatewaySessions.Dec()
		sess.svc.logger.Info(ctx, "Gateway session closed",
			logger.F("sessionID", sess.ID),
			logger.F("userID", sess.UserID.Hex()))
	})
}

func (sess *Session) run() {
	defer close(sess.out)
	events := sess.sub.Events()
	for {
		select {
		case <-sess.done:
			return
		case ev := <-sess.replies:
			if !sess.emit(ev) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !sess.route(ev) {
				return
			}
		}
	}
}

// route 丢弃已退订群的残留事件；本人被移出或退出时先退订再转发
func (sess *Session) route(ev *fanout.Event) bool {
	if ev.Channel != fanout.ProfileChannel {
		sess.mu.Lock()
		_, subscribed := sess.groups[ev.GroupID]
		sess.mu.Unlock()
		if !subscribed {
			return true
		}
	}

	if ev.Event == fanout.EventMemberLeft {
		var payload fanout.MemberPayload
		if err := ev.DecodeData(&payload); err == nil && payload.User == sess.UserID.Hex() {
			sess.leave(context.Background(), ev.GroupID)
		}
	}
	metrics.GatewayEventsForwarded.WithLabelValues(ev.Event).Inc()
	return sess.emit(ev)
}

func (sess *Session) emit(ev *fanout.Event) bool {
	select {
	case sess.out <- ev:
		return true
	case <-sess.done:
		return false
	}
}

func (sess *Session) reply(ctx context.Context, event, groupID, message string) {
	var data interface{}
	if message != "" {
		data = map[string]string{"message": message}
	}
	ev, err := fanout.NewEvent(event, groupID, 0, sess.UserID.Hex(), data)
	if err != nil {
		return
	}
	select {
	case sess.replies <- ev:
	case <-sess.done:
	case <-ctx.Done():
	}
}

func (sess *Session) join(ctx context.Context, groupID string) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, ok := sess.groups[groupID]; ok {
		return nil
	}
	if err := sess.sub.Subscribe(ctx, fanout.GroupChannels(groupID)...); err != nil {
		sess.svc.logger.Error(ctx, "Failed to subscribe group channels",
			logger.F("sessionID", sess.ID),
			logger.F("groupID", groupID),
			logger.F("error", err.Error()))
		return err
	}
	sess.groups[groupID] = struct{}{}
	return nil
}

func (sess *Session) leave(ctx context.Context, groupID string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, ok := sess.groups[groupID]; !ok {
		return
	}
	delete(sess.groups, groupID)
	if err := sess.sub.Unsubscribe(ctx, fanout.GroupChannels(groupID)...); err != nil {
		sess.svc.logger.Warn(ctx, "Failed to unsubscribe group channels",
			logger.F("sessionID", sess.ID),
			logger.F("groupID", groupID),
			logger.F("error", err.Error()))
	}
}
