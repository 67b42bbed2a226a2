package chatsession

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/msgstore"
)

// DefaultHistoryLimit 选中群组时加载的历史条数
const DefaultHistoryLimit = msgstore.DefaultPageSize

// GroupEntry 侧边栏中的群及未读数
type GroupEntry struct {
	GroupSummary
	Unread int
}

// SendOptions 发送附加项
type SendOptions struct {
	ReplyTo     string
	Attachments []msgstore.Attachment
}

type activeGroup struct {
	id       string
	name     string
	members  []Member
	messages []*msgstore.View
	pinned   []*msgstore.View
}

// Session 群聊客户端会话。
// Disconnected --Connect--> Connected --Select--> GroupActive；推送连接断开回到 Disconnected。
// 自己发送的消息不从发送响应追加，统一等推送回显
type Session struct {
	api      API
	dial     Dialer
	userID   string
	log      logger.Logger
	profiles *ProfileCache
	limit    int

	mu       sync.Mutex
	state    State
	stream   Stream
	groups   []*GroupEntry
	seqs     map[string]*seqTracker
	active   *activeGroup
	composer string
	updates  chan Change
}

// Option 会话选项
type Option func(*Session)

// WithHistoryLimit 选中群组时加载的消息条数
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithProfileCache 共享资料缓存
func WithProfileCache(c *ProfileCache) Option {
	return func(s *Session) { s.profiles = c }
}

// New 创建会话，userID 为当前用户十六进制ID
func New(api API, dial Dialer, userID string, log logger.Logger, opts ...Option) *Session {
	s := &Session{
		api:      api,
		dial:     dial,
		userID:   userID,
		log:      log,
		profiles: NewProfileCache(),
		limit:    DefaultHistoryLimit,
		seqs:     make(map[string]*seqTracker),
		updates:  make(chan Change, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect 加载我的群组（含最新消息预览），按最新消息排序，再建立推送连接
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.mu.Unlock()

	groups, err := s.api.MyGroups(ctx)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	stream, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}

	entries := make([]*GroupEntry, 0, len(groups))
	seqs := make(map[string]*seqTracker, len(groups))
	for _, g := range groups {
		entries = append(entries, &GroupEntry{GroupSummary: *g})
		high := int64(-1)
		if g.LatestMessage != nil {
			high = g.LatestMessage.Seq
		}
		seqs[g.ID] = newSeqTracker(high)
	}
	sortByRecency(entries)

	s.mu.Lock()
	s.groups = entries
	s.seqs = seqs
	s.active = nil
	s.stream = stream
	s.state = StateConnected
	s.mu.Unlock()

	go s.consume(stream)

	s.log.Info(ctx, "Chat session connected",
		logger.F("userID", s.userID),
		logger.F("groups", len(entries)))
	s.emit(Change{Kind: ChangeGroups})
	return nil
}

// sortByRecency 最新消息越新越靠前，没有消息的排在最后
func sortByRecency(entries []*GroupEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].LatestMessage, entries[j].LatestMessage
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})
}

func (s *Session) consume(stream Stream) {
	for ev := range stream.Events() {
		s.Apply(ev)
	}

	s.mu.Lock()
	if s.stream != stream {
		s.mu.Unlock()
		return
	}
	s.stream = nil
	s.active = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	s.log.Warn(context.Background(), "Chat session realtime stream closed", logger.F("userID", s.userID))
	s.emit(Change{Kind: ChangeDisconnected})
}

// Close 主动断开
func (s *Session) Close() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.active = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	return stream.Close()
}

// Select 选中群组：加载成员与历史消息，清零未读
func (s *Session) Select(ctx context.Context, groupID string) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.entry(groupID) == nil {
		s.mu.Unlock()
		return ErrUnknownGroup
	}
	s.mu.Unlock()

	detail, err := s.api.GroupDetail(ctx, groupID)
	if err != nil {
		return fmt.Errorf("load group: %w", err)
	}
	history, err := s.api.Messages(ctx, groupID, 1, s.limit)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	members := make([]Member, 0, len(detail.MemberProfiles))
	for _, m := range detail.MemberProfiles {
		p := s.profiles.PutIfAbsent(m.User, Profile{FullName: m.FullName, ProfilePicture: m.ProfilePicture})
		m.FullName, m.ProfilePicture = p.FullName, p.ProfilePicture
		members = append(members, m)
	}
	var high int64 = -1
	for _, v := range history {
		if v.Seq > high {
			high = v.Seq
		}
	}

	s.mu.Lock()
	entry := s.entry(groupID)
	if s.state == StateDisconnected || entry == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.active = &activeGroup{
		id:       groupID,
		name:     detail.Name,
		members:  members,
		messages: history,
		pinned:   detail.PinnedMessages,
	}
	entry.Unread = 0
	s.tracker(groupID).reset(high)
	s.state = StateGroupActive
	s.mu.Unlock()

	s.log.Debug(ctx, "Group selected",
		logger.F("groupID", groupID),
		logger.F("members", len(members)),
		logger.F("messages", len(history)))
	s.emit(Change{Kind: ChangeMembers, GroupID: groupID})
	s.emit(Change{Kind: ChangeMessages, GroupID: groupID})
	s.emit(Change{Kind: ChangeUnread, GroupID: groupID})
	return nil
}

// Refresh 重新拉取当前群的历史，用于跳号之后补齐
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return ErrNoActiveGroup
	}
	groupID := s.active.id
	s.mu.Unlock()

	history, err := s.api.Messages(ctx, groupID, 1, s.limit)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	var high int64 = -1
	for _, v := range history {
		if v.Seq > high {
			high = v.Seq
		}
	}

	s.mu.Lock()
	if s.active == nil || s.active.id != groupID {
		s.mu.Unlock()
		return nil
	}
	s.active.messages = history
	s.tracker(groupID).reset(high)
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeMessages, GroupID: groupID})
	return nil
}

// SetComposer 更新输入框内容
func (s *Session) SetComposer(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composer = text
}

func (s *Session) Composer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer
}

// Send 发送输入框内容到当前群
func (s *Session) Send(ctx context.Context) error {
	return s.SendWith(ctx, SendOptions{})
}

// SendWith 请求发出前清空输入框，失败时恢复原文。
// 成功也不在本地追加，消息随推送回显出现
func (s *Session) SendWith(ctx context.Context, opts SendOptions) error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return ErrNoActiveGroup
	}
	draft := s.composer
	text := strings.TrimSpace(draft)
	if text == "" && len(opts.Attachments) == 0 {
		s.mu.Unlock()
		return ErrEmptyMessage
	}
	groupID := s.active.id
	s.composer = ""
	s.mu.Unlock()

	_, err := s.api.SendMessage(ctx, &SendRequest{
		GroupID:     groupID,
		Text:        text,
		ReplyTo:     opts.ReplyTo,
		Attachments: opts.Attachments,
	})
	if err != nil {
		s.mu.Lock()
		if s.composer == "" {
			s.composer = draft
		}
		s.mu.Unlock()
		s.log.Warn(ctx, "Failed to send message",
			logger.F("groupID", groupID),
			logger.F("error", err.Error()))
		s.emit(Change{Kind: ChangeNotice, GroupID: groupID, Notice: err.Error()})
		return err
	}
	return nil
}

// Join 加入群组后置顶并请求网关追加订阅
func (s *Session) Join(ctx context.Context, groupID string) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.mu.Unlock()

	summary, err := s.api.JoinGroup(ctx, groupID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	stream := s.stream
	if s.entry(groupID) == nil {
		s.groups = append([]*GroupEntry{{GroupSummary: *summary}}, s.groups...)
		s.seqs[groupID] = newSeqTracker(-1)
	}
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeGroups, GroupID: groupID})

	if stream == nil {
		return ErrNotConnected
	}
	if err := stream.Control(ctx, fanout.ControlFrame{Action: fanout.ActionSubscribe, GroupID: groupID}); err != nil {
		return fmt.Errorf("subscribe to group: %w", err)
	}
	return nil
}

// Leave 退出群组并从侧边栏移除
func (s *Session) Leave(ctx context.Context, groupID string) error {
	if err := s.api.LeaveGroup(ctx, groupID); err != nil {
		return err
	}

	s.mu.Lock()
	s.dropGroup(groupID)
	stream := s.stream
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeGroups, GroupID: groupID})

	if stream != nil {
		if err := stream.Control(ctx, fanout.ControlFrame{Action: fanout.ActionUnsubscribe, GroupID: groupID}); err != nil {
			s.log.Warn(ctx, "Failed to unsubscribe from group",
				logger.F("groupID", groupID),
				logger.F("error", err.Error()))
		}
	}
	return nil
}

// Apply 处理一条推送事件
func (s *Session) Apply(ev *fanout.Event) {
	s.mu.Lock()
	changes := s.applyLocked(ev)
	s.mu.Unlock()
	for _, c := range changes {
		s.emit(c)
	}
}

func (s *Session) applyLocked(ev *fanout.Event) []Change {
	switch ev.Event {
	case fanout.EventNewMessage:
		return s.onNewMessage(ev)
	case fanout.EventMessageUpdated:
		return s.onMessageUpdated(ev)
	case fanout.EventMessageDeleted:
		return s.onMessageDeleted(ev)
	case fanout.EventMemberJoined, fanout.EventMemberLeft, fanout.EventMemberPromoted:
		return s.onMember(ev)
	case fanout.EventProfileUpdated:
		return s.onProfile(ev)
	case fanout.EventRejected:
		var body struct {
			Message string `json:"message"`
		}
		_ = ev.DecodeData(&body)
		return []Change{{Kind: ChangeNotice, GroupID: ev.GroupID, Notice: body.Message}}
	default:
		return nil
	}
}

func (s *Session) onNewMessage(ev *fanout.Event) []Change {
	entry := s.entry(ev.GroupID)
	if entry == nil {
		return nil
	}
	var view msgstore.View
	if err := ev.DecodeData(&view); err != nil {
		s.log.Warn(context.Background(), "Undecodable message event",
			logger.F("groupID", ev.GroupID),
			logger.F("error", err.Error()))
		return nil
	}

	verdict, from, to := s.tracker(ev.GroupID).observe(ev.Seq)
	if verdict == seqDuplicate {
		s.log.Debug(context.Background(), "Duplicate message event dropped",
			logger.F("groupID", ev.GroupID),
			logger.F("seq", ev.Seq))
		return nil
	}

	var changes []Change
	if verdict == seqGap {
		changes = append(changes, Change{Kind: ChangeGap, GroupID: ev.GroupID, Gap: &Gap{GroupID: ev.GroupID, From: from, To: to}})
	}
	if entry.LatestMessage == nil || view.Seq >= entry.LatestMessage.Seq {
		entry.LatestMessage = &view
		entry.LastActivity = view.CreatedAt
	}

	if s.active != nil && s.active.id == ev.GroupID {
		s.active.insert(&view)
		return append(changes, Change{Kind: ChangeMessages, GroupID: ev.GroupID, Message: &view})
	}

	if view.Sender.Hex() != s.userID {
		entry.Unread++
	}
	s.moveToTop(ev.GroupID)
	return append(changes,
		Change{Kind: ChangeUnread, GroupID: ev.GroupID, Message: &view},
		Change{Kind: ChangeGroups, GroupID: ev.GroupID})
}

func (s *Session) onMessageUpdated(ev *fanout.Event) []Change {
	entry := s.entry(ev.GroupID)
	if entry == nil {
		return nil
	}
	var view msgstore.View
	if err := ev.DecodeData(&view); err != nil {
		return nil
	}
	if entry.LatestMessage != nil && entry.LatestMessage.ID == view.ID {
		entry.LatestMessage = &view
	}
	if s.active == nil || s.active.id != ev.GroupID {
		return nil
	}
	for i, m := range s.active.messages {
		if m.ID == view.ID {
			s.active.messages[i] = &view
			return []Change{{Kind: ChangeMessages, GroupID: ev.GroupID, Message: &view}}
		}
	}
	return nil
}

func (s *Session) onMessageDeleted(ev *fanout.Event) []Change {
	if s.active == nil || s.active.id != ev.GroupID {
		return nil
	}
	var p fanout.DeletedPayload
	if err := ev.DecodeData(&p); err != nil {
		return nil
	}
	for i, m := range s.active.messages {
		if m.ID.Hex() == p.ID {
			s.active.messages = append(s.active.messages[:i], s.active.messages[i+1:]...)
			return []Change{{Kind: ChangeMessages, GroupID: ev.GroupID}}
		}
	}
	return nil
}

func (s *Session) onMember(ev *fanout.Event) []Change {
	var p fanout.MemberPayload
	if err := ev.DecodeData(&p); err != nil {
		return nil
	}
	entry := s.entry(ev.GroupID)
	if entry == nil {
		return nil
	}

	if ev.Event == fanout.EventMemberLeft && p.User == s.userID {
		name := entry.Name
		s.dropGroup(ev.GroupID)
		return []Change{
			{Kind: ChangeGroups, GroupID: ev.GroupID},
			{Kind: ChangeNotice, GroupID: ev.GroupID, Notice: "You are no longer a member of " + name},
		}
	}

	entry.MemberCount = p.MemberCount
	changes := []Change{{Kind: ChangeGroups, GroupID: ev.GroupID}}
	if s.active == nil || s.active.id != ev.GroupID {
		return changes
	}

	switch ev.Event {
	case fanout.EventMemberJoined:
		if p.FullName != "" {
			s.profiles.Put(p.User, Profile{FullName: p.FullName, ProfilePicture: p.ProfilePicture})
		}
		if s.active.memberIndex(p.User) < 0 {
			s.active.members = append(s.active.members, Member{
				User:           p.User,
				Role:           p.Role,
				JoinedAt:       p.JoinedAt,
				FullName:       p.FullName,
				ProfilePicture: p.ProfilePicture,
			})
		}
	case fanout.EventMemberLeft:
		if i := s.active.memberIndex(p.User); i >= 0 {
			s.active.members = append(s.active.members[:i], s.active.members[i+1:]...)
		}
	case fanout.EventMemberPromoted:
		if i := s.active.memberIndex(p.User); i >= 0 {
			s.active.members[i].Role = p.Role
		}
	}
	return append(changes, Change{Kind: ChangeMembers, GroupID: ev.GroupID})
}

func (s *Session) onProfile(ev *fanout.Event) []Change {
	var p fanout.ProfilePayload
	if err := ev.DecodeData(&p); err != nil || p.User == "" {
		return nil
	}
	s.profiles.Invalidate(p.User)
	if s.active == nil {
		return nil
	}
	i := s.active.memberIndex(p.User)
	if i < 0 {
		return nil
	}
	if p.FullName != "" {
		s.active.members[i].FullName = p.FullName
	}
	if p.ProfilePicture != "" {
		s.active.members[i].ProfilePicture = p.ProfilePicture
	}
	return []Change{{Kind: ChangeMembers, GroupID: s.active.id}}
}

// insert 按序号插入，晚到的消息放回原位
func (a *activeGroup) insert(v *msgstore.View) {
	for _, m := range a.messages {
		if m.ID == v.ID {
			return
		}
	}
	i := sort.Search(len(a.messages), func(i int) bool { return a.messages[i].Seq > v.Seq })
	a.messages = append(a.messages, nil)
	copy(a.messages[i+1:], a.messages[i:])
	a.messages[i] = v
}

func (a *activeGroup) memberIndex(userID string) int {
	for i, m := range a.members {
		if m.User == userID {
			return i
		}
	}
	return -1
}

func (s *Session) entry(groupID string) *GroupEntry {
	for _, e := range s.groups {
		if e.ID == groupID {
			return e
		}
	}
	return nil
}

func (s *Session) tracker(groupID string) *seqTracker {
	t, ok := s.seqs[groupID]
	if !ok {
		t = newSeqTracker(-1)
		s.seqs[groupID] = t
	}
	return t
}

func (s *Session) moveToTop(groupID string) {
	for i, e := range s.groups {
		if e.ID == groupID {
			copy(s.groups[1:i+1], s.groups[:i])
			s.groups[0] = e
			return
		}
	}
}

// dropGroup 移除群；若是当前群则回到未选中状态
func (s *Session) dropGroup(groupID string) {
	for i, e := range s.groups {
		if e.ID == groupID {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			break
		}
	}
	delete(s.seqs, groupID)
	if s.active != nil && s.active.id == groupID {
		s.active = nil
		if s.state == StateGroupActive {
			s.state = StateConnected
		}
	}
}

func (s *Session) emit(c Change) {
	select {
	case s.updates <- c:
	default:
		s.log.Debug(context.Background(), "Chat session update dropped", logger.F("kind", string(c.Kind)))
	}
}

// Updates 界面刷新通知，缓冲满时丢弃
func (s *Session) Updates() <-chan Change {
	return s.updates
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) UserID() string {
	return s.userID
}

// Profiles 会话持有的资料缓存
func (s *Session) Profiles() *ProfileCache {
	return s.profiles
}

// Groups 侧边栏快照
func (s *Session) Groups() []GroupEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GroupEntry, 0, len(s.groups))
	for _, e := range s.groups {
		out = append(out, *e)
	}
	return out
}

// Unread 某群未读数
func (s *Session) Unread(groupID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entry(groupID); e != nil {
		return e.Unread
	}
	return 0
}

// ActiveGroup 当前群ID与名称，未选中时ok为false
func (s *Session) ActiveGroup() (id, name string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", "", false
	}
	return s.active.id, s.active.name, true
}

// Messages 当前群消息快照，按序号升序
func (s *Session) Messages() []*msgstore.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	return append([]*msgstore.View(nil), s.active.messages...)
}

// Members 当前群成员快照
func (s *Session) Members() []Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	return append([]Member(nil), s.active.members...)
}

// Pinned 当前群置顶消息
func (s *Session) Pinned() []*msgstore.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	return append([]*msgstore.View(nil), s.active.pinned...)
}
