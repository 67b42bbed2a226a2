package chatsession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/msgstore"
)

type fakeStream struct {
	events    chan *fanout.Event
	mu        sync.Mutex
	controls  []fanout.ControlFrame
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan *fanout.Event, 16)}
}

func (f *fakeStream) Events() <-chan *fanout.Event { return f.events }

func (f *fakeStream) Control(_ context.Context, frame fanout.ControlFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, frame)
	return nil
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeStream) Controls() []fanout.ControlFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fanout.ControlFrame(nil), f.controls...)
}

type fakeAPI struct {
	mu       sync.Mutex
	groups   []*GroupSummary
	details  map[string]*GroupDetail
	history  map[string][]*msgstore.View
	sent     []*SendRequest
	sendErr  error
	joinable map[string]*GroupSummary
	left     []string
}

func (f *fakeAPI) MyGroups(context.Context) ([]*GroupSummary, error) {
	return f.groups, nil
}

func (f *fakeAPI) GroupDetail(_ context.Context, groupID string) (*GroupDetail, error) {
	d, ok := f.details[groupID]
	if !ok {
		return nil, &APIError{StatusCode: 404, Message: "Group not found"}
	}
	return d, nil
}

func (f *fakeAPI) Messages(_ context.Context, groupID string, _, _ int) ([]*msgstore.View, error) {
	return append([]*msgstore.View(nil), f.history[groupID]...), nil
}

func (f *fakeAPI) SendMessage(_ context.Context, req *SendRequest) (*msgstore.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, req)
	return &msgstore.View{Text: req.Text}, nil
}

func (f *fakeAPI) JoinGroup(_ context.Context, groupID string) (*GroupSummary, error) {
	g, ok := f.joinable[groupID]
	if !ok {
		return nil, &APIError{StatusCode: 400, Message: "This group is already full"}
	}
	return g, nil
}

func (f *fakeAPI) LeaveGroup(_ context.Context, groupID string) error {
	f.left = append(f.left, groupID)
	return nil
}

var base = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func view(groupID string, seq int64, sender string, text string) *msgstore.View {
	g, _ := primitive.ObjectIDFromHex(groupID)
	s, _ := primitive.ObjectIDFromHex(sender)
	return &msgstore.View{
		ID:        primitive.NewObjectID(),
		Text:      text,
		Sender:    s,
		Group:     g,
		Seq:       seq,
		CreatedAt: base.Add(time.Duration(seq) * time.Minute),
	}
}

func messageEvent(t *testing.T, v *msgstore.View) *fanout.Event {
	t.Helper()
	ev, err := fanout.NewEvent(fanout.EventNewMessage, v.Group.Hex(), v.Seq, v.Sender.Hex(), v)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	return ev
}

type harness struct {
	api     *fakeAPI
	stream  *fakeStream
	sess    *Session
	me      string
	peer    string
	ebc     string
	annapu  string
	manaslu string
}

// newHarness 三个群：ebc 最新消息 seq 3，annapu 较早，manaslu 没有消息
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		me:      primitive.NewObjectID().Hex(),
		peer:    primitive.NewObjectID().Hex(),
		ebc:     primitive.NewObjectID().Hex(),
		annapu:  primitive.NewObjectID().Hex(),
		manaslu: primitive.NewObjectID().Hex(),
		stream:  newFakeStream(),
	}
	ebcHistory := []*msgstore.View{
		view(h.ebc, 1, h.me, "EBC Trek created"),
		view(h.ebc, 2, h.peer, "joined"),
		view(h.ebc, 3, h.peer, "hello"),
	}
	annapuLatest := view(h.annapu, 1, h.peer, "old news")
	annapuLatest.CreatedAt = base.Add(-time.Hour)

	h.api = &fakeAPI{
		groups: []*GroupSummary{
			{ID: h.manaslu, Name: "Manaslu Circuit"},
			{ID: h.annapu, Name: "Annapurna Base", LatestMessage: annapuLatest},
			{ID: h.ebc, Name: "EBC Trek", LatestMessage: ebcHistory[2]},
		},
		details: map[string]*GroupDetail{
			h.ebc: {ID: h.ebc, Name: "EBC Trek", MemberProfiles: []Member{
				{User: h.me, Role: "admin", FullName: "Asha Gurung", ProfilePicture: "asha.jpg"},
				{User: h.peer, Role: "member", FullName: "Bikram Rai", ProfilePicture: "bikram.jpg"},
			}},
			h.annapu: {ID: h.annapu, Name: "Annapurna Base"},
		},
		history:  map[string][]*msgstore.View{h.ebc: ebcHistory},
		joinable: map[string]*GroupSummary{},
	}
	stream := h.stream
	h.sess = New(h.api, func(context.Context) (Stream, error) { return stream, nil }, h.me, logger.NewNopLogger())
	if err := h.sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { h.sess.Close() })
	return h
}

func groupOrder(s *Session) []string {
	var ids []string
	for _, g := range s.Groups() {
		ids = append(ids, g.ID)
	}
	return ids
}

func seqs(msgs []*msgstore.View) []int64 {
	var out []int64
	for _, m := range msgs {
		out = append(out, m.Seq)
	}
	return out
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func drain(s *Session) {
	for len(s.Updates()) > 0 {
		<-s.Updates()
	}
}

func waitFor(t *testing.T, s *Session, kind ChangeKind) Change {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case c := <-s.Updates():
			if c.Kind == kind {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestConnectSortsGroupsByRecency(t *testing.T) {
	h := newHarness(t)
	if got := h.sess.State(); got != StateConnected {
		t.Fatalf("State() = %s", got)
	}
	want := []string{h.ebc, h.annapu, h.manaslu}
	got := groupOrder(h.sess)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if err := h.sess.Connect(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Connect() error = %v", err)
	}
}

func TestSelectLoadsRosterAndHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if err := h.sess.Send(ctx); !errors.Is(err, ErrNoActiveGroup) {
		t.Errorf("Send() before select error = %v", err)
	}
	if err := h.sess.Select(ctx, primitive.NewObjectID().Hex()); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("Select(unknown) error = %v", err)
	}
	if err := h.sess.Select(ctx, h.ebc); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := h.sess.State(); got != StateGroupActive {
		t.Fatalf("State() = %s", got)
	}
	if id, name, ok := h.sess.ActiveGroup(); !ok || id != h.ebc || name != "EBC Trek" {
		t.Errorf("ActiveGroup() = %s %s %v", id, name, ok)
	}
	if got := seqs(h.sess.Messages()); !equalInts(got, []int64{1, 2, 3}) {
		t.Errorf("messages = %v", got)
	}
	if len(h.sess.Members()) != 2 || h.sess.Profiles().Len() != 2 {
		t.Errorf("members = %v, cached = %d", h.sess.Members(), h.sess.Profiles().Len())
	}
}

func TestOtherGroupEventsBumpUnreadAndReorder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.sess.Select(ctx, h.ebc); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	h.sess.Apply(messageEvent(t, view(h.annapu, 2, h.peer, "anyone bringing crampons?")))
	if got := h.sess.Unread(h.annapu); got != 1 {
		t.Errorf("Unread(annapu) = %d, want 1", got)
	}
	if got := groupOrder(h.sess); got[0] != h.annapu {
		t.Errorf("order = %v, want annapu first", got)
	}
	if got := seqs(h.sess.Messages()); !equalInts(got, []int64{1, 2, 3}) {
		t.Errorf("active messages changed: %v", got)
	}

	// 自己从其他设备发出的消息不计未读
	h.sess.Apply(messageEvent(t, view(h.manaslu, 1, h.me, "note to self")))
	if got := h.sess.Unread(h.manaslu); got != 0 {
		t.Errorf("Unread(manaslu) = %d, want 0", got)
	}
	if got := groupOrder(h.sess); got[0] != h.manaslu {
		t.Errorf("order = %v, want manaslu first", got)
	}

	// 选中后清零
	if err := h.sess.Select(ctx, h.annapu); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := h.sess.Unread(h.annapu); got != 0 {
		t.Errorf("Unread after select = %d", got)
	}
}

func TestSendWaitsForEcho(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.sess.Select(ctx, h.ebc); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	h.sess.SetComposer("   ")
	if err := h.sess.Send(ctx); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Send(blank) error = %v", err)
	}

	h.sess.SetComposer("Welcome!")
	if err := h.sess.Send(ctx); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := h.sess.Composer(); got != "" {
		t.Errorf("Composer() = %q after send", got)
	}
	if len(h.api.sent) != 1 || h.api.sent[0].Text != "Welcome!" || h.api.sent[0].GroupID != h.ebc {
		t.Fatalf("sent = %+v", h.api.sent)
	}
	if got := len(h.sess.Messages()); got != 3 {
		t.Errorf("message appended from send response: %d", got)
	}

	h.sess.Apply(messageEvent(t, view(h.ebc, 4, h.me, "Welcome!")))
	msgs := h.sess.Messages()
	if len(msgs) != 4 || msgs[3].Text != "Welcome!" {
		t.Errorf("echo not rendered: %v", seqs(msgs))
	}
	if got := h.sess.Unread(h.ebc); got != 0 {
		t.Errorf("Unread(active) = %d", got)
	}
}

func TestFailedSendRestoresComposer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.sess.Select(ctx, h.ebc); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	h.api.sendErr = &APIError{StatusCode: 403, Message: "You are not a member of this group"}

	h.sess.SetComposer("see you at Lukla")
	err := h.sess.Send(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 403 {
		t.Fatalf("Send() error = %v", err)
	}
	if got := h.sess.Composer(); got != "see you at Lukla" {
		t.Errorf("Composer() = %q, want restored draft", got)
	}
	if c := waitFor(t, h.sess, ChangeNotice); c.Notice != "You are not a member of this group" {
		t.Errorf("notice = %q", c.Notice)
	}
}

func TestSequenceTracking(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.sess.Select(ctx, h.ebc); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	drain(h.sess)

	four := view(h.ebc, 4, h.peer, "four")
	h.sess.Apply(messageEvent(t, four))
	h.sess.Apply(messageEvent(t, four))
	h.sess.Apply(messageEvent(t, view(h.ebc, 7, h.peer, "seven")))

	gap := waitFor(t, h.sess, ChangeGap)
	if gap.Gap == nil || gap.Gap.From != 5 || gap.Gap.To != 6 {
		t.Fatalf("gap = %+v", gap.Gap)
	}

	h.sess.Apply(messageEvent(t, view(h.ebc, 5, h.peer, "five, late")))
	// 已处理过的旧序号视为重复
	h.sess.Apply(messageEvent(t, view(h.ebc, 2, h.peer, "two again")))

	if got := seqs(h.sess.Messages()); !equalInts(got, []int64{1, 2, 3, 4, 5, 7}) {
		t.Errorf("messages = %v", got)
	}

	h.api.history[h.ebc] = append(h.api.history[h.ebc],
		view(h.ebc, 4, h.peer, "four"), view(h.ebc, 5, h.peer, "five"),
		view(h.ebc, 6, h.peer, "six"), view(h.ebc, 7, h.peer, "seven"))
	if err := h.sess.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := seqs(h.sess.Messages()); !equalInts(got, []int64{1, 2, 3, 4, 5, 6, 7}) {
		t.Errorf("after refresh = %v", got)
	}
	h.sess.Apply(messageEvent(t, view(h.ebc, 6, h.peer, "six, late")))
	if got := len(h.sess.Messages()); got != 7 {
		t.Errorf("late six after refresh should be a duplicate, have %d messages", got)
	}
}

func TestMessageEditAndDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.sess.Select(ctx, h.ebc); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	target := *h.sess.Messages()[2]
	target.Text = "hello (edited)"
	target.IsEdited = true
	ev, _ := fanout.NewEvent(fanout.EventMessageUpdated, h.ebc, target.Seq, h.peer, target)
	h.sess.Apply(ev)
	if got := h.sess.Messages()[2]; got.Text != "hello (edited)" || !got.IsEdited {
		t.Errorf("edited = %+v", got)
	}

	ev, _ = fanout.NewEvent(fanout.EventMessageDeleted, h.ebc, target.Seq, h.peer, fanout.DeletedPayload{ID: target.ID.Hex(), GroupID: h.ebc})
	h.sess.Apply(ev)
	if got := seqs(h.sess.Messages()); !equalInts(got, []int64{1, 2}) {
		t.Errorf("after delete = %v", got)
	}
}

func TestMemberEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.sess.Select(ctx, h.ebc); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	newcomer := primitive.NewObjectID().Hex()

	ev, _ := fanout.NewEvent(fanout.EventMemberJoined, h.ebc, 4, newcomer, fanout.MemberPayload{
		GroupID: h.ebc, User: newcomer, Role: "member", FullName: "Chandra", MemberCount: 3,
	})
	h.sess.Apply(ev)
	h.sess.Apply(ev)
	if got := len(h.sess.Members()); got != 3 {
		t.Fatalf("members = %d, want 3", got)
	}
	if p, ok := h.sess.Profiles().Get(newcomer); !ok || p.FullName != "Chandra" {
		t.Errorf("cached profile = %+v %v", p, ok)
	}

	ev, _ = fanout.NewEvent(fanout.EventMemberPromoted, h.ebc, 5, h.me, fanout.MemberPayload{
		GroupID: h.ebc, User: newcomer, Role: "admin", MemberCount: 3,
	})
	h.sess.Apply(ev)
	for _, m := range h.sess.Members() {
		if m.User == newcomer && m.Role != "admin" {
			t.Errorf("role = %s after promotion", m.Role)
		}
	}

	ev, _ = fanout.NewEvent(fanout.EventMemberLeft, h.ebc, 6, h.peer, fanout.MemberPayload{GroupID: h.ebc, User: h.peer, MemberCount: 2})
	h.sess.Apply(ev)
	if got := len(h.sess.Members()); got != 2 {
		t.Errorf("members = %d after leave", got)
	}

	// 自己被移出：群从侧边栏消失，回到未选中状态
	ev, _ = fanout.NewEvent(fanout.EventMemberLeft, h.ebc, 7, h.peer, fanout.MemberPayload{GroupID: h.ebc, User: h.me, MemberCount: 1})
	h.sess.Apply(ev)
	if got := h.sess.State(); got != StateConnected {
		t.Errorf("State() = %s after removal", got)
	}
	for _, id := range groupOrder(h.sess) {
		if id == h.ebc {
			t.Error("removed group still listed")
		}
	}
}

func TestProfileUpdateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.sess.Select(ctx, h.ebc); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if _, ok := h.sess.Profiles().Get(h.peer); !ok {
		t.Fatal("peer profile should be cached after select")
	}

	ev, _ := fanout.NewEvent(fanout.EventProfileUpdated, "", 0, h.peer, fanout.ProfilePayload{User: h.peer, FullName: "Bikram R.", ProfilePicture: "new.jpg"})
	h.sess.Apply(ev)
	if _, ok := h.sess.Profiles().Get(h.peer); ok {
		t.Error("peer profile still cached after update")
	}
	for _, m := range h.sess.Members() {
		if m.User == h.peer && (m.FullName != "Bikram R." || m.ProfilePicture != "new.jpg") {
			t.Errorf("member = %+v", m)
		}
	}
}

func TestJoinSubscribesAndLeaveUnsubscribes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	fresh := primitive.NewObjectID().Hex()
	h.api.joinable[fresh] = &GroupSummary{ID: fresh, Name: "Langtang Valley", MemberCount: 2}

	if err := h.sess.Join(ctx, primitive.NewObjectID().Hex()); err == nil || err.Error() != "This group is already full" {
		t.Errorf("Join(full) error = %v", err)
	}
	if err := h.sess.Join(ctx, fresh); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if got := groupOrder(h.sess); got[0] != fresh {
		t.Errorf("order = %v, want joined group first", got)
	}
	controls := h.stream.Controls()
	if len(controls) != 1 || controls[0].Action != fanout.ActionSubscribe || controls[0].GroupID != fresh {
		t.Fatalf("controls = %+v", controls)
	}

	// 新群没有序号基线，首条消息不算跳号
	h.sess.Apply(messageEvent(t, view(fresh, 9, h.peer, "namaste")))
	if got := h.sess.Unread(fresh); got != 1 {
		t.Errorf("Unread(fresh) = %d", got)
	}

	if err := h.sess.Leave(ctx, fresh); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	controls = h.stream.Controls()
	if len(controls) != 2 || controls[1].Action != fanout.ActionUnsubscribe {
		t.Errorf("controls = %+v", controls)
	}
	if len(h.api.left) != 1 || h.api.left[0] != fresh {
		t.Errorf("left = %v", h.api.left)
	}
}

func TestStreamEventsAndDisconnect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.sess.Select(ctx, h.ebc); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	drain(h.sess)
	h.stream.events <- messageEvent(t, view(h.ebc, 4, h.peer, "via stream"))
	if c := waitFor(t, h.sess, ChangeMessages); c.Message == nil || c.Message.Text != "via stream" {
		t.Errorf("change = %+v", c)
	}

	h.stream.Close()
	waitFor(t, h.sess, ChangeDisconnected)
	if got := h.sess.State(); got != StateDisconnected {
		t.Errorf("State() = %s", got)
	}
	if err := h.sess.Select(ctx, h.ebc); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Select() after disconnect error = %v", err)
	}
}
