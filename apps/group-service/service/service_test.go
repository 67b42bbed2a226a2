package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/apps/group-service/dao"
	"trekmate/apps/group-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/fanout"
	"trekmate/pkg/logger"
	"trekmate/pkg/msgstore"
	"trekmate/pkg/userdir"
)

type fixture struct {
	svc      *Service
	dao      *dao.MemoryGroupDAO
	users    *userdir.MemoryDirectory
	messages *msgstore.MemoryStore
	broker   *fanout.MemoryBroker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNopLogger()
	groups := dao.NewMemoryGroupDAO()
	users := userdir.NewMemoryDirectory()
	messages := msgstore.NewMemoryStore(groups)
	broker := fanout.NewMemoryBroker()
	notifier := fanout.NewNotifier(log).AddSink("memory", broker)
	return &fixture{
		svc:      NewService(groups, users, messages, notifier, log),
		dao:      groups,
		users:    users,
		messages: messages,
		broker:   broker,
	}
}

func (f *fixture) user(name, gender string, age int) primitive.ObjectID {
	id := primitive.NewObjectID()
	f.users.Put(userdir.Profile{ID: id, FullName: name, Username: name, Gender: gender, Age: age})
	return id
}

func (f *fixture) createGroup(t *testing.T, creator primitive.ObjectID, size, extra int) *model.GroupView {
	t.Helper()
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	g, err := f.svc.CreateGroup(context.Background(), creator, CreateGroupInput{
		Name:              "EBC Trek",
		TrekRoute:         "Lukla - Everest Base Camp",
		StartDate:         start,
		EndDate:           start.AddDate(0, 0, 12),
		GroupSize:         size,
		AdditionalMembers: extra,
	})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	return g
}

func (f *fixture) systemMessages(t *testing.T, groupID primitive.ObjectID) []*msgstore.Message {
	t.Helper()
	msgs, err := f.messages.List(context.Background(), groupID, 1, 100)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var system []*msgstore.Message
	for _, m := range msgs {
		if m.IsSystemMessage {
			system = append(system, m)
		}
	}
	return system
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)

	g := f.createGroup(t, a, 2, 1)

	if g.MemberCount != 1 || g.IsFull {
		t.Fatalf("memberCount=%d isFull=%v, want 1 false", g.MemberCount, g.IsFull)
	}
	if !g.IsAdmin(a) {
		t.Error("creator should be admin")
	}
	if g.Status != model.StatusYourGroup {
		t.Errorf("status = %q, want %q", g.Status, model.StatusYourGroup)
	}
	if g.GroupImage != model.DefaultGroupImage || g.TrekDetails.GenderPreference != model.GenderAny {
		t.Errorf("defaults not applied: image=%q gender=%q", g.GroupImage, g.TrekDetails.GenderPreference)
	}
	if !f.users.HasJoined(a, g.ID) {
		t.Error("joined-groups index not updated")
	}

	system := f.systemMessages(t, g.ID)
	if len(system) != 1 || system[0].Content != "Asha created this group" || system[0].Sender != a {
		t.Fatalf("system messages = %+v", system)
	}
	if g.MessageSeq != 1 {
		t.Errorf("messageSeq = %d, want 1", g.MessageSeq)
	}

	names := f.broker.PublishedNames()
	want := []string{fanout.EventNewMessage, fanout.EventMemberJoined}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("published = %v, want %v", names, want)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      CreateGroupInput
		wantMsg string
	}{
		{"missing name", CreateGroupInput{TrekRoute: "r", StartDate: start, EndDate: start, GroupSize: 2}, model.MsgRequiredFields},
		{"zero size", CreateGroupInput{Name: "n", TrekRoute: "r", StartDate: start, EndDate: start}, model.MsgRequiredFields},
		{"end before start", CreateGroupInput{Name: "n", TrekRoute: "r", StartDate: start, EndDate: start.Add(-time.Hour), GroupSize: 2}, model.MsgEndBeforeStart},
		{"bad age range", CreateGroupInput{Name: "n", TrekRoute: "r", StartDate: start, EndDate: start, GroupSize: 2, AgeFrom: 40, AgeTo: 20}, model.MsgInvalidAgeRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateGroup(context.Background(), a, tt.in)
			if !apperr.IsKind(err, apperr.KindValidation) || apperr.MessageOf(err) != tt.wantMsg {
				t.Errorf("CreateGroup() = %v, want validation %q", err, tt.wantMsg)
			}
		})
	}
}

func TestJoinUntilFull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	c := f.user("Chen", model.GenderMale, 26)
	d := f.user("Dawa", model.GenderMale, 33)
	e := f.user("Elif", model.GenderFemale, 29)

	g := f.createGroup(t, a, 2, 1)

	joined, err := f.svc.JoinGroup(ctx, b, g.ID)
	if err != nil {
		t.Fatalf("JoinGroup(b) error = %v", err)
	}
	if joined.MemberCount != 2 || joined.Status != model.StatusMember {
		t.Fatalf("after b joined: count=%d status=%q", joined.MemberCount, joined.Status)
	}
	page, err := f.svc.ListGroups(ctx, c, model.ListQuery{IsOpen: true})
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}
	if len(page.Groups) != 1 || page.Groups[0].Status != model.StatusCanJoin {
		t.Fatalf("status for c = %+v", page.Groups)
	}

	if _, err := f.svc.JoinGroup(ctx, b, g.ID); apperr.MessageOf(err) != model.MsgAlreadyMember {
		t.Errorf("second join = %v, want %q", err, model.MsgAlreadyMember)
	}

	full, err := f.svc.JoinGroup(ctx, c, g.ID)
	if err != nil {
		t.Fatalf("JoinGroup(c) error = %v", err)
	}
	if full.MemberCount != 3 || !full.IsFull {
		t.Fatalf("after c joined: count=%d full=%v", full.MemberCount, full.IsFull)
	}

	_, err = f.svc.JoinGroup(ctx, d, g.ID)
	if !apperr.IsKind(err, apperr.KindConflict) || apperr.MessageOf(err) != model.MsgFull {
		t.Fatalf("join full group = %v, want %q", err, model.MsgFull)
	}
	if apperr.StatusOf(err) != 400 {
		t.Errorf("status = %d, want 400", apperr.StatusOf(err))
	}

	page, _ = f.svc.ListGroups(ctx, e, model.ListQuery{IsOpen: true})
	if page.Groups[0].Status != model.StatusFull {
		t.Errorf("status for outsider = %q, want %q", page.Groups[0].Status, model.StatusFull)
	}

	stored, _ := f.dao.GetGroup(ctx, g.ID)
	seen := map[primitive.ObjectID]int{}
	for _, m := range stored.Members {
		seen[m.User]++
	}
	for user, n := range seen {
		if n != 1 {
			t.Errorf("user %s appears %d times", user.Hex(), n)
		}
	}
	if !f.users.HasJoined(b, g.ID) || !f.users.HasJoined(c, g.ID) || f.users.HasJoined(d, g.ID) {
		t.Error("joined-groups index out of sync with members")
	}
}

func TestJoinEligibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	g, err := f.svc.CreateGroup(ctx, a, CreateGroupInput{
		Name: "Women's Annapurna", TrekRoute: "ABC", StartDate: start, EndDate: start.AddDate(0, 0, 7),
		GroupSize: 5, GenderPreference: "Female", AgeFrom: 25, AgeTo: 35,
	})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	tests := []struct {
		name    string
		gender  string
		age     int
		wantMsg string
	}{
		{"male", model.GenderMale, 30, "This group prefers female members only"},
		{"too young", "FEMALE", 24, "This group is for people aged 25-35"},
		{"age not set", model.GenderFemale, 0, ""},
		{"upper bound", model.GenderFemale, 35, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := f.user(tt.name, tt.gender, tt.age)
			_, err := f.svc.JoinGroup(ctx, u, g.ID)
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("JoinGroup() error = %v", err)
				}
				return
			}
			if apperr.MessageOf(err) != tt.wantMsg {
				t.Errorf("JoinGroup() = %v, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestJoinClosedAndMissingGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	g := f.createGroup(t, a, 4, 0)

	closed := false
	if _, err := f.svc.UpdateGroup(ctx, a, g.ID, &model.GroupUpdate{IsOpen: &closed}); err != nil {
		t.Fatalf("UpdateGroup() error = %v", err)
	}
	_, err := f.svc.JoinGroup(ctx, b, g.ID)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("join closed group = %v, want forbidden", err)
	}

	_, err = f.svc.JoinGroup(ctx, b, primitive.NewObjectID())
	if !apperr.IsKind(err, apperr.KindNotFound) || apperr.MessageOf(err) != model.MsgGroupNotFound {
		t.Errorf("join missing group = %v, want not found", err)
	}
}

func TestLeaveSoleAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	c := f.user("Chen", model.GenderMale, 26)
	g := f.createGroup(t, a, 3, 0)
	for _, u := range []primitive.ObjectID{b, c} {
		if _, err := f.svc.JoinGroup(ctx, u, g.ID); err != nil {
			t.Fatalf("JoinGroup() error = %v", err)
		}
	}

	err := f.svc.LeaveGroup(ctx, a, g.ID)
	if apperr.MessageOf(err) != model.MsgSoleAdmin || apperr.StatusOf(err) != 400 {
		t.Fatalf("sole admin leave = %v, want %q", err, model.MsgSoleAdmin)
	}

	if _, err := f.svc.MakeAdmin(ctx, a, g.ID, b); err != nil {
		t.Fatalf("MakeAdmin() error = %v", err)
	}
	if err := f.svc.LeaveGroup(ctx, a, g.ID); err != nil {
		t.Fatalf("LeaveGroup() after promotion error = %v", err)
	}

	stored, _ := f.dao.GetGroup(ctx, g.ID)
	if stored.IsMember(a) || stored.AdminCount() != 1 || stored.MemberCount() != 2 {
		t.Fatalf("unexpected members after leave: %+v", stored.Members)
	}
	if f.users.HasJoined(a, g.ID) {
		t.Error("leaver still indexed")
	}

	if err := f.svc.LeaveGroup(ctx, a, g.ID); apperr.MessageOf(err) != model.MsgNotMember {
		t.Errorf("second leave = %v, want %q", err, model.MsgNotMember)
	}
}

func TestLastMemberCanLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	g := f.createGroup(t, a, 3, 0)

	if err := f.svc.LeaveGroup(ctx, a, g.ID); err != nil {
		t.Fatalf("LeaveGroup() error = %v", err)
	}
	stored, _ := f.dao.GetGroup(ctx, g.ID)
	if stored.MemberCount() != 0 {
		t.Errorf("memberCount = %d, want 0", stored.MemberCount())
	}
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	c := f.user("Chen", model.GenderMale, 26)
	g := f.createGroup(t, a, 5, 0)
	for _, u := range []primitive.ObjectID{b, c} {
		if _, err := f.svc.JoinGroup(ctx, u, g.ID); err != nil {
			t.Fatalf("JoinGroup() error = %v", err)
		}
	}

	if err := f.svc.RemoveMember(ctx, b, g.ID, c); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("member removing member = %v, want forbidden", err)
	}
	if err := f.svc.RemoveMember(ctx, a, g.ID, a); apperr.MessageOf(err) != model.MsgRemoveSelf {
		t.Errorf("self removal = %v, want %q", err, model.MsgRemoveSelf)
	}
	if err := f.svc.RemoveMember(ctx, a, g.ID, c); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	if f.users.HasJoined(c, g.ID) {
		t.Error("removed user still indexed")
	}

	if _, err := f.svc.MakeAdmin(ctx, a, g.ID, b); err != nil {
		t.Fatalf("MakeAdmin() error = %v", err)
	}
	if err := f.svc.RemoveMember(ctx, a, g.ID, b); apperr.MessageOf(err) != model.MsgRemoveAdmin {
		t.Errorf("removing admin = %v, want %q", err, model.MsgRemoveAdmin)
	}
	if _, err := f.svc.MakeAdmin(ctx, a, g.ID, b); apperr.MessageOf(err) != model.MsgAlreadyAdmin {
		t.Errorf("duplicate promotion = %v, want %q", err, model.MsgAlreadyAdmin)
	}
}

func TestSystemMessagePerMembershipEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	c := f.user("Chen", model.GenderMale, 26)

	g := f.createGroup(t, a, 5, 0)
	steps := []struct {
		name  string
		run   func() error
		actor primitive.ObjectID
		text  string
	}{
		{"join", func() error { _, err := f.svc.JoinGroup(ctx, b, g.ID); return err }, b, "Bikram joined the group"},
		{"join", func() error { _, err := f.svc.JoinGroup(ctx, c, g.ID); return err }, c, "Chen joined the group"},
		{"promote", func() error { _, err := f.svc.MakeAdmin(ctx, a, g.ID, b); return err }, a, "Bikram is now an admin"},
		{"remove", func() error { return f.svc.RemoveMember(ctx, a, g.ID, c) }, a, "Chen was removed from the group"},
		{"leave", func() error { return f.svc.LeaveGroup(ctx, a, g.ID) }, a, "Asha left the group"},
	}
	for i, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		system := f.systemMessages(t, g.ID)
		if len(system) != i+2 {
			t.Fatalf("%s: %d system messages, want %d", step.name, len(system), i+2)
		}
		last := system[len(system)-1]
		if last.Sender != step.actor || last.Content != step.text {
			t.Errorf("%s: got %q by %s, want %q by %s", step.name, last.Content, last.Sender.Hex(), step.text, step.actor.Hex())
		}
	}
}

func TestMembershipEventsCarrySeq(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	g := f.createGroup(t, a, 5, 0)
	if _, err := f.svc.JoinGroup(ctx, b, g.ID); err != nil {
		t.Fatalf("JoinGroup() error = %v", err)
	}

	events := f.broker.Published()
	if len(events) != 4 {
		t.Fatalf("published %d events, want 4", len(events))
	}
	msg, joined := events[2], events[3]
	if msg.Event != fanout.EventNewMessage || msg.Channel != fanout.MessageChannel(g.ID.Hex()) {
		t.Errorf("unexpected message event %+v", msg)
	}
	if joined.Event != fanout.EventMemberJoined || joined.Channel != fanout.UpdatesChannel(g.ID.Hex()) {
		t.Errorf("unexpected member event %+v", joined)
	}
	if msg.Seq != 2 || joined.Seq != msg.Seq {
		t.Errorf("seq message=%d member=%d, want 2 2", msg.Seq, joined.Seq)
	}

	var payload fanout.MemberPayload
	if err := joined.DecodeData(&payload); err != nil {
		t.Fatalf("DecodeData() error = %v", err)
	}
	if payload.User != b.Hex() || payload.Role != model.RoleMember || payload.MemberCount != 2 || payload.FullName != "Bikram" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestFanoutFailureDoesNotFailJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	g := f.createGroup(t, a, 5, 0)

	f.broker.FailWith(errors.New("redis down"))
	if _, err := f.svc.JoinGroup(ctx, b, g.ID); err != nil {
		t.Fatalf("JoinGroup() error = %v", err)
	}
	if got := len(f.systemMessages(t, g.ID)); got != 2 {
		t.Errorf("system messages = %d, want 2", got)
	}
}

func TestJoinCompensatesIndexFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	g := f.createGroup(t, a, 5, 0)

	f.users.SetIndexErr(errors.New("users collection unavailable"))
	_, err := f.svc.JoinGroup(ctx, b, g.ID)
	if !apperr.IsKind(err, apperr.KindInternal) {
		t.Fatalf("JoinGroup() = %v, want internal", err)
	}
	stored, _ := f.dao.GetGroup(ctx, g.ID)
	if stored.IsMember(b) {
		t.Error("member not rolled back after index failure")
	}
	if got := len(f.systemMessages(t, g.ID)); got != 1 {
		t.Errorf("system messages = %d, want only the create message", got)
	}

	f.users.SetIndexErr(nil)
	if _, err := f.svc.JoinGroup(ctx, b, g.ID); err != nil {
		t.Fatalf("retry JoinGroup() error = %v", err)
	}
}

func TestLeaveCompensatesIndexFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	g := f.createGroup(t, a, 5, 0)
	if _, err := f.svc.JoinGroup(ctx, b, g.ID); err != nil {
		t.Fatalf("JoinGroup() error = %v", err)
	}
	before, _ := f.dao.GetGroup(ctx, g.ID)
	entry, _ := before.FindMember(b)

	f.users.SetIndexErr(errors.New("users collection unavailable"))
	if err := f.svc.LeaveGroup(ctx, b, g.ID); !apperr.IsKind(err, apperr.KindInternal) {
		t.Fatalf("LeaveGroup() = %v, want internal", err)
	}
	after, _ := f.dao.GetGroup(ctx, g.ID)
	restored, ok := after.FindMember(b)
	if !ok || restored.Role != entry.Role || !restored.JoinedAt.Equal(entry.JoinedAt) {
		t.Errorf("member not restored: %+v", after.Members)
	}
}

func TestCreateCompensatesIndexFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	f.users.SetIndexErr(errors.New("users collection unavailable"))
	_, err := f.svc.CreateGroup(ctx, a, CreateGroupInput{
		Name: "EBC", TrekRoute: "r", StartDate: start, EndDate: start, GroupSize: 2,
	})
	if !apperr.IsKind(err, apperr.KindInternal) {
		t.Fatalf("CreateGroup() = %v, want internal", err)
	}
	groups, _ := f.dao.GetUserGroups(ctx, a)
	if len(groups) != 0 {
		t.Errorf("group left behind after compensation: %d", len(groups))
	}
}

func TestConcurrentChangeReclassified(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	c := f.user("Chen", model.GenderMale, 26)
	g := f.createGroup(t, a, 2, 0)

	// 另一个请求在条件写之前抢占了最后一个名额
	f.dao.SetBeforeWrite(func(groupID primitive.ObjectID) {
		f.dao.SetBeforeWrite(nil)
		f.dao.Mutate(groupID, func(g *model.Group) {
			g.Members = append(g.Members, model.Member{User: c, Role: model.RoleMember, JoinedAt: time.Now()})
		})
	})
	_, err := f.svc.JoinGroup(ctx, b, g.ID)
	if apperr.MessageOf(err) != model.MsgFull {
		t.Fatalf("JoinGroup() = %v, want %q", err, model.MsgFull)
	}
	stored, _ := f.dao.GetGroup(ctx, g.ID)
	if stored.MemberCount() != 2 {
		t.Errorf("memberCount = %d, want 2", stored.MemberCount())
	}
}

func TestConcurrentLeaveKeepsAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	c := f.user("Chen", model.GenderMale, 26)
	g := f.createGroup(t, a, 5, 0)
	for _, u := range []primitive.ObjectID{b, c} {
		if _, err := f.svc.JoinGroup(ctx, u, g.ID); err != nil {
			t.Fatalf("JoinGroup() error = %v", err)
		}
	}
	if _, err := f.svc.MakeAdmin(ctx, a, g.ID, b); err != nil {
		t.Fatalf("MakeAdmin() error = %v", err)
	}

	// b 与 a 同时退出：b 先完成，a 的条件写必须失败
	f.dao.SetBeforeWrite(func(groupID primitive.ObjectID) {
		f.dao.SetBeforeWrite(nil)
		f.dao.Mutate(groupID, func(g *model.Group) {
			kept := g.Members[:0]
			for _, m := range g.Members {
				if m.User != b {
					kept = append(kept, m)
				}
			}
			g.Members = kept
		})
	})
	err := f.svc.LeaveGroup(ctx, a, g.ID)
	if apperr.MessageOf(err) != model.MsgSoleAdmin {
		t.Fatalf("LeaveGroup() = %v, want %q", err, model.MsgSoleAdmin)
	}
	stored, _ := f.dao.GetGroup(ctx, g.ID)
	if stored.MemberCount() > 1 && stored.AdminCount() == 0 {
		t.Fatal("group left without admin")
	}
}

// missingDAO 让前 misses 次 AddMember 条件写落空，模拟期间被其他请求改写又复原
type missingDAO struct {
	*dao.MemoryGroupDAO
	misses int
}

func (d *missingDAO) AddMember(ctx context.Context, groupID primitive.ObjectID, user *userdir.Profile, at time.Time) (*model.Group, error) {
	if d.misses > 0 {
		d.misses--
		return nil, dao.ErrConditionFailed
	}
	return d.MemoryGroupDAO.AddMember(ctx, groupID, user, at)
}

func TestConcurrentChangeStillEligible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	racing := &missingDAO{MemoryGroupDAO: f.dao, misses: 1}
	f.svc.dao = racing

	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	g := f.createGroup(t, a, 5, 0)

	_, err := f.svc.JoinGroup(ctx, b, g.ID)
	if !apperr.IsKind(err, apperr.KindConflict) || apperr.MessageOf(err) != model.MsgConcurrentChange {
		t.Fatalf("JoinGroup() = %v, want %q", err, model.MsgConcurrentChange)
	}
	if _, err := f.svc.JoinGroup(ctx, b, g.ID); err != nil {
		t.Fatalf("retry JoinGroup() error = %v", err)
	}
}

func TestGetMyGroupsOrderAndPreview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)

	older := f.createGroup(t, a, 5, 0)
	newer := f.createGroup(t, b, 5, 0)
	if _, err := f.svc.JoinGroup(ctx, a, newer.ID); err != nil {
		t.Fatalf("JoinGroup() error = %v", err)
	}
	// older 群有新活动后排到最前
	if _, err := f.svc.JoinGroup(ctx, b, older.ID); err != nil {
		t.Fatalf("JoinGroup() error = %v", err)
	}

	groups, err := f.svc.GetMyGroups(ctx, a, true)
	if err != nil {
		t.Fatalf("GetMyGroups() error = %v", err)
	}
	if len(groups) != 2 || groups[0].ID != older.ID {
		t.Fatalf("unexpected order: %d groups", len(groups))
	}
	if groups[0].LatestMessage == nil || groups[0].LatestMessage.Text != "Bikram joined the group" {
		t.Errorf("latest message = %+v", groups[0].LatestMessage)
	}

	plain, _ := f.svc.GetMyGroups(ctx, a, false)
	if plain[0].LatestMessage != nil {
		t.Error("preview returned without withPreview")
	}
}

func TestGetGroupDetail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	g := f.createGroup(t, a, 5, 0)
	if _, err := f.svc.JoinGroup(ctx, b, g.ID); err != nil {
		t.Fatalf("JoinGroup() error = %v", err)
	}

	latest, _ := f.messages.Latest(ctx, g.ID)
	if _, err := f.svc.PinMessage(ctx, b, g.ID, latest.ID); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("member pin = %v, want forbidden", err)
	}
	if _, err := f.svc.PinMessage(ctx, a, g.ID, latest.ID); err != nil {
		t.Fatalf("PinMessage() error = %v", err)
	}

	detail, err := f.svc.GetGroup(ctx, b, g.ID)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if detail.Status != model.StatusMember || detail.Creator.FullName != "Asha" {
		t.Errorf("status=%q creator=%q", detail.Status, detail.Creator.FullName)
	}
	if len(detail.MemberProfiles) != 2 || detail.MemberProfiles[1].FullName != "Bikram" {
		t.Errorf("member profiles = %+v", detail.MemberProfiles)
	}
	if len(detail.PinnedMessages) != 1 || detail.PinnedMessages[0].ID != latest.ID {
		t.Errorf("pinned = %+v", detail.PinnedMessages)
	}

	if _, err := f.svc.UnpinMessage(ctx, a, g.ID, latest.ID); err != nil {
		t.Fatalf("UnpinMessage() error = %v", err)
	}
	detail, _ = f.svc.GetGroup(ctx, b, g.ID)
	if len(detail.PinnedMessages) != 0 {
		t.Errorf("pinned after unpin = %d", len(detail.PinnedMessages))
	}
}

func TestUpdateGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	b := f.user("Bikram", model.GenderMale, 30)
	g := f.createGroup(t, a, 5, 0)
	if _, err := f.svc.JoinGroup(ctx, b, g.ID); err != nil {
		t.Fatalf("JoinGroup() error = %v", err)
	}

	name := "EBC Autumn"
	if _, err := f.svc.UpdateGroup(ctx, b, g.ID, &model.GroupUpdate{Name: &name}); apperr.MessageOf(err) != model.MsgOnlyAdminsUpdate {
		t.Errorf("member update = %v, want %q", err, model.MsgOnlyAdminsUpdate)
	}
	if _, err := f.svc.UpdateGroup(ctx, a, g.ID, &model.GroupUpdate{}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("empty update = %v, want validation", err)
	}

	from := 50
	if _, err := f.svc.UpdateGroup(ctx, a, g.ID, &model.GroupUpdate{AgeFrom: &from, AgeTo: intPtr(20)}); apperr.MessageOf(err) != model.MsgInvalidAgeRange {
		t.Errorf("bad age update = %v", err)
	}

	gender := "Male"
	extra := 3
	updated, err := f.svc.UpdateGroup(ctx, a, g.ID, &model.GroupUpdate{Name: &name, GenderPreference: &gender, AdditionalMembers: &extra})
	if err != nil {
		t.Fatalf("UpdateGroup() error = %v", err)
	}
	if updated.Name != name || updated.TrekDetails.GenderPreference != model.GenderMale || updated.Capacity() != 8 {
		t.Errorf("updated = %+v", updated.Group)
	}
}

func TestConcurrentAgeUpdatesKeepRangeValid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	g := f.createGroup(t, a, 5, 0)

	// 另一位管理员在条件写之前把上限改成了 25
	f.dao.SetBeforeWrite(func(groupID primitive.ObjectID) {
		f.dao.SetBeforeWrite(nil)
		f.dao.Mutate(groupID, func(g *model.Group) {
			g.TrekDetails.AgeTo = 25
		})
	})
	_, err := f.svc.UpdateGroup(ctx, a, g.ID, &model.GroupUpdate{AgeFrom: intPtr(40)})
	if apperr.MessageOf(err) != model.MsgInvalidAgeRange {
		t.Fatalf("UpdateGroup() = %v, want %q", err, model.MsgInvalidAgeRange)
	}
	stored, _ := f.dao.GetGroup(ctx, g.ID)
	if stored.TrekDetails.AgeFrom != 0 || stored.TrekDetails.AgeTo != 25 {
		t.Errorf("age range = %d-%d, want 0-25", stored.TrekDetails.AgeFrom, stored.TrekDetails.AgeTo)
	}
}

func TestListGroupsFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.user("Asha", model.GenderFemale, 28)
	for i := 0; i < 3; i++ {
		f.createGroup(t, a, 5, 0)
	}
	start := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := f.svc.CreateGroup(ctx, a, CreateGroupInput{
		Name: "Manaslu Circuit", TrekRoute: "Soti Khola - Dharapani", StartDate: start, EndDate: start.AddDate(0, 0, 14), GroupSize: 4,
	}); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	page, err := f.svc.ListGroups(ctx, a, model.ListQuery{IsOpen: true, Limit: 2})
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}
	if page.TotalGroups != 4 || page.TotalPages != 2 || len(page.Groups) != 2 || page.CurrentPage != 1 {
		t.Errorf("page = total %d pages %d len %d", page.TotalGroups, page.TotalPages, len(page.Groups))
	}

	page, _ = f.svc.ListGroups(ctx, a, model.ListQuery{IsOpen: true, Search: "manaslu"})
	if len(page.Groups) != 1 || page.Groups[0].Name != "Manaslu Circuit" {
		t.Errorf("search returned %d groups", len(page.Groups))
	}

	from := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	page, _ = f.svc.ListGroups(ctx, a, model.ListQuery{IsOpen: true, StartDateFrom: &from})
	if len(page.Groups) != 1 {
		t.Errorf("date filter returned %d groups", len(page.Groups))
	}

	if _, err := f.svc.ListGroups(ctx, a, model.ListQuery{IsOpen: true, SortBy: "members"}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("unsupported sort = %v, want validation", err)
	}
}

func intPtr(v int) *int { return &v }
