package model

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/apperr"
	"trekmate/pkg/userdir"
)

// 群内角色
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// 性别偏好
const (
	GenderAny    = "any"
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOthers = "others"
)

// DefaultGroupImage 未设置群头像时的默认值
const DefaultGroupImage = "default-group.jpg"

// 浏览者视角的群状态，按优先级排列
const (
	StatusYourGroup   = "Your Group"
	StatusMember      = "Member"
	StatusFull        = "Full"
	StatusNotEligible = "Not Eligible"
	StatusCanJoin     = "Can Join"
)

// 业务规则错误文案，直接展示给用户
const (
	MsgGroupNotFound      = "Group not found"
	MsgNotOpen            = "This group is not open for new members"
	MsgFull               = "This group is already full"
	MsgAlreadyMember      = "You are already a member of this group"
	MsgNotMember          = "You are not a member of this group"
	MsgSoleAdmin          = "You're the only admin. Make someone else an admin before leaving"
	MsgOnlyAdminsPromote  = "Only group admins can promote members"
	MsgOnlyAdminsRemove   = "Only group admins can remove members"
	MsgOnlyAdminsUpdate   = "Only group admins can update group details"
	MsgOnlyAdminsPin      = "Only group admins can pin messages"
	MsgTargetNotMember    = "User is not a member of this group"
	MsgAlreadyAdmin       = "User is already an admin"
	MsgRemoveSelf         = "Use the 'leave group' endpoint to remove yourself"
	MsgRemoveAdmin        = "Cannot remove another admin. They must leave voluntarily"
	MsgConcurrentChange   = "Group changed concurrently, please retry"
	MsgEndBeforeStart     = "End date cannot be before start date"
	MsgMessageNotInGroup  = "Message does not belong to this group"
	MsgInvalidGroupID     = "Invalid group ID"
	MsgInvalidGroupOrUser = "Invalid group ID or user ID"
	MsgRequiredFields     = "All required fields must be provided"
	MsgInvalidAgeRange    = "Age from cannot be greater than age to"
)

// Member 成员条目
type Member struct {
	User     primitive.ObjectID `bson:"user" json:"user"`
	Role     string             `bson:"role" json:"role"`
	JoinedAt time.Time          `bson:"joinedAt" json:"joinedAt"`
}

// TrekDetails 行程约束。AgeFrom/AgeTo 为0表示未设置
type TrekDetails struct {
	StartDate         time.Time `bson:"startDate" json:"startDate"`
	EndDate           time.Time `bson:"endDate" json:"endDate"`
	GroupSize         int       `bson:"groupSize" json:"groupSize"`
	AdditionalMembers int       `bson:"additionalMembers" json:"additionalMembers"`
	GenderPreference  string    `bson:"genderPreference" json:"genderPreference"`
	AgeFrom           int       `bson:"ageFrom,omitempty" json:"ageFrom,omitempty"`
	AgeTo             int       `bson:"ageTo,omitempty" json:"ageTo,omitempty"`
}

// AgeRangeValid 两端都设置时下限不能大于上限，0 表示不限
func (t TrekDetails) AgeRangeValid() bool {
	return t.AgeFrom <= 0 || t.AgeTo <= 0 || t.AgeFrom <= t.AgeTo
}

// Group 群组文档，成员与角色的唯一事实来源
type Group struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Name         string               `bson:"name" json:"name"`
	TrekRoute    string               `bson:"trekRoute" json:"trekRoute"`
	Description  string               `bson:"description" json:"description"`
	CreatedBy    primitive.ObjectID   `bson:"createdBy" json:"createdBy"`
	Members      []Member             `bson:"members" json:"members"`
	TrekDetails  TrekDetails          `bson:"trekDetails" json:"trekDetails"`
	IsOpen       bool                 `bson:"isOpen" json:"isOpen"`
	GroupImage   string               `bson:"groupImage" json:"groupImage"`
	Pinned       []primitive.ObjectID `bson:"pinned" json:"pinned"`
	LastActivity time.Time            `bson:"lastActivity" json:"lastActivity"`
	MessageSeq   int64                `bson:"messageSeq" json:"messageSeq"`
	CreatedAt    time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// MemberCount 成员数
func (g *Group) MemberCount() int {
	return len(g.Members)
}

// Capacity 容量 = groupSize + additionalMembers，只计算不存储
func (g *Group) Capacity() int {
	return g.TrekDetails.GroupSize + g.TrekDetails.AdditionalMembers
}

// IsFull 是否已满
func (g *Group) IsFull() bool {
	return g.MemberCount() >= g.Capacity()
}

// FindMember 查找成员
func (g *Group) FindMember(userID primitive.ObjectID) (*Member, bool) {
	for i := range g.Members {
		if g.Members[i].User == userID {
			return &g.Members[i], true
		}
	}
	return nil, false
}

// IsMember 是否为成员
func (g *Group) IsMember(userID primitive.ObjectID) bool {
	_, ok := g.FindMember(userID)
	return ok
}

// IsAdmin 是否为管理员
func (g *Group) IsAdmin(userID primitive.ObjectID) bool {
	m, ok := g.FindMember(userID)
	return ok && m.Role == RoleAdmin
}

// AdminCount 管理员数
func (g *Group) AdminCount() int {
	n := 0
	for _, m := range g.Members {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}

// IsPinned 消息是否已置顶
func (g *Group) IsPinned(messageID primitive.ObjectID) bool {
	for _, id := range g.Pinned {
		if id == messageID {
			return true
		}
	}
	return false
}

// MemberIDs 成员ID列表，保持入群顺序
func (g *Group) MemberIDs() []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.User)
	}
	return ids
}

// Clone 深拷贝
func (g *Group) Clone() *Group {
	cp := *g
	cp.Members = append([]Member(nil), g.Members...)
	cp.Pinned = append([]primitive.ObjectID(nil), g.Pinned...)
	return &cp
}

// CheckEligibility 性别与年龄限制
func (g *Group) CheckEligibility(user *userdir.Profile) error {
	pref := g.TrekDetails.GenderPreference
	if pref != "" && !strings.EqualFold(pref, GenderAny) && !strings.EqualFold(pref, user.Gender) {
		return apperr.Conflict(fmt.Sprintf("This group prefers %s members only", pref))
	}
	from, to := g.TrekDetails.AgeFrom, g.TrekDetails.AgeTo
	if user.Age > 0 && from > 0 && to > 0 && (user.Age < from || user.Age > to) {
		return apperr.Conflict(fmt.Sprintf("This group is for people aged %d-%d", from, to))
	}
	return nil
}

// CheckJoin 入群前置条件，依次检查：开放、容量、重复、性别、年龄
func (g *Group) CheckJoin(user *userdir.Profile) error {
	if !g.IsOpen {
		return apperr.Forbidden(MsgNotOpen)
	}
	if g.IsFull() {
		return apperr.Conflict(MsgFull)
	}
	if g.IsMember(user.ID) {
		return apperr.Conflict(MsgAlreadyMember)
	}
	return g.CheckEligibility(user)
}

// CheckLeave 唯一管理员在仍有其他成员时不能退出
func (g *Group) CheckLeave(userID primitive.ObjectID) error {
	m, ok := g.FindMember(userID)
	if !ok {
		return apperr.Conflict(MsgNotMember)
	}
	if m.Role == RoleAdmin && g.AdminCount() == 1 && g.MemberCount() > 1 {
		return apperr.Conflict(MsgSoleAdmin)
	}
	return nil
}

// CheckPromote 管理员提升普通成员
func (g *Group) CheckPromote(requester, target primitive.ObjectID) error {
	if !g.IsAdmin(requester) {
		return apperr.Forbidden(MsgOnlyAdminsPromote)
	}
	m, ok := g.FindMember(target)
	if !ok {
		return apperr.NotFound(MsgTargetNotMember)
	}
	if m.Role == RoleAdmin {
		return apperr.Conflict(MsgAlreadyAdmin)
	}
	return nil
}

// CheckRemove 管理员移除普通成员，不能移除自己或其他管理员
func (g *Group) CheckRemove(requester, target primitive.ObjectID) error {
	if !g.IsAdmin(requester) {
		return apperr.Forbidden(MsgOnlyAdminsRemove)
	}
	if requester == target {
		return apperr.BadRequest(MsgRemoveSelf)
	}
	m, ok := g.FindMember(target)
	if !ok {
		return apperr.NotFound(MsgTargetNotMember)
	}
	if m.Role == RoleAdmin {
		return apperr.Forbidden(MsgRemoveAdmin)
	}
	return nil
}

// Status 浏览者视角的状态：Your Group > Member > Full > Not Eligible > Can Join
func (g *Group) Status(viewer *userdir.Profile) string {
	if viewer == nil {
		return StatusCanJoin
	}
	if g.CreatedBy == viewer.ID || g.IsAdmin(viewer.ID) {
		return StatusYourGroup
	}
	if g.IsMember(viewer.ID) {
		return StatusMember
	}
	if g.IsFull() {
		return StatusFull
	}
	if g.CheckEligibility(viewer) != nil {
		return StatusNotEligible
	}
	return StatusCanJoin
}

// GroupView 带派生字段的响应结构
type GroupView struct {
	*Group
	MemberCount int    `json:"memberCount"`
	IsFull      bool   `json:"isFull"`
	Status      string `json:"status,omitempty"`
}

// NewGroupView 计算派生字段
func NewGroupView(g *Group, viewer *userdir.Profile) *GroupView {
	return &GroupView{
		Group:       g,
		MemberCount: g.MemberCount(),
		IsFull:      g.IsFull(),
		Status:      g.Status(viewer),
	}
}

// MemberView 成员条目及其展示资料
type MemberView struct {
	Member
	FullName       string `json:"fullName"`
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profilePicture"`
	Gender         string `json:"gender,omitempty"`
	Age            int    `json:"age,omitempty"`
}

// NewMemberView 资料缺失时显示为未知用户
func NewMemberView(m Member, p *userdir.Profile) MemberView {
	v := MemberView{Member: m, FullName: p.DisplayName(), ProfilePicture: p.Avatar()}
	if p != nil {
		v.FullName = p.FullName
		v.Username = p.Username
		v.Gender = p.Gender
		v.Age = p.Age
	}
	return v
}

// ListQuery 群列表查询条件
type ListQuery struct {
	Search        string
	IsOpen        bool
	SortBy        string
	SortAsc       bool
	StartDateFrom *time.Time
	StartDateTo   *time.Time
	Page          int
	Limit         int
}

// SortableFields 允许排序的字段
var SortableFields = map[string]string{
	"createdAt":    "createdAt",
	"name":         "name",
	"lastActivity": "lastActivity",
	"startDate":    "trekDetails.startDate",
}

// GroupUpdate 允许管理员修改的字段，nil 表示不修改
type GroupUpdate struct {
	Name              *string
	Description       *string
	IsOpen            *bool
	GroupImage        *string
	AdditionalMembers *int
	GenderPreference  *string
	AgeFrom           *int
	AgeTo             *int
}

// Empty 没有任何可修改字段
func (u *GroupUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.IsOpen == nil && u.GroupImage == nil &&
		u.AdditionalMembers == nil && u.GenderPreference == nil && u.AgeFrom == nil && u.AgeTo == nil
}

// Apply 应用到内存中的群
func (u *GroupUpdate) Apply(g *Group) {
	if u.Name != nil {
		g.Name = *u.Name
	}
	if u.Description != nil {
		g.Description = *u.Description
	}
	if u.IsOpen != nil {
		g.IsOpen = *u.IsOpen
	}
	if u.GroupImage != nil {
		g.GroupImage = *u.GroupImage
	}
	if u.AdditionalMembers != nil {
		g.TrekDetails.AdditionalMembers = *u.AdditionalMembers
	}
	if u.GenderPreference != nil {
		g.TrekDetails.GenderPreference = *u.GenderPreference
	}
	if u.AgeFrom != nil {
		g.TrekDetails.AgeFrom = *u.AgeFrom
	}
	if u.AgeTo != nil {
		g.TrekDetails.AgeTo = *u.AgeTo
	}
}

// SetFields Mongo $set 文档
func (u *GroupUpdate) SetFields() map[string]interface{} {
	set := make(map[string]interface{})
	if u.Name != nil {
		set["name"] = *u.Name
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if u.IsOpen != nil {
		set["isOpen"] = *u.IsOpen
	}
	if u.GroupImage != nil {
		set["groupImage"] = *u.GroupImage
	}
	if u.AdditionalMembers != nil {
		set["trekDetails.additionalMembers"] = *u.AdditionalMembers
	}
	if u.GenderPreference != nil {
		set["trekDetails.genderPreference"] = *u.GenderPreference
	}
	if u.AgeFrom != nil {
		set["trekDetails.ageFrom"] = *u.AgeFrom
	}
	if u.AgeTo != nil {
		set["trekDetails.ageTo"] = *u.AgeTo
	}
	return set
}

// 系统消息文案
func CreatedText(name string) string { return name + " created this group" }
func JoinedText(name string) string { return name + " joined the group" }
func LeftText(name string) string { return name + " left the group" }
func PromotedText(name string) string { return name + " is now an admin" }
func RemovedText(name string) string { return name + " was removed from the group" }
