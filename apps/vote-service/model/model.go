package model

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"trekmate/pkg/database"
)

// Target 可投票对象类型
type Target string

const (
	TargetPost    Target = "post"
	TargetComment Target = "comment"
)

// Collection 对象所在集合
func (t Target) Collection() string {
	if t == TargetComment {
		return database.CollectionComments
	}
	return database.CollectionPosts
}

// Direction 投票方向
type Direction string

const (
	Up   Direction = "upvote"
	Down Direction = "downvote"
)

// Outcome 一次投票切换的结果
type Outcome string

const (
	OutcomeRemoved Outcome = "removed"
	OutcomeChanged Outcome = "changed"
	OutcomeAdded   Outcome = "added"
)

// 错误文案
const (
	MsgInvalidPostID    = "Invalid post ID"
	MsgInvalidCommentID = "Invalid comment ID"
	MsgPostNotFound     = "Post not found"
	MsgCommentNotFound  = "Comment not found"
	MsgVoteContended    = "Vote changed concurrently, please retry"
)

// InvalidIDMessage 对象ID非法时的提示
func (t Target) InvalidIDMessage() string {
	if t == TargetComment {
		return MsgInvalidCommentID
	}
	return MsgInvalidPostID
}

// NotFoundMessage 对象不存在时的提示
func (t Target) NotFoundMessage() string {
	if t == TargetComment {
		return MsgCommentNotFound
	}
	return MsgPostNotFound
}

// VoterSet 投票用户集合。存储中既有裸ObjectID也有 {_id: ...} 对象，解码时统一为ID
type VoterSet []primitive.ObjectID

// Contains 是否包含该用户
func (s VoterSet) Contains(id primitive.ObjectID) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Add 加入用户，已存在时不变
func (s VoterSet) Add(id primitive.ObjectID) VoterSet {
	if s.Contains(id) {
		return s
	}
	return append(s, id)
}

// Remove 移除用户
func (s VoterSet) Remove(id primitive.ObjectID) VoterSet {
	out := s[:0:0]
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// MarshalBSONValue 始终写为ObjectID数组
func (s VoterSet) MarshalBSONValue() (bsontype.Type, []byte, error) {
	ids := []primitive.ObjectID(s)
	if ids == nil {
		ids = []primitive.ObjectID{}
	}
	return bson.MarshalValue(ids)
}

// UnmarshalBSONValue 兼容历史数据中的对象形式与字符串形式，重复项去重
func (s *VoterSet) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	*s = VoterSet{}
	if t == bsontype.Null || t == bsontype.Undefined {
		return nil
	}
	if t != bsontype.Array {
		return fmt.Errorf("voter set: unexpected bson type %s", t)
	}
	values, err := bson.RawValue{Type: t, Value: data}.Array().Values()
	if err != nil {
		return fmt.Errorf("voter set: %w", err)
	}
	for _, v := range values {
		id, err := voterID(v)
		if err != nil {
			return err
		}
		*s = s.Add(id)
	}
	return nil
}

func voterID(v bson.RawValue) (primitive.ObjectID, error) {
	switch v.Type {
	case bsontype.ObjectID:
		return v.ObjectID(), nil
	case bsontype.EmbeddedDocument:
		inner, err := v.Document().LookupErr("_id")
		if err != nil {
			return primitive.NilObjectID, fmt.Errorf("voter set: object entry without _id")
		}
		return voterID(inner)
	case bsontype.String:
		id, err := primitive.ObjectIDFromHex(v.StringValue())
		if err != nil {
			return primitive.NilObjectID, fmt.Errorf("voter set: %w", err)
		}
		return id, nil
	default:
		return primitive.NilObjectID, fmt.Errorf("voter set: unexpected entry type %s", v.Type)
	}
}

// Votable 帖子或评论上与投票相关的字段
type Votable struct {
	ID        primitive.ObjectID `bson:"_id"`
	Upvotes   VoterSet           `bson:"upvotes"`
	Downvotes VoterSet           `bson:"downvotes"`
}

// Plan 根据当前状态决定切换结果：同向再投取消，反向改投，未投则新增
func (v *Votable) Plan(voter primitive.ObjectID, dir Direction) Outcome {
	same, opposite := v.Upvotes, v.Downvotes
	if dir == Down {
		same, opposite = v.Downvotes, v.Upvotes
	}
	switch {
	case same.Contains(voter):
		return OutcomeRemoved
	case opposite.Contains(voter):
		return OutcomeChanged
	default:
		return OutcomeAdded
	}
}

// Apply 在内存中执行切换，结果与 Plan 一致
func (v *Votable) Apply(voter primitive.ObjectID, dir Direction, outcome Outcome) {
	same, opposite := &v.Upvotes, &v.Downvotes
	if dir == Down {
		same, opposite = &v.Downvotes, &v.Upvotes
	}
	switch outcome {
	case OutcomeRemoved:
		*same = same.Remove(voter)
	case OutcomeChanged:
		*opposite = opposite.Remove(voter)
		*same = same.Add(voter)
	case OutcomeAdded:
		*same = same.Add(voter)
	}
}

// VoteCount 赞成数减反对数
func (v *Votable) VoteCount() int {
	return len(v.Upvotes) - len(v.Downvotes)
}

// ToggleResult 投票切换响应
type ToggleResult struct {
	Action    Outcome `json:"action"`
	VoteCount int     `json:"voteCount"`
}

// Message 响应文案
func (r *ToggleResult) Message(dir Direction) string {
	noun, opposite := "Upvote", "downvote"
	if dir == Down {
		noun, opposite = "Downvote", "upvote"
	}
	switch r.Action {
	case OutcomeRemoved:
		return noun + " removed"
	case OutcomeChanged:
		return "Changed " + opposite + " to " + string(dir)
	default:
		return noun + " added"
	}
}

// Summary 投票汇总
type Summary struct {
	VoteCount    int      `json:"voteCount"`
	Upvotes      VoterSet `json:"upvotes"`
	Downvotes    VoterSet `json:"downvotes"`
	HasUpvoted   bool     `json:"hasUpvoted"`
	HasDownvoted bool     `json:"hasDownvoted"`
}

// NewSummary 汇总当前用户视角
func NewSummary(v *Votable, viewer primitive.ObjectID) *Summary {
	up, down := v.Upvotes, v.Downvotes
	if up == nil {
		up = VoterSet{}
	}
	if down == nil {
		down = VoterSet{}
	}
	return &Summary{
		VoteCount:    v.VoteCount(),
		Upvotes:      up,
		Downvotes:    down,
		HasUpvoted:   up.Contains(viewer),
		HasDownvoted: down.Contains(viewer),
	}
}
