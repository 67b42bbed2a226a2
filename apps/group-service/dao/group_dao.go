package dao

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trekmate/apps/group-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/database"
	"trekmate/pkg/userdir"
)

// groupDAO groups 集合
type groupDAO struct {
	groups *mongo.Collection
}

// NewGroupDAO 创建群组DAO
func NewGroupDAO(db *database.MongoDB) GroupDAO {
	return &groupDAO{groups: db.GetCollection(database.CollectionGroups)}
}

// EnsureGroupIndexes 列表与"我的群组"查询所需索引
func EnsureGroupIndexes(ctx context.Context, db *database.MongoDB) error {
	return db.EnsureIndexes(ctx, database.CollectionGroups,
		mongo.IndexModel{Keys: bson.D{{Key: "members.user", Value: 1}, {Key: "lastActivity", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "isOpen", Value: 1}, {Key: "createdAt", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "trekDetails.startDate", Value: 1}}},
	)
}

// CreateGroup 创建者作为首个管理员随文档一次写入
func (d *groupDAO) CreateGroup(ctx context.Context, group *model.Group) error {
	if group.ID.IsZero() {
		group.ID = primitive.NewObjectID()
	}
	if _, err := d.groups.InsertOne(ctx, group); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// DeleteGroup 删除群组，仅用于创建补偿
func (d *groupDAO) DeleteGroup(ctx context.Context, groupID primitive.ObjectID) error {
	if _, err := d.groups.DeleteOne(ctx, bson.M{"_id": groupID}); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}

// GetGroup 获取群组信息
func (d *groupDAO) GetGroup(ctx context.Context, groupID primitive.ObjectID) (*model.Group, error) {
	var group model.Group
	err := d.groups.FindOne(ctx, bson.M{"_id": groupID}).Decode(&group)
	if database.IsNotFound(err) {
		return nil, apperr.NotFound(model.MsgGroupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

// ListGroups 搜索名称或路线，按开放状态与出发日期过滤
func (d *groupDAO) ListGroups(ctx context.Context, q model.ListQuery) ([]*model.Group, int64, error) {
	filter := bson.M{"isOpen": q.IsOpen}
	if q.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(q.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"name": pattern},
			bson.M{"trekRoute": pattern},
		}
	}
	if q.StartDateFrom != nil || q.StartDateTo != nil {
		dateRange := bson.M{}
		if q.StartDateFrom != nil {
			dateRange["$gte"] = *q.StartDateFrom
		}
		if q.StartDateTo != nil {
			dateRange["$lte"] = *q.StartDateTo
		}
		filter["trekDetails.startDate"] = dateRange
	}

	total, err := d.groups.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count groups: %w", err)
	}

	order := -1
	if q.SortAsc {
		order = 1
	}
	sortField, ok := model.SortableFields[q.SortBy]
	if !ok {
		sortField = "createdAt"
	}
	opts := options.Find().
		SetSort(bson.D{{Key: sortField, Value: order}, {Key: "_id", Value: order}}).
		SetSkip(int64((q.Page - 1) * q.Limit)).
		SetLimit(int64(q.Limit))

	groups, err := d.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return groups, total, nil
}

// GetUserGroups 用户所在的群，按最近活跃倒序
func (d *groupDAO) GetUserGroups(ctx context.Context, userID primitive.ObjectID) ([]*model.Group, error) {
	opts := options.Find().SetSort(bson.D{{Key: "lastActivity", Value: -1}})
	return d.find(ctx, bson.M{"members.user": userID}, opts)
}

// UpdateGroup 仅当请求者仍是管理员时更新
func (d *groupDAO) UpdateGroup(ctx context.Context, groupID, requester primitive.ObjectID, update *model.GroupUpdate, at time.Time) (*model.Group, error) {
	set := bson.M{"updatedAt": at}
	for k, v := range update.SetFields() {
		set[k] = v
	}
	filter := bson.M{"_id": groupID, "members": adminElem(requester)}
	if guard := ageRangeGuard(update); len(guard) > 0 {
		filter["$and"] = guard
	}
	return d.conditional(ctx, filter, bson.M{"$set": set})
}

// ageRangeGuard 只改年龄一端时，要求库中另一端仍与新值构成合法区间
func ageRangeGuard(update *model.GroupUpdate) bson.A {
	var clauses bson.A
	if update.AgeFrom != nil && update.AgeTo == nil && *update.AgeFrom > 0 {
		clauses = append(clauses, bson.M{"$or": bson.A{
			bson.M{"trekDetails.ageTo": bson.M{"$in": bson.A{0, nil}}},
			bson.M{"trekDetails.ageTo": bson.M{"$gte": *update.AgeFrom}},
		}})
	}
	if update.AgeTo != nil && update.AgeFrom == nil && *update.AgeTo > 0 {
		clauses = append(clauses, bson.M{"$or": bson.A{
			bson.M{"trekDetails.ageFrom": bson.M{"$in": bson.A{0, nil}}},
			bson.M{"trekDetails.ageFrom": bson.M{"$lte": *update.AgeTo}},
		}})
	}
	return clauses
}

// AddMember 过滤条件重述入群前置条件：开放、未满、非成员、性别与年龄
func (d *groupDAO) AddMember(ctx context.Context, groupID primitive.ObjectID, user *userdir.Profile, at time.Time) (*model.Group, error) {
	filter := bson.M{
		"_id":          groupID,
		"isOpen":       true,
		"members.user": bson.M{"$ne": user.ID},
		"$expr": bson.M{"$lt": bson.A{
			bson.M{"$size": "$members"},
			bson.M{"$add": bson.A{"$trekDetails.groupSize", "$trekDetails.additionalMembers"}},
		}},
		"$and": eligibilityClauses(user),
	}
	update := bson.M{
		"$push": bson.M{"members": model.Member{User: user.ID, Role: model.RoleMember, JoinedAt: at}},
		"$set":  bson.M{"lastActivity": at, "updatedAt": at},
	}
	return d.conditional(ctx, filter, update)
}

// LeaveGroup 普通成员、另有管理员或只剩自己时才能退出
func (d *groupDAO) LeaveGroup(ctx context.Context, groupID, userID primitive.ObjectID, at time.Time) (*model.Group, error) {
	filter := bson.M{
		"_id":          groupID,
		"members.user": userID,
		"$or": bson.A{
			bson.M{"members": bson.M{"$elemMatch": bson.M{"user": userID, "role": model.RoleMember}}},
			bson.M{"members": bson.M{"$elemMatch": bson.M{"user": bson.M{"$ne": userID}, "role": model.RoleAdmin}}},
			bson.M{"members": bson.M{"$size": 1}},
		},
	}
	update := bson.M{
		"$pull": bson.M{"members": bson.M{"user": userID}},
		"$set":  bson.M{"lastActivity": at, "updatedAt": at},
	}
	return d.conditional(ctx, filter, update)
}

// PromoteMember 请求者是管理员且目标仍是普通成员
func (d *groupDAO) PromoteMember(ctx context.Context, groupID, requester, target primitive.ObjectID, at time.Time) (*model.Group, error) {
	filter := bson.M{
		"_id": groupID,
		"$and": bson.A{
			bson.M{"members": adminElem(requester)},
			bson.M{"members": plainMemberElem(target)},
		},
	}
	update := bson.M{"$set": bson.M{"members.$[target].role": model.RoleAdmin, "updatedAt": at}}
	opts := options.FindOneAndUpdate().
		SetArrayFilters(options.ArrayFilters{Filters: []interface{}{bson.M{"target.user": target}}})
	return d.conditional(ctx, filter, update, opts)
}

// RemoveMember 请求者是管理员且目标是普通成员
func (d *groupDAO) RemoveMember(ctx context.Context, groupID, requester, target primitive.ObjectID, at time.Time) (*model.Group, error) {
	filter := bson.M{
		"_id": groupID,
		"$and": bson.A{
			bson.M{"members": adminElem(requester)},
			bson.M{"members": plainMemberElem(target)},
		},
	}
	update := bson.M{
		"$pull": bson.M{"members": bson.M{"user": target}},
		"$set":  bson.M{"lastActivity": at, "updatedAt": at},
	}
	return d.conditional(ctx, filter, update)
}

// RestoreMember 按原角色和入群时间放回，已存在时不重复插入
func (d *groupDAO) RestoreMember(ctx context.Context, groupID primitive.ObjectID, member model.Member) error {
	_, err := d.groups.UpdateOne(ctx,
		bson.M{"_id": groupID, "members.user": bson.M{"$ne": member.User}},
		bson.M{"$push": bson.M{"members": member}},
	)
	if err != nil {
		return fmt.Errorf("failed to restore member: %w", err)
	}
	return nil
}

// PullMember 无条件移除成员
func (d *groupDAO) PullMember(ctx context.Context, groupID, userID primitive.ObjectID) error {
	_, err := d.groups.UpdateOne(ctx,
		bson.M{"_id": groupID},
		bson.M{"$pull": bson.M{"members": bson.M{"user": userID}}},
	)
	if err != nil {
		return fmt.Errorf("failed to pull member: %w", err)
	}
	return nil
}

// PinMessage 置顶集合使用 $addToSet
func (d *groupDAO) PinMessage(ctx context.Context, groupID, requester, messageID primitive.ObjectID, at time.Time) (*model.Group, error) {
	return d.conditional(ctx,
		bson.M{"_id": groupID, "members": adminElem(requester)},
		bson.M{"$addToSet": bson.M{"pinned": messageID}, "$set": bson.M{"updatedAt": at}},
	)
}

// UnpinMessage 取消置顶
func (d *groupDAO) UnpinMessage(ctx context.Context, groupID, requester, messageID primitive.ObjectID, at time.Time) (*model.Group, error) {
	return d.conditional(ctx,
		bson.M{"_id": groupID, "members": adminElem(requester)},
		bson.M{"$pull": bson.M{"pinned": messageID}, "$set": bson.M{"updatedAt": at}},
	)
}

// conditional 条件更新并返回更新后的文档，未命中返回 ErrConditionFailed
func (d *groupDAO) conditional(ctx context.Context, filter, update bson.M, extra ...*options.FindOneAndUpdateOptions) (*model.Group, error) {
	opts := append([]*options.FindOneAndUpdateOptions{options.FindOneAndUpdate().SetReturnDocument(options.After)}, extra...)
	var group model.Group
	err := d.groups.FindOneAndUpdate(ctx, filter, update, opts...).Decode(&group)
	if database.IsNotFound(err) {
		return nil, ErrConditionFailed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update group: %w", err)
	}
	return &group, nil
}

func (d *groupDAO) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Group, error) {
	cursor, err := d.groups.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find groups: %w", err)
	}
	defer cursor.Close(ctx)

	groups := make([]*model.Group, 0)
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("failed to decode groups: %w", err)
	}
	return groups, nil
}

func adminElem(userID primitive.ObjectID) bson.M {
	return bson.M{"$elemMatch": bson.M{"user": userID, "role": model.RoleAdmin}}
}

func plainMemberElem(userID primitive.ObjectID) bson.M {
	return bson.M{"$elemMatch": bson.M{"user": userID, "role": model.RoleMember}}
}

// eligibilityClauses 性别偏好与年龄范围，与 model.Group.CheckEligibility 一致
func eligibilityClauses(user *userdir.Profile) bson.A {
	gender := bson.A{
		bson.M{"trekDetails.genderPreference": bson.M{"$in": bson.A{"", model.GenderAny, nil}}},
	}
	if user.Gender != "" {
		gender = append(gender, bson.M{"trekDetails.genderPreference": primitive.Regex{
			Pattern: "^" + regexp.QuoteMeta(user.Gender) + "$",
			Options: "i",
		}})
	}
	clauses := bson.A{bson.M{"$or": gender}}

	if user.Age > 0 {
		clauses = append(clauses, bson.M{"$or": bson.A{
			bson.M{"trekDetails.ageFrom": bson.M{"$in": bson.A{0, nil}}},
			bson.M{"trekDetails.ageTo": bson.M{"$in": bson.A{0, nil}}},
			bson.M{
				"trekDetails.ageFrom": bson.M{"$lte": user.Age},
				"trekDetails.ageTo":   bson.M{"$gte": user.Age},
			},
		}})
	}
	return clauses
}
