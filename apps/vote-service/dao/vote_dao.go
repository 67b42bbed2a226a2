package dao

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trekmate/apps/vote-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/database"
)

type voteDAO struct {
	db *database.MongoDB
}

// NewVoteDAO 帖子与评论共用，按 Target 选择集合
func NewVoteDAO(db *database.MongoDB) VoteDAO {
	return &voteDAO{db: db}
}

func (d *voteDAO) Get(ctx context.Context, target model.Target, id primitive.ObjectID) (*model.Votable, error) {
	var v model.Votable
	opts := options.FindOne().SetProjection(bson.M{"upvotes": 1, "downvotes": 1})
	err := d.db.GetCollection(target.Collection()).FindOne(ctx, bson.M{"_id": id}, opts).Decode(&v)
	if database.IsNotFound(err) {
		return nil, apperr.NotFound(target.NotFoundMessage())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s votes: %w", target, err)
	}
	return &v, nil
}

func (d *voteDAO) Apply(ctx context.Context, target model.Target, id, voter primitive.ObjectID, dir model.Direction, outcome model.Outcome) (bool, error) {
	filter, update, err := voteUpdate(id, voter, dir, outcome)
	if err != nil {
		return false, err
	}
	res, err := d.db.GetCollection(target.Collection()).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to apply %s %s: %w", target, dir, err)
	}
	return res.MatchedCount == 1, nil
}

// voteUpdate 条件过滤重述切换前的状态，更新用管道过滤数组，历史的对象与字符串形式一并移除
func voteUpdate(id, voter primitive.ObjectID, dir model.Direction, outcome model.Outcome) (bson.M, bson.A, error) {
	same, opposite := "upvotes", "downvotes"
	if dir == model.Down {
		same, opposite = "downvotes", "upvotes"
	}

	var conds bson.A
	set := bson.M{}
	switch outcome {
	case model.OutcomeRemoved:
		conds = bson.A{hasVoter(same, voter)}
		set[same] = withoutVoter(same, voter)
	case model.OutcomeChanged:
		conds = bson.A{lacksVoter(same, voter), hasVoter(opposite, voter)}
		set[opposite] = withoutVoter(opposite, voter)
		set[same] = withVoter(same, voter)
	case model.OutcomeAdded:
		conds = bson.A{lacksVoter(same, voter), lacksVoter(opposite, voter)}
		set[same] = withVoter(same, voter)
	default:
		return nil, nil, fmt.Errorf("unknown vote outcome %q", outcome)
	}
	return bson.M{"_id": id, "$and": conds}, bson.A{bson.M{"$set": set}}, nil
}

// voterIDs 存储中出现过的用户ID写法：ObjectID 与十六进制字符串
func voterIDs(voter primitive.ObjectID) bson.A {
	return bson.A{voter, voter.Hex()}
}

// hasVoter 元素本身或元素的 _id 字段等于该用户，对象形式可带其他字段
func hasVoter(field string, voter primitive.ObjectID) bson.M {
	ids := voterIDs(voter)
	return bson.M{"$or": bson.A{
		bson.M{field: bson.M{"$in": ids}},
		bson.M{field + "._id": bson.M{"$in": ids}},
	}}
}

func lacksVoter(field string, voter primitive.ObjectID) bson.M {
	ids := voterIDs(voter)
	return bson.M{
		field:          bson.M{"$nin": ids},
		field + "._id": bson.M{"$nin": ids},
	}
}

func withoutVoter(field string, voter primitive.ObjectID) bson.M {
	ids := voterIDs(voter)
	return bson.M{"$filter": bson.M{
		"input": bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}},
		"as":    "v",
		"cond": bson.M{"$not": bson.A{bson.M{"$or": bson.A{
			bson.M{"$in": bson.A{"$$v", ids}},
			bson.M{"$in": bson.A{bson.M{"$ifNull": bson.A{"$$v._id", nil}}, ids}},
		}}}},
	}}
}

func withVoter(field string, voter primitive.ObjectID) bson.M {
	return bson.M{"$concatArrays": bson.A{
		bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}},
		bson.A{voter},
	}}
}
