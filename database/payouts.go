package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"genify/models"
	"genify/repository"
)

type PayoutRepo struct{ coll *mongo.Collection }

func NewPayoutRepo(db *DB) *PayoutRepo { return &PayoutRepo{coll: db.Payouts} }

var _ repository.PayoutRepository = (*PayoutRepo)(nil)

func (r *PayoutRepo) Insert(ctx context.Context, p *models.PayoutRequest) error {
	now := time.Now().UTC()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.coll.InsertOne(ctx, p)
	return mapErr(err)
}

func (r *PayoutRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.PayoutRequest, error) {
	var p models.PayoutRequest
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *PayoutRepo) find(ctx context.Context, filter bson.M, sort int) ([]models.PayoutRequest, error) {
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: sort}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []models.PayoutRequest{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PayoutRepo) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.PayoutRequest, error) {
	return r.find(ctx, bson.M{"userId": userID}, -1)
}

func (r *PayoutRepo) ListByStatus(ctx context.Context, statuses ...models.PayoutStatus) ([]models.PayoutRequest, error) {
	filter := bson.M{}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	return r.find(ctx, filter, 1)
}

// transitionSet stamps the deciding admin on every transition, including
// approved to paid. Notes are left alone when none are given.
func transitionSet(next models.PayoutStatus, adminID primitive.ObjectID, notes *string, at time.Time) bson.M {
	set := bson.M{
		"status":      next,
		"processedAt": at,
		"processedBy": adminID,
		"updatedAt":   at,
	}
	if notes != nil {
		set["notes"] = *notes
	}
	return set
}

func (r *PayoutRepo) Transition(ctx context.Context, id primitive.ObjectID, from []models.PayoutStatus, next models.PayoutStatus, adminID primitive.ObjectID, notes *string, at time.Time) (*models.PayoutRequest, error) {
	var p models.PayoutRequest
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": transitionSet(next, adminID, notes, at)},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}
