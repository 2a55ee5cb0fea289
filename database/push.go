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

type PushRepo struct{ coll *mongo.Collection }

func NewPushRepo(db *DB) *PushRepo { return &PushRepo{coll: db.PushSubs} }

var _ repository.PushRepository = (*PushRepo)(nil)

// Upsert: update if exists, insert if not
func (r *PushRepo) Upsert(ctx context.Context, sub *models.PushSubscription) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"userId": sub.UserID},
		bson.M{
			"$set": bson.M{
				"endpoint": sub.Endpoint,
				"p256dh":   sub.P256dh,
				"auth":     sub.Auth,
			},
			"$setOnInsert": bson.M{"createdAt": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return mapErr(err)
}

func (r *PushRepo) FindByUser(ctx context.Context, userID primitive.ObjectID) (*models.PushSubscription, error) {
	var sub models.PushSubscription
	if err := r.coll.FindOne(ctx, bson.M{"userId": userID}).Decode(&sub); err != nil {
		return nil, mapErr(err)
	}
	return &sub, nil
}

func (r *PushRepo) DeleteByUser(ctx context.Context, userID primitive.ObjectID) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"userId": userID})
	return err
}
