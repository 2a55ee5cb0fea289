package database

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"genify/models"
	"genify/repository"
)

type UserRepo struct{ coll *mongo.Collection }

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{coll: db.Users} }

var _ repository.UserRepository = (*UserRepo)(nil)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	u.Email = normalizeEmail(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := r.coll.InsertOne(ctx, u)
	return mapErr(err)
}

func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := r.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r *UserRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": normalizeEmail(email)})
}

func (r *UserRepo) FindByReferralCode(ctx context.Context, code string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"referralCode": code})
}

func (r *UserRepo) FindByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"stripeCustomerId": customerID})
}

func (r *UserRepo) FindByVerificationToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	return r.findOne(ctx, bson.M{
		"verificationToken":        token,
		"verificationTokenExpires": bson.M{"$gt": now},
	})
}

func (r *UserRepo) FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error) {
	out := make(map[primitive.ObjectID]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

// set updates fields on one user and reports ErrNotFound when no user matched.
func (r *UserRepo) set(ctx context.Context, id primitive.ObjectID, fields bson.M) error {
	fields["updatedAt"] = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepo) SetVerificationToken(ctx context.Context, id primitive.ObjectID, token string, expires time.Time) error {
	return r.set(ctx, id, bson.M{"verificationToken": token, "verificationTokenExpires": expires})
}

func (r *UserRepo) MarkVerified(ctx context.Context, id primitive.ObjectID) error {
	return r.set(ctx, id, bson.M{"isVerified": true, "verificationToken": nil, "verificationTokenExpires": nil})
}

func (r *UserRepo) SetReferralCode(ctx context.Context, id primitive.ObjectID, code string) error {
	return r.set(ctx, id, bson.M{"referralCode": code})
}

func (r *UserRepo) SetReferredBy(ctx context.Context, id, referrer primitive.ObjectID) (bool, error) {
	if id == referrer {
		return false, nil
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "referredBy": nil},
		bson.M{"$set": bson.M{"referredBy": referrer, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, mapErr(err)
	}
	return res.ModifiedCount == 1, nil
}

func (r *UserRepo) SetStripeCustomer(ctx context.Context, id primitive.ObjectID, customerID string) error {
	return r.set(ctx, id, bson.M{"stripeCustomerId": customerID})
}

func (r *UserRepo) UpdateSubscription(ctx context.Context, id primitive.ObjectID, upd repository.SubscriptionUpdate) error {
	fields := bson.M{}
	if upd.Status != nil {
		fields["subscriptionStatus"] = *upd.Status
	}
	if upd.SubscriptionID != nil {
		fields["stripeSubscriptionId"] = *upd.SubscriptionID
	}
	return r.set(ctx, id, fields)
}

func trialOverFilter(now time.Time) bson.M {
	return bson.M{
		"subscriptionStatus": models.SubscriptionTrialing,
		"trialEndDate":       bson.M{"$lt": now},
	}
}

func expiredUpdate(now time.Time) bson.M {
	return bson.M{"$set": bson.M{"subscriptionStatus": models.SubscriptionExpired, "updatedAt": now}}
}

func (r *UserRepo) ExpireTrial(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	filter := trialOverFilter(now)
	filter["_id"] = id
	res, err := r.coll.UpdateOne(ctx, filter, expiredUpdate(now))
	if err != nil {
		return false, mapErr(err)
	}
	return res.ModifiedCount == 1, nil
}

func (r *UserRepo) ExpireTrials(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.coll.UpdateMany(ctx, trialOverFilter(now), expiredUpdate(now))
	if err != nil {
		return 0, mapErr(err)
	}
	return res.ModifiedCount, nil
}
