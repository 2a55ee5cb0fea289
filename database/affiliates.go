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

type AffiliateRepo struct{ coll *mongo.Collection }

func NewAffiliateRepo(db *DB) *AffiliateRepo { return &AffiliateRepo{coll: db.Affiliates} }

var _ repository.AffiliateRepository = (*AffiliateRepo)(nil)

// rateStage recomputes clickToSignupRate from the counters as they stand
// after the preceding pipeline stages.
var rateStage = bson.M{"$set": bson.M{
	"clickToSignupRate": bson.M{"$cond": bson.A{
		bson.M{"$gt": bson.A{"$totalClicks", 0}},
		bson.M{"$multiply": bson.A{bson.M{"$divide": bson.A{"$totalReferrals", "$totalClicks"}}, 100}},
		0,
	}},
}}

func (r *AffiliateRepo) FindByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Affiliate, error) {
	var a models.Affiliate
	if err := r.coll.FindOne(ctx, bson.M{"userId": userID}).Decode(&a); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *AffiliateRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"affiliateCode": code}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *AffiliateRepo) InsertIfAbsent(ctx context.Context, a *models.Affiliate) (bool, error) {
	now := time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"userId": a.UserID},
		bson.M{"$setOnInsert": bson.M{
			"userId":            a.UserID,
			"affiliateCode":     a.AffiliateCode,
			"totalClicks":       0,
			"totalReferrals":    0,
			"totalConversions":  0,
			"clickToSignupRate": 0,
			"totalEarned":       models.Money(0),
			"pendingBalance":    models.Money(0),
			"paidBalance":       models.Money(0),
			"referrals":         bson.A{},
			"clicks":            bson.A{},
			"createdAt":         now,
			"updatedAt":         now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, mapErr(err)
	}
	return res.UpsertedCount == 1, nil
}

// clickFilter matches the ledger only when no click from the same IP hash
// landed at or after since.
func clickFilter(userID primitive.ObjectID, click models.AffiliateClick, since time.Time) bson.M {
	return bson.M{
		"userId": userID,
		"clicks": bson.M{"$not": bson.M{"$elemMatch": bson.M{
			"ipHash":    click.IPHash,
			"timestamp": bson.M{"$gte": since},
		}}},
	}
}

func clickUpdate(click models.AffiliateClick, now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"clicks":      bson.M{"$concatArrays": bson.A{bson.M{"$ifNull": bson.A{"$clicks", bson.A{}}}, bson.A{bson.M{"$literal": click}}}},
			"totalClicks": bson.M{"$add": bson.A{"$totalClicks", 1}},
			"updatedAt":   now,
		}}},
		toD(rateStage),
	}
}

func (r *AffiliateRepo) AppendClick(ctx context.Context, userID primitive.ObjectID, click models.AffiliateClick, since time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, clickFilter(userID, click, since), clickUpdate(click, time.Now().UTC()))
	if err != nil {
		return false, mapErr(err)
	}
	return res.ModifiedCount == 1, nil
}

func referralFilter(userID, referredUserID primitive.ObjectID) bson.M {
	return bson.M{
		"userId":                   userID,
		"referrals.referredUserId": bson.M{"$ne": referredUserID},
	}
}

func referralUpdate(ref models.AffiliateReferral, now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"referrals":      bson.M{"$concatArrays": bson.A{bson.M{"$ifNull": bson.A{"$referrals", bson.A{}}}, bson.A{bson.M{"$literal": ref}}}},
			"totalReferrals": bson.M{"$add": bson.A{"$totalReferrals", 1}},
			"updatedAt":      now,
		}}},
		toD(rateStage),
	}
}

func (r *AffiliateRepo) AppendReferral(ctx context.Context, userID primitive.ObjectID, ref models.AffiliateReferral) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, referralFilter(userID, ref.ReferredUserID), referralUpdate(ref, time.Now().UTC()))
	if err != nil {
		return false, mapErr(err)
	}
	return res.ModifiedCount == 1, nil
}

// convertFilter matches only an unconverted referral of referredUserID. The
// positional $ in convertUpdate targets that element, so a referral that is
// already converted can never be credited twice.
func convertFilter(userID, referredUserID primitive.ObjectID) bson.M {
	return bson.M{
		"userId": userID,
		"referrals": bson.M{"$elemMatch": bson.M{
			"referredUserId": referredUserID,
			"isConverted":    false,
		}},
	}
}

func convertUpdate(commission models.Money, at time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"referrals.$.isConverted":    true,
			"referrals.$.conversionDate": at,
			"referrals.$.commission":     commission,
			"updatedAt":                  at,
		},
		"$inc": bson.M{
			"totalConversions": 1,
			"totalEarned":      commission,
			"pendingBalance":   commission,
		},
	}
}

func (r *AffiliateRepo) ConvertReferral(ctx context.Context, userID, referredUserID primitive.ObjectID, commission models.Money, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, convertFilter(userID, referredUserID), convertUpdate(commission, at))
	if err != nil {
		return false, mapErr(err)
	}
	return res.ModifiedCount == 1, nil
}

func claimFilter(userID primitive.ObjectID, minimum models.Money) bson.M {
	return bson.M{"userId": userID, "pendingBalance": bson.M{"$gte": minimum}}
}

func claimUpdate(now time.Time) bson.M {
	return bson.M{"$set": bson.M{"pendingBalance": models.Money(0), "updatedAt": now}}
}

// ClaimPending zeroes the pending balance in one step and reports what it held.
func (r *AffiliateRepo) ClaimPending(ctx context.Context, userID primitive.ObjectID, minimum models.Money) (models.Money, bool, error) {
	var before models.Affiliate
	err := r.coll.FindOneAndUpdate(ctx,
		claimFilter(userID, minimum),
		claimUpdate(time.Now().UTC()),
		options.FindOneAndUpdate().
			SetReturnDocument(options.Before).
			SetProjection(bson.M{"pendingBalance": 1}),
	).Decode(&before)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, mapErr(err)
	}
	return before.PendingBalance, true, nil
}

func (r *AffiliateRepo) AddPaid(ctx context.Context, userID primitive.ObjectID, amount models.Money) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{
			"$inc": bson.M{"paidBalance": amount},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *AffiliateRepo) List(ctx context.Context) ([]models.Affiliate, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "totalEarned", Value: -1}}).
		SetProjection(bson.M{"clicks": 0})
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []models.Affiliate{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toD(m bson.M) bson.D {
	d := make(bson.D, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}
