package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"genify/repository"
)

// DB owns the Mongo client and the collections the app uses. It is built
// once in main and passed to whatever needs it.
type DB struct {
	Client     *mongo.Client
	Users      *mongo.Collection
	Affiliates *mongo.Collection
	Payouts    *mongo.Collection
	PushSubs   *mongo.Collection

	transactions bool
	log          *zap.Logger
}

type Options struct {
	URI          string
	Database     string
	Transactions bool
	Attempts     int
}

// Connect dials MongoDB, retrying a few times since the database may still
// be starting, and pings it before returning.
func Connect(ctx context.Context, opts Options, log *zap.Logger) (*DB, error) {
	if opts.URI == "" {
		log.Warn("MONGODB_URI not set, using default localhost")
		opts.URI = "mongodb://127.0.0.1:27017"
	}
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}

	var client *mongo.Client
	var err error
	for i := 1; i <= opts.Attempts; i++ {
		client, err = dial(ctx, opts.URI)
		if err == nil {
			break
		}
		log.Warn("mongodb connection attempt failed", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	db := client.Database(opts.Database)
	log.Info("connected to mongodb", zap.String("database", opts.Database))
	return &DB{
		Client:       client,
		Users:        db.Collection("users"),
		Affiliates:   db.Collection("affiliates"),
		Payouts:      db.Collection("payout_requests"),
		PushSubs:     db.Collection("push_subscriptions"),
		transactions: opts.Transactions,
		log:          log,
	}, nil
}

func dial(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the unique and lookup indexes every collection
// relies on. Safe to run on every start.
func (d *DB) EnsureIndexes(ctx context.Context) error {
	specs := map[*mongo.Collection][]mongo.IndexModel{
		d.Users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "referralCode", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "stripeCustomerId", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "verificationToken", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "subscriptionStatus", Value: 1}, {Key: "trialEndDate", Value: 1}}},
		},
		d.Affiliates: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "affiliateCode", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		d.Payouts: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		d.PushSubs: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for coll, idx := range specs {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// WithTransaction runs fn inside a Mongo transaction. Transactions need a
// replica set; with transactions disabled fn runs directly.
func (d *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !d.transactions {
		return fn(ctx)
	}
	sess, err := d.Client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (d *DB) Ping(ctx context.Context) error {
	return d.Client.Ping(ctx, nil)
}

func (d *DB) Disconnect(ctx context.Context) error {
	if d == nil || d.Client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := d.Client.Disconnect(ctx); err != nil {
		return err
	}
	d.log.Info("disconnected from mongodb")
	return nil
}

// mapErr converts driver errors into repository sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return repository.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", repository.ErrDuplicate, err)
	}
	return err
}

var _ repository.Transactor = (*DB)(nil)
