// Package repository defines the persistence contracts the services depend
// on. The MongoDB implementation lives in package database; an in-memory
// implementation for tests lives in repository/memory.
package repository

import (
	"context"
	"errors"
	"time"

	"genify/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert or upsert violates a unique index.
var ErrDuplicate = errors.New("duplicate key")

type SubscriptionUpdate struct {
	Status         *models.SubscriptionStatus
	SubscriptionID *string
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByReferralCode(ctx context.Context, code string) (*models.User, error)
	FindByStripeCustomer(ctx context.Context, customerID string) (*models.User, error)
	// FindByVerificationToken only matches tokens that expire after now.
	FindByVerificationToken(ctx context.Context, token string, now time.Time) (*models.User, error)
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error)

	SetVerificationToken(ctx context.Context, id primitive.ObjectID, token string, expires time.Time) error
	MarkVerified(ctx context.Context, id primitive.ObjectID) error
	SetReferralCode(ctx context.Context, id primitive.ObjectID, code string) error
	// SetReferredBy links id to referrer only if id has no referrer yet.
	SetReferredBy(ctx context.Context, id, referrer primitive.ObjectID) (bool, error)
	SetStripeCustomer(ctx context.Context, id primitive.ObjectID, customerID string) error
	UpdateSubscription(ctx context.Context, id primitive.ObjectID, upd SubscriptionUpdate) error
	// ExpireTrial flips a trialing user whose trial ended before now to expired.
	ExpireTrial(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error)
	ExpireTrials(ctx context.Context, now time.Time) (int64, error)
}

type AffiliateRepository interface {
	FindByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Affiliate, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// InsertIfAbsent creates the ledger unless one exists for its user.
	// created is false when another ledger already existed.
	InsertIfAbsent(ctx context.Context, a *models.Affiliate) (created bool, err error)
	// AppendClick adds the click unless the same ipHash clicked at or after since.
	AppendClick(ctx context.Context, userID primitive.ObjectID, click models.AffiliateClick, since time.Time) (bool, error)
	// AppendReferral adds the referral unless one exists for the referred user.
	AppendReferral(ctx context.Context, userID primitive.ObjectID, ref models.AffiliateReferral) (bool, error)
	// ConvertReferral converts the first unconverted referral for referredUserID
	// and credits commission to totalEarned and pendingBalance.
	ConvertReferral(ctx context.Context, userID, referredUserID primitive.ObjectID, commission models.Money, at time.Time) (bool, error)
	// ClaimPending zeroes pendingBalance when it is at least minimum and
	// returns the amount that was pending.
	ClaimPending(ctx context.Context, userID primitive.ObjectID, minimum models.Money) (models.Money, bool, error)
	AddPaid(ctx context.Context, userID primitive.ObjectID, amount models.Money) error
	// List returns every ledger, highest totalEarned first, without clicks.
	List(ctx context.Context) ([]models.Affiliate, error)
}

type PayoutRepository interface {
	Insert(ctx context.Context, p *models.PayoutRequest) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.PayoutRequest, error)
	ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.PayoutRequest, error)
	// ListByStatus returns requests in the given states, oldest first. No
	// states means all requests.
	ListByStatus(ctx context.Context, statuses ...models.PayoutStatus) ([]models.PayoutRequest, error)
	// Transition moves a request whose status is one of from to next and
	// returns the updated request. ErrNotFound when nothing matched.
	Transition(ctx context.Context, id primitive.ObjectID, from []models.PayoutStatus, next models.PayoutStatus, adminID primitive.ObjectID, notes *string, at time.Time) (*models.PayoutRequest, error)
}

type PushRepository interface {
	Upsert(ctx context.Context, sub *models.PushSubscription) error
	FindByUser(ctx context.Context, userID primitive.ObjectID) (*models.PushSubscription, error)
	DeleteByUser(ctx context.Context, userID primitive.ObjectID) error
}

// Transactor runs fn as one atomic unit. Repository calls made with the
// context handed to fn take part in the transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
