package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SubscriptionStatus string

const (
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password" json:"-"`
	Name         string             `bson:"name" json:"name"`

	// Email verification. Regenerating a token overwrites the previous one.
	IsVerified               bool       `bson:"isVerified" json:"isVerified"`
	VerificationToken        *string    `bson:"verificationToken" json:"-"`
	VerificationTokenExpires *time.Time `bson:"verificationTokenExpires" json:"-"`

	TrialEndDate         *time.Time          `bson:"trialEndDate" json:"trialEndDate"`
	SubscriptionStatus   *SubscriptionStatus `bson:"subscriptionStatus" json:"subscriptionStatus"`
	StripeCustomerID     *string             `bson:"stripeCustomerId" json:"-"`
	StripeSubscriptionID *string             `bson:"stripeSubscriptionId" json:"-"`

	// Referral system
	ReferredBy   *primitive.ObjectID `bson:"referredBy" json:"referredBy,omitempty"`
	ReferralCode *string             `bson:"referralCode" json:"referralCode,omitempty"`

	IsAdmin   bool      `bson:"isAdmin" json:"isAdmin"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Status returns the subscription status, or "" when none was ever set.
func (u *User) Status() SubscriptionStatus {
	if u.SubscriptionStatus == nil {
		return ""
	}
	return *u.SubscriptionStatus
}

// TrialExpired reports whether a trialing user has passed their trial end.
func (u *User) TrialExpired(now time.Time) bool {
	return u.Status() == SubscriptionTrialing && u.TrialEndDate != nil && now.After(*u.TrialEndDate)
}

// HasAccess is true for an active subscriber or a user still inside their trial.
func (u *User) HasAccess(now time.Time) bool {
	switch u.Status() {
	case SubscriptionActive:
		return true
	case SubscriptionTrialing:
		return u.TrialEndDate != nil && now.Before(*u.TrialEndDate)
	}
	return false
}

// SafeUser is the public view of a user returned by the API.
type SafeUser struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Email              string              `json:"email"`
	IsVerified         bool                `json:"isVerified"`
	IsAdmin            bool                `json:"isAdmin"`
	TrialEndDate       *time.Time          `json:"trialEndDate"`
	SubscriptionStatus *SubscriptionStatus `json:"subscriptionStatus"`
	CreatedAt          time.Time           `json:"createdAt"`
}

func (u *User) Safe() SafeUser {
	return SafeUser{
		ID:                 u.ID.Hex(),
		Name:               u.Name,
		Email:              u.Email,
		IsVerified:         u.IsVerified,
		IsAdmin:            u.IsAdmin,
		TrialEndDate:       u.TrialEndDate,
		SubscriptionStatus: u.SubscriptionStatus,
		CreatedAt:          u.CreatedAt,
	}
}

func StatusPtr(s SubscriptionStatus) *SubscriptionStatus { return &s }
