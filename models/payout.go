package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"
	PayoutApproved PayoutStatus = "approved"
	PayoutRejected PayoutStatus = "rejected"
	PayoutPaid     PayoutStatus = "paid"
)

func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutPending, PayoutApproved, PayoutRejected, PayoutPaid:
		return true
	}
	return false
}

// CanTransition reports whether an admin may move a request from s to next.
// Rejected and paid requests are final.
func (s PayoutStatus) CanTransition(next PayoutStatus) bool {
	switch s {
	case PayoutPending:
		return next == PayoutApproved || next == PayoutRejected || next == PayoutPaid
	case PayoutApproved:
		return next == PayoutPaid
	}
	return false
}

type PayoutRequest struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID        primitive.ObjectID  `bson:"userId" json:"userId"`
	Amount        Money               `bson:"amount" json:"amount"`
	Status        PayoutStatus        `bson:"status" json:"status"`
	FullName      string              `bson:"fullName" json:"fullName"`
	SortCode      string              `bson:"sortCode" json:"sortCode"`
	AccountNumber string              `bson:"accountNumber" json:"accountNumber"`
	Notes         *string             `bson:"notes" json:"notes"`
	ProcessedAt   *time.Time          `bson:"processedAt" json:"processedAt"`
	ProcessedBy   *primitive.ObjectID `bson:"processedBy" json:"processedBy"`
	CreatedAt     time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time           `bson:"updatedAt" json:"updatedAt"`

	// Populated for admin listings only.
	User *PayoutUser `bson:"-" json:"user,omitempty"`
}

type PayoutUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PushSubscription is a browser Web Push endpoint, one per user.
type PushSubscription struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	Endpoint  string             `bson:"endpoint" json:"endpoint"`
	P256dh    string             `bson:"p256dh" json:"-"`
	Auth      string             `bson:"auth" json:"-"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}
