package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Affiliate is a user's affiliate ledger. Clicks and referrals live inside
// the ledger document and have no identity of their own.
type Affiliate struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID        primitive.ObjectID `bson:"userId" json:"userId"`
	AffiliateCode string             `bson:"affiliateCode" json:"affiliateCode"`

	TotalClicks       int64   `bson:"totalClicks" json:"totalClicks"`
	TotalReferrals    int64   `bson:"totalReferrals" json:"totalReferrals"`
	TotalConversions  int64   `bson:"totalConversions" json:"totalConversions"`
	ClickToSignupRate float64 `bson:"clickToSignupRate" json:"clickToSignupRate"`

	TotalEarned    Money `bson:"totalEarned" json:"totalEarned"`
	PendingBalance Money `bson:"pendingBalance" json:"pendingBalance"`
	PaidBalance    Money `bson:"paidBalance" json:"paidBalance"`

	Referrals []AffiliateReferral `bson:"referrals" json:"referrals"`
	Clicks    []AffiliateClick    `bson:"clicks" json:"-"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

type AffiliateReferral struct {
	ReferredUserID primitive.ObjectID `bson:"referredUserId" json:"referredUserId"`
	SignupDate     time.Time          `bson:"signupDate" json:"signupDate"`
	ConversionDate *time.Time         `bson:"conversionDate" json:"conversionDate"`
	IsConverted    bool               `bson:"isConverted" json:"isConverted"`
	Commission     Money              `bson:"commission" json:"commission"`
	IsPaid         bool               `bson:"isPaid" json:"isPaid"`
}

// AffiliateClick never holds the raw visitor address, only its hash.
type AffiliateClick struct {
	IPHash            string    `bson:"ipHash" json:"ipHash"`
	UserAgent         string    `bson:"userAgent" json:"userAgent"`
	Timestamp         time.Time `bson:"timestamp" json:"timestamp"`
	Country           string    `bson:"country,omitempty" json:"country,omitempty"`
	City              string    `bson:"city,omitempty" json:"city,omitempty"`
	ConvertedToSignup bool      `bson:"convertedToSignup" json:"convertedToSignup"`
}

// Geo is optional location data attached to a click.
type Geo struct {
	Country string
	City    string
}

// SignupRate returns totalReferrals / totalClicks * 100, or 0 with no clicks.
func SignupRate(referrals, clicks int64) float64 {
	if clicks <= 0 {
		return 0
	}
	return float64(referrals) / float64(clicks) * 100
}

// ConversionRate returns conversions / referrals * 100, or 0 with no referrals.
func ConversionRate(conversions, referrals int64) float64 {
	if referrals <= 0 {
		return 0
	}
	return float64(conversions) / float64(referrals) * 100
}

// AffiliateSummary is one row of the admin affiliate table.
type AffiliateSummary struct {
	UserID            string  `json:"userId"`
	Name              string  `json:"name"`
	Email             string  `json:"email"`
	AffiliateCode     string  `json:"affiliateCode"`
	TotalReferrals    int64   `json:"totalReferrals"`
	TotalClicks       int64   `json:"totalClicks"`
	TotalConversions  int64   `json:"totalConversions"`
	ClickToSignupRate float64 `json:"clickToSignupRate"`
	ConversionRate    float64 `json:"conversionRate"`
	TotalEarned       Money   `json:"totalEarned"`
	PendingBalance    Money   `json:"pendingBalance"`
	PaidBalance       Money   `json:"paidBalance"`
}

// AdminAffiliateStats is the programme-wide rollup.
type AdminAffiliateStats struct {
	TotalAffiliates          int                `json:"totalAffiliates"`
	TotalReferrals           int64              `json:"totalReferrals"`
	TotalClicks              int64              `json:"totalClicks"`
	TotalConversions         int64              `json:"totalConversions"`
	OverallClickToSignupRate float64            `json:"overallClickToSignupRate"`
	ConversionRate           float64            `json:"conversionRate"`
	TotalEarned              Money              `json:"totalEarned"`
	TotalPendingBalance      Money              `json:"totalPendingBalance"`
	TotalPaidBalance         Money              `json:"totalPaidBalance"`
	Affiliates               []AffiliateSummary `json:"affiliates"`
}

// AffiliateStats is what an affiliate sees on their own dashboard.
type AffiliateStats struct {
	AffiliateCode       string  `json:"affiliateCode"`
	ReferralLink        string  `json:"referralLink"`
	TotalReferrals      int64   `json:"totalReferrals"`
	TotalConversions    int64   `json:"totalConversions"`
	TotalClicks         int64   `json:"totalClicks"`
	ClickToSignupRate   float64 `json:"clickToSignupRate"`
	TotalEarned         Money   `json:"totalEarned"`
	PendingBalance      Money   `json:"pendingBalance"`
	PaidBalance         Money   `json:"paidBalance"`
	IsEligibleForPayout bool    `json:"isEligibleForPayout"`
	MinimumPayout       Money   `json:"minimumPayout"`
}
