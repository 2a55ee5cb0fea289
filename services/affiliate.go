// Package services holds the business rules: affiliate attribution, payout
// lifecycle, auth, billing and the humanizer client.
package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"genify/events"
	"genify/models"
	"genify/monitoring"
	"genify/repository"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	codeLength   = 6
	// attempts at finding an unused code, and at winning the ledger insert
	codeAttempts = 5
)

// Programme is the set of affiliate constants the services enforce.
type Programme struct {
	Commission       models.Money
	MinimumPayout    models.Money
	ClickDedupWindow time.Duration
	// ReferralBaseURL prefixes "/ref/<code>" in links shown to affiliates.
	ReferralBaseURL string
}

type AffiliateService struct {
	users      repository.UserRepository
	affiliates repository.AffiliateRepository
	events     events.Publisher
	programme  Programme
	log        *zap.Logger

	now     func() time.Time
	newCode func() (string, error)
}

func NewAffiliateService(users repository.UserRepository, affiliates repository.AffiliateRepository, pub events.Publisher, programme Programme, log *zap.Logger) *AffiliateService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &AffiliateService{
		users:      users,
		affiliates: affiliates,
		events:     pub,
		programme:  programme,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		newCode:    GenerateCode,
	}
}

func (s *AffiliateService) Programme() Programme { return s.programme }

// GenerateCode returns a random 6 character code from a URL-safe alphabet.
func GenerateCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])&63]
	}
	return string(b), nil
}

// HashIP returns the hex sha256 of a client address.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

func (s *AffiliateService) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate affiliate code: %w", err)
		}
		taken, err := s.affiliates.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check affiliate code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("no unused affiliate code found")
}

// GetOrCreate returns the user's ledger, creating it on first access.
// Concurrent first calls converge on one ledger.
func (s *AffiliateService) GetOrCreate(ctx context.Context, userID primitive.ObjectID) (*models.Affiliate, error) {
	a, err := s.affiliates.FindByUserID(ctx, userID)
	if err == nil {
		s.syncCode(ctx, a)
		return a, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find affiliate ledger: %w", err)
	}

	var lastErr error
	for i := 0; i < codeAttempts; i++ {
		code, err := s.uniqueCode(ctx)
		if err != nil {
			return nil, err
		}
		created, err := s.affiliates.InsertIfAbsent(ctx, &models.Affiliate{
			UserID:        userID,
			AffiliateCode: code,
			Referrals:     []models.AffiliateReferral{},
			Clicks:        []models.AffiliateClick{},
		})
		if err != nil {
			if !errors.Is(err, repository.ErrDuplicate) {
				return nil, fmt.Errorf("create affiliate ledger: %w", err)
			}
			// Lost a race: either on userId (ledger exists now) or on the code.
			lastErr = err
			if a, rerr := s.affiliates.FindByUserID(ctx, userID); rerr == nil {
				s.syncCode(ctx, a)
				return a, nil
			}
			continue
		}
		if !created {
			s.log.Debug("affiliate ledger created concurrently", zap.String("userId", userID.Hex()))
		}
		a, err := s.affiliates.FindByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read affiliate ledger: %w", err)
		}
		s.syncCode(ctx, a)
		return a, nil
	}
	return nil, fmt.Errorf("create affiliate ledger: %w", lastErr)
}

// syncCode copies the ledger's code onto the user so referral links resolve.
// A failed write is retried on the next GetOrCreate.
func (s *AffiliateService) syncCode(ctx context.Context, a *models.Affiliate) {
	u, err := s.users.FindByID(ctx, a.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("read user for referral code", zap.String("userId", a.UserID.Hex()), zap.Error(err))
		}
		return
	}
	if u.ReferralCode != nil && *u.ReferralCode == a.AffiliateCode {
		return
	}
	if err := s.users.SetReferralCode(ctx, a.UserID, a.AffiliateCode); err != nil {
		s.log.Warn("save referral code on user", zap.String("userId", a.UserID.Hex()), zap.Error(err))
	}
}

// resolve maps a referral code to its owner. nil when the code is unknown.
func (s *AffiliateService) resolve(ctx context.Context, code string) (*models.User, error) {
	if code == "" {
		return nil, nil
	}
	u, err := s.users.FindByReferralCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve referral code: %w", err)
	}
	return u, nil
}

// TrackClick records a visit through a referral link. It reports false for
// an unknown code. A repeat visit from the same address inside the dedup
// window reports true without counting again.
func (s *AffiliateService) TrackClick(ctx context.Context, code, sourceIP, userAgent string, geo *models.Geo) (bool, error) {
	referrer, err := s.resolve(ctx, code)
	if err != nil {
		return false, err
	}
	if referrer == nil {
		monitoring.AffiliateEvents.WithLabelValues(string(events.ClickTracked), monitoring.OutcomeUnknown).Inc()
		return false, nil
	}
	if _, err := s.GetOrCreate(ctx, referrer.ID); err != nil {
		return false, err
	}

	now := s.now()
	click := models.AffiliateClick{
		IPHash:    HashIP(sourceIP),
		UserAgent: userAgent,
		Timestamp: now,
	}
	if geo != nil {
		click.Country, click.City = geo.Country, geo.City
	}
	appended, err := s.affiliates.AppendClick(ctx, referrer.ID, click, now.Add(-s.programme.ClickDedupWindow))
	if err != nil {
		return false, fmt.Errorf("append click: %w", err)
	}
	if !appended {
		monitoring.AffiliateEvents.WithLabelValues(string(events.ClickTracked), monitoring.OutcomeDuplicate).Inc()
		return true, nil
	}
	monitoring.AffiliateEvents.WithLabelValues(string(events.ClickTracked), monitoring.OutcomeRecorded).Inc()
	s.publish(ctx, events.Event{Kind: events.ClickTracked, UserID: referrer.ID.Hex(), At: now})
	return true, nil
}

// TrackReferralSignup credits a new user's registration to the owner of
// code. Calling it again for the same user changes nothing.
func (s *AffiliateService) TrackReferralSignup(ctx context.Context, code string, newUserID primitive.ObjectID) (bool, error) {
	referrer, err := s.resolve(ctx, code)
	if err != nil {
		return false, err
	}
	if referrer == nil {
		monitoring.AffiliateEvents.WithLabelValues(string(events.ReferralSignup), monitoring.OutcomeUnknown).Inc()
		return false, nil
	}
	if referrer.ID == newUserID {
		return false, nil
	}

	if _, err := s.GetOrCreate(ctx, referrer.ID); err != nil {
		return false, err
	}
	linked, err := s.users.SetReferredBy(ctx, newUserID, referrer.ID)
	if err != nil {
		return false, fmt.Errorf("set referred by: %w", err)
	}
	if !linked {
		// The first referrer keeps the user. A repeat call for the same
		// referrer falls through so a half-finished earlier call completes.
		u, err := s.users.FindByID(ctx, newUserID)
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("find referred user: %w", err)
		}
		if u.ReferredBy == nil || *u.ReferredBy != referrer.ID {
			monitoring.AffiliateEvents.WithLabelValues(string(events.ReferralSignup), monitoring.OutcomeDuplicate).Inc()
			return false, nil
		}
	}

	now := s.now()
	appended, err := s.affiliates.AppendReferral(ctx, referrer.ID, models.AffiliateReferral{
		ReferredUserID: newUserID,
		SignupDate:     now,
	})
	if err != nil {
		return false, fmt.Errorf("append referral: %w", err)
	}
	if !appended {
		monitoring.AffiliateEvents.WithLabelValues(string(events.ReferralSignup), monitoring.OutcomeDuplicate).Inc()
		return true, nil
	}
	monitoring.AffiliateEvents.WithLabelValues(string(events.ReferralSignup), monitoring.OutcomeRecorded).Inc()
	s.publish(ctx, events.Event{Kind: events.ReferralSignup, UserID: referrer.ID.Hex(), At: now})
	return true, nil
}

// TrackReferralConversion credits the referrer of referredUserID with one
// commission. Repeat calls for an already converted referral are no-ops.
func (s *AffiliateService) TrackReferralConversion(ctx context.Context, referredUserID primitive.ObjectID) (bool, error) {
	u, err := s.users.FindByID(ctx, referredUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find referred user: %w", err)
	}
	if u.ReferredBy == nil {
		return false, nil
	}

	now := s.now()
	converted, err := s.affiliates.ConvertReferral(ctx, *u.ReferredBy, referredUserID, s.programme.Commission, now)
	if err != nil {
		return false, fmt.Errorf("convert referral: %w", err)
	}
	if !converted {
		monitoring.AffiliateEvents.WithLabelValues(string(events.ReferralConverted), monitoring.OutcomeDuplicate).Inc()
		return false, nil
	}
	monitoring.AffiliateEvents.WithLabelValues(string(events.ReferralConverted), monitoring.OutcomeRecorded).Inc()
	monitoring.CommissionPence.Add(float64(s.programme.Commission))
	s.log.Info("referral converted",
		zap.String("affiliateId", u.ReferredBy.Hex()),
		zap.String("referredUserId", referredUserID.Hex()),
		zap.Stringer("commission", s.programme.Commission))
	s.publish(ctx, events.Event{
		Kind:   events.ReferralConverted,
		UserID: u.ReferredBy.Hex(),
		Amount: s.programme.Commission,
		At:     now,
	})
	return true, nil
}

// IsEligibleForPayout is true when the user has a ledger whose pending
// balance reaches the minimum payout.
func (s *AffiliateService) IsEligibleForPayout(ctx context.Context, userID primitive.ObjectID) (bool, error) {
	a, err := s.affiliates.FindByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find affiliate ledger: %w", err)
	}
	return a.PendingBalance >= s.programme.MinimumPayout, nil
}

// Stats returns the user's dashboard view, creating the ledger if needed.
func (s *AffiliateService) Stats(ctx context.Context, userID primitive.ObjectID) (*models.AffiliateStats, error) {
	a, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.AffiliateStats{
		AffiliateCode:       a.AffiliateCode,
		ReferralLink:        s.ReferralLink(a.AffiliateCode),
		TotalReferrals:      a.TotalReferrals,
		TotalConversions:    a.TotalConversions,
		TotalClicks:         a.TotalClicks,
		ClickToSignupRate:   a.ClickToSignupRate,
		TotalEarned:         a.TotalEarned,
		PendingBalance:      a.PendingBalance,
		PaidBalance:         a.PaidBalance,
		IsEligibleForPayout: a.PendingBalance >= s.programme.MinimumPayout,
		MinimumPayout:       s.programme.MinimumPayout,
	}, nil
}

func (s *AffiliateService) ReferralLink(code string) string {
	return s.programme.ReferralBaseURL + "/ref/" + code
}

// AdminStats rolls up every ledger. Ledgers come back highest earners first.
func (s *AffiliateService) AdminStats(ctx context.Context) (*models.AdminAffiliateStats, error) {
	ledgers, err := s.affiliates.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list affiliates: %w", err)
	}

	ids := make([]primitive.ObjectID, 0, len(ledgers))
	for _, a := range ledgers {
		ids = append(ids, a.UserID)
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load affiliate users: %w", err)
	}

	out := &models.AdminAffiliateStats{
		TotalAffiliates: len(ledgers),
		Affiliates:      make([]models.AffiliateSummary, 0, len(ledgers)),
	}
	for _, a := range ledgers {
		out.TotalClicks += a.TotalClicks
		out.TotalReferrals += a.TotalReferrals
		out.TotalConversions += a.TotalConversions
		out.TotalEarned += a.TotalEarned
		out.TotalPendingBalance += a.PendingBalance
		out.TotalPaidBalance += a.PaidBalance

		row := models.AffiliateSummary{
			UserID:            a.UserID.Hex(),
			AffiliateCode:     a.AffiliateCode,
			TotalReferrals:    a.TotalReferrals,
			TotalClicks:       a.TotalClicks,
			TotalConversions:  a.TotalConversions,
			ClickToSignupRate: a.ClickToSignupRate,
			ConversionRate:    models.ConversionRate(a.TotalConversions, a.TotalReferrals),
			TotalEarned:       a.TotalEarned,
			PendingBalance:    a.PendingBalance,
			PaidBalance:       a.PaidBalance,
		}
		if u, ok := users[a.UserID]; ok {
			row.Name, row.Email = u.Name, u.Email
		}
		out.Affiliates = append(out.Affiliates, row)
	}
	out.OverallClickToSignupRate = models.SignupRate(out.TotalReferrals, out.TotalClicks)
	out.ConversionRate = models.ConversionRate(out.TotalConversions, out.TotalReferrals)
	return out, nil
}

func (s *AffiliateService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish affiliate event", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
