// Package memory is an in-process implementation of the repository
// contracts. It mirrors the conditional-update semantics of the Mongo
// repositories and is used by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"genify/models"
	"genify/repository"
)

type state struct {
	users      map[primitive.ObjectID]*models.User
	affiliates map[primitive.ObjectID]*models.Affiliate // keyed by userId
	payouts    map[primitive.ObjectID]*models.PayoutRequest
	push       map[primitive.ObjectID]*models.PushSubscription
}

func newState() *state {
	return &state{
		users:      map[primitive.ObjectID]*models.User{},
		affiliates: map[primitive.ObjectID]*models.Affiliate{},
		payouts:    map[primitive.ObjectID]*models.PayoutRequest{},
		push:       map[primitive.ObjectID]*models.PushSubscription{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = copyUser(v)
	}
	for k, v := range s.affiliates {
		c.affiliates[k] = copyAffiliate(v)
	}
	for k, v := range s.payouts {
		p := *v
		c.payouts[k] = &p
	}
	for k, v := range s.push {
		p := *v
		c.push[k] = &p
	}
	return c
}

// Store bundles the repositories over one shared dataset.
type Store struct {
	mu sync.Mutex
	st *state

	Users      *UserRepo
	Affiliates *AffiliateRepo
	Payouts    *PayoutRepo
	Push       *PushRepo

	// FailPayoutInsert makes the next payout insert fail, for rollback tests.
	FailPayoutInsert error
}

func New() *Store {
	s := &Store{st: newState()}
	s.Users = &UserRepo{s: s}
	s.Affiliates = &AffiliateRepo{s: s}
	s.Payouts = &PayoutRepo{s: s}
	s.Push = &PushRepo{s: s}
	return s
}

// WithTransaction snapshots the dataset and restores it if fn fails.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.st = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

var _ repository.Transactor = (*Store)(nil)

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func copyAffiliate(a *models.Affiliate) *models.Affiliate {
	c := *a
	c.Referrals = append([]models.AffiliateReferral(nil), a.Referrals...)
	c.Clicks = append([]models.AffiliateClick(nil), a.Clicks...)
	return &c
}

type UserRepo struct{ s *Store }

var _ repository.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(_ context.Context, u *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.st.users {
		if other.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.st.users[u.ID] = copyUser(u)
	return nil
}

func (r *UserRepo) find(match func(*models.User) bool) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.st.users {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *UserRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *UserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Email == email })
}

func (r *UserRepo) FindByReferralCode(_ context.Context, code string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ReferralCode != nil && *u.ReferralCode == code })
}

func (r *UserRepo) FindByStripeCustomer(_ context.Context, customerID string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.StripeCustomerID != nil && *u.StripeCustomerID == customerID })
}

func (r *UserRepo) FindByVerificationToken(_ context.Context, token string, now time.Time) (*models.User, error) {
	return r.find(func(u *models.User) bool {
		return u.VerificationToken != nil && *u.VerificationToken == token &&
			u.VerificationTokenExpires != nil && u.VerificationTokenExpires.After(now)
	})
}

func (r *UserRepo) FindByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[primitive.ObjectID]*models.User{}
	for _, id := range ids {
		if u, ok := r.s.st.users[id]; ok {
			out[id] = copyUser(u)
		}
	}
	return out, nil
}

func (r *UserRepo) mutate(id primitive.ObjectID, fn func(*models.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *UserRepo) SetVerificationToken(_ context.Context, id primitive.ObjectID, token string, expires time.Time) error {
	return r.mutate(id, func(u *models.User) {
		u.VerificationToken = &token
		u.VerificationTokenExpires = &expires
	})
}

func (r *UserRepo) MarkVerified(_ context.Context, id primitive.ObjectID) error {
	return r.mutate(id, func(u *models.User) {
		u.IsVerified = true
		u.VerificationToken = nil
		u.VerificationTokenExpires = nil
	})
}

func (r *UserRepo) SetReferralCode(_ context.Context, id primitive.ObjectID, code string) error {
	return r.mutate(id, func(u *models.User) { u.ReferralCode = &code })
}

func (r *UserRepo) SetReferredBy(_ context.Context, id, referrer primitive.ObjectID) (bool, error) {
	if id == referrer {
		return false, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok || u.ReferredBy != nil {
		return false, nil
	}
	u.ReferredBy = &referrer
	return true, nil
}

func (r *UserRepo) SetStripeCustomer(_ context.Context, id primitive.ObjectID, customerID string) error {
	return r.mutate(id, func(u *models.User) { u.StripeCustomerID = &customerID })
}

func (r *UserRepo) UpdateSubscription(_ context.Context, id primitive.ObjectID, upd repository.SubscriptionUpdate) error {
	return r.mutate(id, func(u *models.User) {
		if upd.Status != nil {
			s := *upd.Status
			u.SubscriptionStatus = &s
		}
		if upd.SubscriptionID != nil {
			sid := *upd.SubscriptionID
			u.StripeSubscriptionID = &sid
		}
	})
}

func (r *UserRepo) ExpireTrial(_ context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok || !u.TrialExpired(now) {
		return false, nil
	}
	u.SubscriptionStatus = models.StatusPtr(models.SubscriptionExpired)
	return true, nil
}

func (r *UserRepo) ExpireTrials(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, u := range r.s.st.users {
		if u.TrialExpired(now) {
			u.SubscriptionStatus = models.StatusPtr(models.SubscriptionExpired)
			n++
		}
	}
	return n, nil
}

type AffiliateRepo struct{ s *Store }

var _ repository.AffiliateRepository = (*AffiliateRepo)(nil)

func (r *AffiliateRepo) FindByUserID(_ context.Context, userID primitive.ObjectID) (*models.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.affiliates[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyAffiliate(a), nil
}

func (r *AffiliateRepo) CodeExists(_ context.Context, code string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.st.affiliates {
		if a.AffiliateCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *AffiliateRepo) InsertIfAbsent(_ context.Context, a *models.Affiliate) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.affiliates[a.UserID]; ok {
		return false, nil
	}
	for _, other := range r.s.st.affiliates {
		if other.AffiliateCode == a.AffiliateCode {
			return false, repository.ErrDuplicate
		}
	}
	c := copyAffiliate(a)
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.st.affiliates[a.UserID] = c
	return true, nil
}

func (r *AffiliateRepo) AppendClick(_ context.Context, userID primitive.ObjectID, click models.AffiliateClick, since time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.affiliates[userID]
	if !ok {
		return false, nil
	}
	for _, c := range a.Clicks {
		if c.IPHash == click.IPHash && !c.Timestamp.Before(since) {
			return false, nil
		}
	}
	a.Clicks = append(a.Clicks, click)
	a.TotalClicks++
	a.ClickToSignupRate = models.SignupRate(a.TotalReferrals, a.TotalClicks)
	return true, nil
}

func (r *AffiliateRepo) AppendReferral(_ context.Context, userID primitive.ObjectID, ref models.AffiliateReferral) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.affiliates[userID]
	if !ok {
		return false, nil
	}
	for _, existing := range a.Referrals {
		if existing.ReferredUserID == ref.ReferredUserID {
			return false, nil
		}
	}
	a.Referrals = append(a.Referrals, ref)
	a.TotalReferrals++
	a.ClickToSignupRate = models.SignupRate(a.TotalReferrals, a.TotalClicks)
	return true, nil
}

func (r *AffiliateRepo) ConvertReferral(_ context.Context, userID, referredUserID primitive.ObjectID, commission models.Money, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.affiliates[userID]
	if !ok {
		return false, nil
	}
	for i := range a.Referrals {
		ref := &a.Referrals[i]
		if ref.ReferredUserID != referredUserID || ref.IsConverted {
			continue
		}
		t := at
		ref.IsConverted = true
		ref.ConversionDate = &t
		ref.Commission = commission
		a.TotalConversions++
		a.TotalEarned += commission
		a.PendingBalance += commission
		return true, nil
	}
	return false, nil
}

func (r *AffiliateRepo) ClaimPending(_ context.Context, userID primitive.ObjectID, minimum models.Money) (models.Money, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.affiliates[userID]
	if !ok || a.PendingBalance < minimum {
		return 0, false, nil
	}
	amount := a.PendingBalance
	a.PendingBalance = 0
	return amount, true, nil
}

func (r *AffiliateRepo) AddPaid(_ context.Context, userID primitive.ObjectID, amount models.Money) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.affiliates[userID]
	if !ok {
		return repository.ErrNotFound
	}
	a.PaidBalance += amount
	return nil
}

func (r *AffiliateRepo) List(_ context.Context) ([]models.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Affiliate, 0, len(r.s.st.affiliates))
	for _, a := range r.s.st.affiliates {
		c := copyAffiliate(a)
		c.Clicks = nil
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalEarned > out[j].TotalEarned })
	return out, nil
}

type PayoutRepo struct{ s *Store }

var _ repository.PayoutRepository = (*PayoutRepo)(nil)

func (r *PayoutRepo) Insert(_ context.Context, p *models.PayoutRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.FailPayoutInsert; err != nil {
		r.s.FailPayoutInsert = nil
		return err
	}
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	c := *p
	r.s.st.payouts[p.ID] = &c
	return nil
}

func (r *PayoutRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.PayoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.payouts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *PayoutRepo) collect(match func(*models.PayoutRequest) bool, newestFirst bool) []models.PayoutRequest {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.PayoutRequest{}
	for _, p := range r.s.st.payouts {
		if match(p) {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *PayoutRepo) ListByUser(_ context.Context, userID primitive.ObjectID) ([]models.PayoutRequest, error) {
	return r.collect(func(p *models.PayoutRequest) bool { return p.UserID == userID }, true), nil
}

func (r *PayoutRepo) ListByStatus(_ context.Context, statuses ...models.PayoutStatus) ([]models.PayoutRequest, error) {
	return r.collect(func(p *models.PayoutRequest) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, s := range statuses {
			if p.Status == s {
				return true
			}
		}
		return false
	}, false), nil
}

func (r *PayoutRepo) Transition(_ context.Context, id primitive.ObjectID, from []models.PayoutStatus, next models.PayoutStatus, adminID primitive.ObjectID, notes *string, at time.Time) (*models.PayoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.payouts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if p.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, repository.ErrNotFound
	}
	t, admin := at, adminID
	p.Status = next
	p.ProcessedAt = &t
	p.ProcessedBy = &admin
	p.UpdatedAt = at
	if notes != nil {
		n := *notes
		p.Notes = &n
	}
	c := *p
	return &c, nil
}

type PushRepo struct{ s *Store }

var _ repository.PushRepository = (*PushRepo)(nil)

func (r *PushRepo) Upsert(_ context.Context, sub *models.PushSubscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *sub
	if existing, ok := r.s.st.push[sub.UserID]; ok {
		c.ID, c.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		c.ID, c.CreatedAt = primitive.NewObjectID(), time.Now().UTC()
	}
	r.s.st.push[sub.UserID] = &c
	return nil
}

func (r *PushRepo) FindByUser(_ context.Context, userID primitive.ObjectID) (*models.PushSubscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.st.push[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *sub
	return &c, nil
}

func (r *PushRepo) DeleteByUser(_ context.Context, userID primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.st.push, userID)
	return nil
}
