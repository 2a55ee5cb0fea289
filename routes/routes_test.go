package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"genify/handlers"
	"genify/middleware"
	"genify/models"
	"genify/repository"
	"genify/repository/memory"
	"genify/services"
)

const appURL = "https://genify.test"

type fakeProvider struct {
	next     *services.BillingEvent
	parseErr error
}

func (p *fakeProvider) CreateCustomer(context.Context, string, string, string) (string, error) {
	return "cus_new", nil
}

func (p *fakeProvider) CheckoutURL(context.Context, string, string, string) (string, error) {
	return "https://checkout.test/s/1", nil
}

func (p *fakeProvider) PortalURL(context.Context, string, string) (string, error) {
	return "https://portal.test/p/1", nil
}

func (p *fakeProvider) ParseWebhook([]byte, string) (*services.BillingEvent, error) {
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	return p.next, nil
}

type nopMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *nopMailer) SendVerification(_ context.Context, _, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

func (m *nopMailer) SendPayoutStatus(context.Context, string, string, models.PayoutStatus, models.Money, string) error {
	return nil
}

type testEnv struct {
	store      *memory.Store
	tokens     *services.TokenIssuer
	affiliates *services.AffiliateService
	provider   *fakeProvider
	router     *gin.Engine
}

func newEnv(t *testing.T, limiter middleware.Limiter, humanizerURL string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	e := &testEnv{
		store:    memory.New(),
		tokens:   services.NewTokenIssuer("test-secret", time.Hour),
		provider: &fakeProvider{},
	}
	e.affiliates = services.NewAffiliateService(e.store.Users, e.store.Affiliates, nil, services.Programme{
		Commission:       500,
		MinimumPayout:    2500,
		ClickDedupWindow: 24 * time.Hour,
		ReferralBaseURL:  appURL,
	}, log)
	payouts := services.NewPayoutService(e.store.Affiliates, e.store.Payouts, e.store.Users, e.store, nil, 2500, log)
	auth := services.NewAuthService(e.store.Users, e.affiliates, &nopMailer{}, e.tokens, services.AuthOptions{
		TrialLength:     7 * 24 * time.Hour,
		VerificationTTL: 24 * time.Hour,
		VerifyURL:       appURL,
		BcryptCost:      bcrypt.MinCost,
	}, log)

	h := handlers.New(handlers.Deps{
		Auth:       auth,
		Tokens:     e.tokens,
		Affiliates: e.affiliates,
		Payouts:    payouts,
		Billing:    services.NewBillingService(e.store.Users, e.provider, e.affiliates, appURL, log),
		Humanizer: services.NewHumanizerService(nil, services.HumanizerOptions{
			BaseURL:      humanizerURL,
			APIKey:       "k",
			PollAttempts: 2,
			PollInterval: time.Millisecond,
		}, log),
		Push:              services.NewPushNotifier(e.store.Push, services.VAPIDOptions{}, nil, log),
		Log:               log,
		AppURL:            appURL,
		ReferralCookieTTL: 30 * 24 * time.Hour,
		HumanizeTimeout:   5 * time.Second,
	})
	e.router = SetupRouter(h, Options{
		CORSOrigins: []string{appURL},
		Limiter:     limiter,
		Tokens:      e.tokens,
		Log:         log,
	})
	return e
}

type reqOpt func(*http.Request)

func withToken(token string) reqOpt {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: middleware.CookieName, Value: token}) }
}

func withCookie(name, value string) reqOpt {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

func (e *testEnv) do(method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// user stores a verified user on a running trial and returns a session token.
func (e *testEnv) user(t *testing.T, email string, admin bool) (*models.User, string) {
	t.Helper()
	trialEnd := time.Now().Add(24 * time.Hour)
	u := &models.User{
		Email:              email,
		Name:               "Test " + email,
		IsVerified:         true,
		IsAdmin:            admin,
		TrialEndDate:       &trialEnd,
		SubscriptionStatus: models.StatusPtr(models.SubscriptionTrialing),
	}
	require.NoError(t, e.store.Users.Create(context.Background(), u))
	token, err := e.tokens.Issue(u.ID.Hex(), admin, time.Now())
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) code(t *testing.T, u *models.User) string {
	t.Helper()
	a, err := e.affiliates.GetOrCreate(context.Background(), u.ID)
	require.NoError(t, err)
	return a.AffiliateCode
}

func cookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthAndUnknownRoute(t *testing.T) {
	e := newEnv(t, nil, "")

	rec := e.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))

	rec = e.do(http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Endpoint not found")
}

func TestRegisterVerifyLoginSession(t *testing.T) {
	e := newEnv(t, nil, "")
	ctx := context.Background()
	creds := map[string]string{"email": "new@example.com", "password": "secret123"}

	rec := e.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "New", "email": "New@Example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"emailSent":true`)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = e.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Again", "email": "new@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(http.MethodPost, "/api/auth/login", creds)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodGet, "/api/auth/verify-email/not-a-token", nil)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, appURL+"/login?error=invalid-or-expired-token", rec.Header().Get("Location"))

	u, err := e.store.Users.FindByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, u.VerificationToken)
	rec = e.do(http.MethodGet, "/api/auth/verify-email/"+*u.VerificationToken, nil)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, appURL+"/login?success=email-verified", rec.Header().Get("Location"))

	rec = e.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "new@example.com", "password": "wrong-one"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/api/auth/login", creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := cookie(rec, middleware.CookieName)
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)

	rec = e.do(http.MethodGet, "/api/auth/session", nil, withToken(session.Value))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		User models.SafeUser `json:"user"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "new@example.com", body.User.Email)

	rec = e.do(http.MethodGet, "/api/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"user":null}`, rec.Body.String())

	rec = e.do(http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	cleared := cookie(rec, middleware.CookieName)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
}

func TestSessionSignsOutUnverifiedUser(t *testing.T) {
	e := newEnv(t, nil, "")
	u := &models.User{Email: "u@example.com", Name: "U"}
	require.NoError(t, e.store.Users.Create(context.Background(), u))
	token, err := e.tokens.Issue(u.ID.Hex(), false, time.Now())
	require.NoError(t, err)

	rec := e.do(http.MethodGet, "/api/auth/session", nil, withToken(token))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	cleared := cookie(rec, middleware.CookieName)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
}

func TestReferralLinkAttributesSignup(t *testing.T) {
	e := newEnv(t, nil, "")
	ctx := context.Background()
	affiliate, _ := e.user(t, "aff@example.com", false)
	code := e.code(t, affiliate)

	rec := e.do(http.MethodGet, "/ref/"+code, nil)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, appURL+"/", rec.Header().Get("Location"))
	ref := cookie(rec, handlers.ReferralCookie)
	require.NotNil(t, ref)
	assert.Equal(t, code, ref.Value)
	assert.Equal(t, 30*24*60*60, ref.MaxAge)

	rec = e.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Friend", "email": "friend@example.com", "password": "secret123",
	}, withCookie(handlers.ReferralCookie, code))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cleared := cookie(rec, handlers.ReferralCookie)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	a, err := e.store.Affiliates.FindByUserID(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.TotalClicks)
	assert.EqualValues(t, 1, a.TotalReferrals)
	friend, err := e.store.Users.FindByEmail(ctx, "friend@example.com")
	require.NoError(t, err)
	require.NotNil(t, friend.ReferredBy)
	assert.Equal(t, affiliate.ID, *friend.ReferredBy)
}

func TestClickRedirectStaysOnSite(t *testing.T) {
	e := newEnv(t, nil, "")
	affiliate, _ := e.user(t, "aff@example.com", false)
	code := e.code(t, affiliate)

	cases := []struct {
		query string
		want  string
	}{
		{"?ref=" + code + "&to=/signup", appURL + "/signup?ref=" + code},
		{"?ref=" + code + "&to=/pricing", appURL + "/pricing"},
		{"?ref=" + code + "&to=https://evil.test/x", appURL + "/"},
		{"?ref=" + code + "&to=//evil.test", appURL + "/"},
		{"?to=/signup", appURL + "/"},
	}
	for _, tc := range cases {
		rec := e.do(http.MethodGet, "/api/affiliate/click"+tc.query, nil)
		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code, tc.query)
		assert.Equal(t, tc.want, rec.Header().Get("Location"), tc.query)
	}
}

func TestTrackClickEndpoint(t *testing.T) {
	e := newEnv(t, nil, "")
	affiliate, _ := e.user(t, "aff@example.com", false)
	code := e.code(t, affiliate)

	rec := e.do(http.MethodPost, "/api/affiliate/click", map[string]string{"referralCode": code})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"tracked":true}`, rec.Body.String())

	// same visitor inside the window is acknowledged but not counted
	rec = e.do(http.MethodPost, "/api/affiliate/click", map[string]string{"referralCode": code})
	assert.JSONEq(t, `{"success":true,"tracked":true}`, rec.Body.String())
	a, err := e.store.Affiliates.FindByUserID(context.Background(), affiliate.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.TotalClicks)

	rec = e.do(http.MethodPost, "/api/affiliate/click", map[string]string{"referralCode": "NOPE00"})
	assert.JSONEq(t, `{"success":true,"tracked":false}`, rec.Body.String())

	rec = e.do(http.MethodPost, "/api/affiliate/click", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAffiliateStatsRequiresAuth(t *testing.T) {
	e := newEnv(t, nil, "")
	_, token := e.user(t, "aff@example.com", false)

	rec := e.do(http.MethodGet, "/api/affiliate", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodGet, "/api/affiliate", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data models.AffiliateStats `json:"data"`
	}
	decode(t, rec, &body)
	assert.Len(t, body.Data.AffiliateCode, 6)
	assert.Equal(t, appURL+"/ref/"+body.Data.AffiliateCode, body.Data.ReferralLink)
	assert.False(t, body.Data.IsEligibleForPayout)
	assert.Equal(t, models.Money(2500), body.Data.MinimumPayout)
}

func TestPayoutLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t, nil, "")
	ctx := context.Background()
	affiliate, token := e.user(t, "aff@example.com", false)
	_, adminToken := e.user(t, "admin@example.com", true)
	code := e.code(t, affiliate)
	for i := 0; i < 5; i++ {
		friend, _ := e.user(t, "friend"+string(rune('a'+i))+"@example.com", false)
		ok, err := e.affiliates.TrackReferralSignup(ctx, code, friend.ID)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = e.affiliates.TrackReferralConversion(ctx, friend.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}

	bank := map[string]string{"fullName": "Ada Lovelace", "sortCode": "12-34-56", "accountNumber": "12345678"}
	rec := e.do(http.MethodPost, "/api/affiliate/payout", map[string]string{
		"fullName": "Ada Lovelace", "sortCode": "12-34", "accountNumber": "12345678",
	}, withToken(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/affiliate/payout", bank, withToken(token))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data models.PayoutRequest `json:"data"`
	}
	decode(t, rec, &created)
	assert.Equal(t, models.Money(2500), created.Data.Amount)
	assert.Equal(t, models.PayoutPending, created.Data.Status)
	assert.Equal(t, "123456", created.Data.SortCode)

	rec = e.do(http.MethodPost, "/api/affiliate/payout", bank, withToken(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/api/affiliate/payout", nil, withToken(token))
	require.Equal(t, http.StatusOK, rec.Code)
	var mine struct {
		Data struct {
			PayoutRequests []models.PayoutRequest `json:"payoutRequests"`
			IsEligible     bool                   `json:"isEligible"`
			MinimumPayout  models.Money           `json:"minimumPayout"`
		} `json:"data"`
	}
	decode(t, rec, &mine)
	assert.Len(t, mine.Data.PayoutRequests, 1)
	assert.False(t, mine.Data.IsEligible)
	assert.Equal(t, models.Money(2500), mine.Data.MinimumPayout)

	path := "/api/admin/payouts/" + created.Data.ID.Hex()
	rec = e.do(http.MethodGet, "/api/admin/payouts", nil, withToken(token))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodGet, "/api/admin/payouts", nil, withToken(adminToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Data []models.PayoutRequest `json:"data"`
	}
	decode(t, rec, &pending)
	require.Len(t, pending.Data, 1)
	require.NotNil(t, pending.Data[0].User)
	assert.Equal(t, "aff@example.com", pending.Data[0].User.Email)

	rec = e.do(http.MethodPatch, path, map[string]string{"status": "pending"}, withToken(adminToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(http.MethodPatch, "/api/admin/payouts/not-an-id", map[string]string{"status": "approved"}, withToken(adminToken))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodPatch, path, map[string]string{"status": "approved"}, withToken(adminToken))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(http.MethodPatch, path, map[string]any{"status": "paid", "notes": "sent"}, withToken(adminToken))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(http.MethodPatch, path, map[string]string{"status": "rejected"}, withToken(adminToken))
	assert.Equal(t, http.StatusConflict, rec.Code)

	a, err := e.store.Affiliates.FindByUserID(ctx, affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(2500), a.PaidBalance)
	assert.Equal(t, models.Money(0), a.PendingBalance)

	rec = e.do(http.MethodGet, "/api/admin/payouts", nil, withToken(adminToken))
	decode(t, rec, &pending)
	assert.Empty(t, pending.Data)
	rec = e.do(http.MethodGet, "/api/admin/payouts?status=all", nil, withToken(adminToken))
	decode(t, rec, &pending)
	assert.Len(t, pending.Data, 1)
	rec = e.do(http.MethodGet, "/api/admin/payouts?status=bogus", nil, withToken(adminToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/api/admin/affiliate", nil, withToken(adminToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalConversions":5`)
}

func TestGetUserSelfOrAdmin(t *testing.T) {
	e := newEnv(t, nil, "")
	u, token := e.user(t, "a@example.com", false)
	other, otherToken := e.user(t, "b@example.com", false)
	_, adminToken := e.user(t, "admin@example.com", true)

	rec := e.do(http.MethodGet, "/api/users/"+u.ID.Hex(), nil, withToken(token))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(http.MethodGet, "/api/users/"+u.ID.Hex(), nil, withToken(otherToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(http.MethodGet, "/api/users/"+other.ID.Hex(), nil, withToken(adminToken))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "b@example.com")
}

func TestStripeWebhookStatuses(t *testing.T) {
	e := newEnv(t, nil, "")
	ctx := context.Background()
	u, token := e.user(t, "payer@example.com", false)

	e.provider.parseErr = errors.New("bad signature")
	rec := e.do(http.MethodPost, "/api/stripe/webhook", map[string]string{"id": "evt_1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e.provider.parseErr = nil

	e.provider.next = &services.BillingEvent{ID: "evt_2", Type: services.EventSubscriptionDeleted, CustomerID: "cus_unknown"}
	rec = e.do(http.MethodPost, "/api/stripe/webhook", map[string]string{"id": "evt_2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodPost, "/api/stripe/checkout", map[string]string{"returnUrl": appURL + "/pricing"}, withToken(token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://checkout.test/s/1"}`, rec.Body.String())

	e.provider.next = &services.BillingEvent{ID: "evt_3", Type: services.EventCheckoutCompleted, CustomerID: "cus_new", SubscriptionID: "sub_1", Mode: "subscription"}
	rec = e.do(http.MethodPost, "/api/stripe/webhook", map[string]string{"id": "evt_3"})
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := e.store.Users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got.Status())

	rec = e.do(http.MethodPost, "/api/stripe/portal", nil, withToken(token))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://portal.test/p/1"}`, rec.Body.String())
}

func TestHumanizeRequiresAccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/submit"):
			_, _ = w.Write([]byte(`{"err_code":0,"data":{"task_id":"t1"}}`))
		default:
			_, _ = w.Write([]byte(`{"err_code":0,"data":{"subtask_status":"completed","output":"rewritten"}}`))
		}
	}))
	defer upstream.Close()

	e := newEnv(t, nil, upstream.URL)
	ctx := context.Background()
	u, token := e.user(t, "a@example.com", false)

	rec := e.do(http.MethodPost, "/api/subscription/check", nil, withToken(token))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodGet, "/api/subscription/check", nil, withToken(token))
	assert.JSONEq(t, `{"active":true,"message":"Active subscription or trial"}`, rec.Body.String())

	rec = e.do(http.MethodPost, "/api/humanize", map[string]string{}, withToken(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/humanize", map[string]string{"text": "some text"}, withToken(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"output":"rewritten"`)

	require.NoError(t, e.store.Users.UpdateSubscription(ctx, u.ID, repository.SubscriptionUpdate{
		Status: models.StatusPtr(models.SubscriptionCanceled),
	}))
	rec = e.do(http.MethodPost, "/api/humanize", map[string]string{"text": "some text"}, withToken(token))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPushKeyUnconfigured(t *testing.T) {
	e := newEnv(t, nil, "")
	_, token := e.user(t, "a@example.com", false)

	rec := e.do(http.MethodGet, "/api/push/vapid-public-key", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = e.do(http.MethodPost, "/api/push/subscribe", map[string]any{
		"endpoint": "http://push.test/1",
		"keys":     map[string]string{"p256dh": "k", "auth": "a"},
	}, withToken(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/push/subscribe", map[string]any{
		"endpoint": "https://push.test/1",
		"keys":     map[string]string{"p256dh": "k", "auth": "a"},
	}, withToken(token))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicAuthRoutesAreRateLimited(t *testing.T) {
	e := newEnv(t, middleware.NewIPRateLimiter(2, time.Minute), "")
	creds := map[string]string{"email": "x@example.com", "password": "secret123"}

	for i := 0; i < 2; i++ {
		rec := e.do(http.MethodPost, "/api/auth/login", creds)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := e.do(http.MethodPost, "/api/auth/login", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// health is not limited
	rec = e.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{appURL})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))
	r.Header.Set("Origin", appURL)
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.test")
	assert.False(t, check(r))
}
