package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"genify/models"
	"genify/repository"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minPasswordLength = 6

// Mailer sends the transactional emails.
type Mailer interface {
	SendVerification(ctx context.Context, to, name, link string) error
	SendPayoutStatus(ctx context.Context, to, name string, status models.PayoutStatus, amount models.Money, notes string) error
}

// Referrer attributes a new signup to an affiliate code.
type Referrer interface {
	TrackReferralSignup(ctx context.Context, code string, newUserID primitive.ObjectID) (bool, error)
}

type AuthOptions struct {
	TrialLength     time.Duration
	VerificationTTL time.Duration
	// VerifyURL is the public base for links in verification emails.
	VerifyURL  string
	BcryptCost int
}

type AuthService struct {
	users    repository.UserRepository
	referrer Referrer
	mailer   Mailer
	tokens   *TokenIssuer
	opts     AuthOptions
	log      *zap.Logger

	now func() time.Time
}

func NewAuthService(users repository.UserRepository, referrer Referrer, mailer Mailer, tokens *TokenIssuer, opts AuthOptions, log *zap.Logger) *AuthService {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:    users,
		referrer: referrer,
		mailer:   mailer,
		tokens:   tokens,
		opts:     opts,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type RegisterInput struct {
	Name         string
	Email        string
	Password     string
	ReferralCode string
}

type RegisterResult struct {
	User      *models.User
	EmailSent bool
	Referred  bool
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func newVerificationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Register creates an unverified user on a fresh trial. Referral
// attribution and the verification email are best effort.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	switch {
	case in.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case !emailPattern.MatchString(in.Email):
		return nil, fmt.Errorf("%w: %s is not a valid email", ErrInvalidInput, in.Email)
	case len(in.Password) < minPasswordLength:
		return nil, fmt.Errorf("%w: password should be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	if _, err := s.users.FindByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	token, err := newVerificationToken()
	if err != nil {
		return nil, fmt.Errorf("verification token: %w", err)
	}

	now := s.now()
	trialEnd := now.Add(s.opts.TrialLength)
	expires := now.Add(s.opts.VerificationTTL)
	u := &models.User{
		Email:                    in.Email,
		PasswordHash:             string(hash),
		Name:                     in.Name,
		VerificationToken:        &token,
		VerificationTokenExpires: &expires,
		TrialEndDate:             &trialEnd,
		SubscriptionStatus:       models.StatusPtr(models.SubscriptionTrialing),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	res := &RegisterResult{User: u}
	if code := strings.TrimSpace(in.ReferralCode); code != "" && s.referrer != nil {
		ok, err := s.referrer.TrackReferralSignup(ctx, code, u.ID)
		if err != nil {
			s.log.Warn("referral signup", zap.String("userId", u.ID.Hex()), zap.Error(err))
		}
		res.Referred = ok
		if ok {
			if fresh, err := s.users.FindByID(ctx, u.ID); err == nil {
				res.User = fresh
			}
		}
	}

	res.EmailSent = s.sendVerification(ctx, u, token)
	return res, nil
}

func (s *AuthService) VerifyLink(token string) string {
	return s.opts.VerifyURL + "/api/auth/verify-email/" + token
}

func (s *AuthService) sendVerification(ctx context.Context, u *models.User, token string) bool {
	if s.mailer == nil {
		return false
	}
	if err := s.mailer.SendVerification(ctx, u.Email, u.Name, s.VerifyLink(token)); err != nil {
		s.log.Warn("send verification email", zap.String("userId", u.ID.Hex()), zap.Error(err))
		return false
	}
	return true
}

// VerifyEmail marks the owner of an unexpired token verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	u, err := s.users.FindByVerificationToken(ctx, token, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("find verification token: %w", err)
	}
	if err := s.users.MarkVerified(ctx, u.ID); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// Login checks credentials and returns a signed session token. An
// unverified user gets a fresh verification email and ErrNotVerified.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("find user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	if !u.IsVerified {
		token, err := newVerificationToken()
		if err != nil {
			return nil, "", fmt.Errorf("verification token: %w", err)
		}
		if err := s.users.SetVerificationToken(ctx, u.ID, token, s.now().Add(s.opts.VerificationTTL)); err != nil {
			return nil, "", fmt.Errorf("save verification token: %w", err)
		}
		s.sendVerification(ctx, u, token)
		return nil, "", ErrNotVerified
	}

	signed, err := s.tokens.Issue(u.ID.Hex(), u.IsAdmin, s.now())
	if err != nil {
		return nil, "", fmt.Errorf("sign token: %w", err)
	}
	return u, signed, nil
}

// Session loads the signed-in user and expires a finished trial on read.
func (s *AuthService) Session(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !u.IsVerified {
		return nil, ErrNotVerified
	}

	now := s.now()
	if u.TrialExpired(now) {
		if _, err := s.users.ExpireTrial(ctx, u.ID, now); err != nil {
			s.log.Warn("expire trial", zap.String("userId", u.ID.Hex()), zap.Error(err))
		}
		u.SubscriptionStatus = models.StatusPtr(models.SubscriptionExpired)
	}
	return u, nil
}

// User returns a user by id.
func (s *AuthService) User(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// HasActiveSubscription reports whether the user may use paid features now.
func (s *AuthService) HasActiveSubscription(ctx context.Context, userID primitive.ObjectID) (bool, *models.User, error) {
	u, err := s.Session(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	return u.HasAccess(s.now()), u, nil
}
