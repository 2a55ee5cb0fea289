package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"genify/models"
	"genify/repository"
)

var (
	ErrInvalidSignature  = errors.New("webhook signature verification failed")
	ErrNoBillingCustomer = errors.New("no billing customer for this user")
)

// Billing event types handled by HandleWebhook.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// BillingEvent is the part of a provider webhook the app acts on.
type BillingEvent struct {
	ID             string
	Type           string
	CustomerID     string
	SubscriptionID string
	// Status is the provider's subscription status. Mode is set for
	// checkout events only.
	Status string
	Mode   string
}

// BillingProvider is the payment processor.
type BillingProvider interface {
	CreateCustomer(ctx context.Context, userID, email, name string) (string, error)
	CheckoutURL(ctx context.Context, customerID, successURL, cancelURL string) (string, error)
	PortalURL(ctx context.Context, customerID, returnURL string) (string, error)
	// ParseWebhook verifies the signature and decodes the event.
	ParseWebhook(payload []byte, signature string) (*BillingEvent, error)
}

// Converter credits an affiliate when a referred user starts paying.
type Converter interface {
	TrackReferralConversion(ctx context.Context, referredUserID primitive.ObjectID) (bool, error)
}

type BillingService struct {
	users     repository.UserRepository
	provider  BillingProvider
	converter Converter
	appURL    string
	log       *zap.Logger
}

func NewBillingService(users repository.UserRepository, provider BillingProvider, converter Converter, appURL string, log *zap.Logger) *BillingService {
	return &BillingService{users: users, provider: provider, converter: converter, appURL: appURL, log: log}
}

// returnURL keeps redirects on our own site. Only the path of the
// requested URL survives, and only when its scheme and host match APP_URL.
func (s *BillingService) returnURL(requested string) string {
	base := strings.TrimRight(s.appURL, "/")
	if requested == "" {
		return base
	}
	app, err := url.Parse(base)
	if err != nil {
		return base
	}
	u, err := url.Parse(requested)
	if err != nil || u.User != nil || u.Opaque != "" ||
		!strings.EqualFold(u.Scheme, app.Scheme) || !strings.EqualFold(u.Host, app.Host) {
		return base
	}
	kept := url.URL{Scheme: app.Scheme, Host: app.Host, Path: u.Path}
	return strings.TrimRight(kept.String(), "/")
}

func (s *BillingService) user(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// Checkout returns a hosted checkout URL, creating the billing customer
// on first use.
func (s *BillingService) Checkout(ctx context.Context, userID primitive.ObjectID, returnURL string) (string, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return "", err
	}

	customerID := ""
	if u.StripeCustomerID != nil {
		customerID = *u.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = s.provider.CreateCustomer(ctx, u.ID.Hex(), u.Email, u.Name)
		if err != nil {
			return "", fmt.Errorf("create billing customer: %w", err)
		}
		if err := s.users.SetStripeCustomer(ctx, u.ID, customerID); err != nil {
			return "", fmt.Errorf("save billing customer: %w", err)
		}
	}

	base := s.returnURL(returnURL)
	link, err := s.provider.CheckoutURL(ctx, customerID,
		base+"/payment-success?session_id={CHECKOUT_SESSION_ID}",
		base+"/payment-cancel")
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return link, nil
}

// Portal returns the self-service billing portal URL.
func (s *BillingService) Portal(ctx context.Context, userID primitive.ObjectID, returnURL string) (string, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.StripeCustomerID == nil || *u.StripeCustomerID == "" {
		return "", ErrNoBillingCustomer
	}
	link, err := s.provider.PortalURL(ctx, *u.StripeCustomerID, s.returnURL(returnURL))
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return link, nil
}

// HandleWebhook applies a signed provider event. ErrUserNotFound means the
// customer is unknown; any other error should make the provider retry.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	log := s.log.With(zap.String("eventId", ev.ID), zap.String("type", ev.Type))

	switch ev.Type {
	case EventCheckoutCompleted:
		if ev.Mode != "subscription" || ev.CustomerID == "" {
			return nil
		}
		u, err := s.customer(ctx, ev.CustomerID)
		if err != nil {
			return err
		}
		upd := repository.SubscriptionUpdate{Status: models.StatusPtr(models.SubscriptionActive)}
		if ev.SubscriptionID != "" {
			upd.SubscriptionID = &ev.SubscriptionID
		}
		if err := s.users.UpdateSubscription(ctx, u.ID, upd); err != nil {
			return fmt.Errorf("activate subscription: %w", err)
		}
		log.Info("subscription activated", zap.String("userId", u.ID.Hex()))
		return s.convert(ctx, u)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		u, err := s.customer(ctx, ev.CustomerID)
		if err != nil {
			return err
		}
		status := models.SubscriptionCanceled
		if ev.Status == "active" {
			status = models.SubscriptionActive
		}
		upd := repository.SubscriptionUpdate{Status: &status}
		if ev.SubscriptionID != "" {
			upd.SubscriptionID = &ev.SubscriptionID
		}
		if err := s.users.UpdateSubscription(ctx, u.ID, upd); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		log.Info("subscription updated", zap.String("userId", u.ID.Hex()), zap.String("status", string(status)))
		if ev.Type == EventSubscriptionCreated {
			return s.convert(ctx, u)
		}
		return nil

	case EventSubscriptionDeleted:
		u, err := s.customer(ctx, ev.CustomerID)
		if err != nil {
			return err
		}
		if err := s.users.UpdateSubscription(ctx, u.ID, repository.SubscriptionUpdate{Status: models.StatusPtr(models.SubscriptionCanceled)}); err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}
		log.Info("subscription canceled", zap.String("userId", u.ID.Hex()))
		return nil
	}
	log.Debug("ignored billing event")
	return nil
}

func (s *BillingService) customer(ctx context.Context, customerID string) (*models.User, error) {
	u, err := s.users.FindByStripeCustomer(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find billing customer: %w", err)
	}
	return u, nil
}

// convert is safe to repeat: duplicate deliveries find no unconverted referral.
func (s *BillingService) convert(ctx context.Context, u *models.User) error {
	if u.ReferredBy == nil || s.converter == nil {
		return nil
	}
	if _, err := s.converter.TrackReferralConversion(ctx, u.ID); err != nil {
		return fmt.Errorf("track referral conversion: %w", err)
	}
	return nil
}
