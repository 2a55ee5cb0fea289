package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"genify/events"
	"genify/models"
	"genify/monitoring"
	"genify/repository"
)

type PayoutService struct {
	affiliates repository.AffiliateRepository
	payouts    repository.PayoutRepository
	users      repository.UserRepository
	tx         repository.Transactor
	events     events.Publisher
	minimum    models.Money
	log        *zap.Logger

	now func() time.Time
}

func NewPayoutService(affiliates repository.AffiliateRepository, payouts repository.PayoutRepository, users repository.UserRepository, tx repository.Transactor, pub events.Publisher, minimum models.Money, log *zap.Logger) *PayoutService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &PayoutService{
		affiliates: affiliates,
		payouts:    payouts,
		users:      users,
		tx:         tx,
		events:     pub,
		minimum:    minimum,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *PayoutService) Minimum() models.Money { return s.minimum }

// BankDetails is what an affiliate submits with a payout request.
type BankDetails struct {
	FullName      string
	SortCode      string
	AccountNumber string
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize strips separators from the sort code and account number and
// checks their lengths.
func (d BankDetails) Normalize() (BankDetails, error) {
	out := BankDetails{
		FullName:      strings.TrimSpace(d.FullName),
		SortCode:      digitsOnly(d.SortCode),
		AccountNumber: digitsOnly(d.AccountNumber),
	}
	switch {
	case out.FullName == "" || !strings.ContainsFunc(out.FullName, unicode.IsLetter):
		return out, fmt.Errorf("%w: full name is required", ErrInvalidBankDetails)
	case len(out.SortCode) != 6:
		return out, fmt.Errorf("%w: sort code must be 6 digits", ErrInvalidBankDetails)
	case len(out.AccountNumber) != 8:
		return out, fmt.Errorf("%w: account number must be 8 digits", ErrInvalidBankDetails)
	}
	return out, nil
}

// CreatePayoutRequest moves the whole pending balance into a new pending
// request. Bank details are validated before anything is written.
func (s *PayoutService) CreatePayoutRequest(ctx context.Context, userID primitive.ObjectID, details BankDetails) (*models.PayoutRequest, error) {
	bank, err := details.Normalize()
	if err != nil {
		return nil, err
	}

	var req *models.PayoutRequest
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		amount, ok, err := s.affiliates.ClaimPending(ctx, userID, s.minimum)
		if err != nil {
			return fmt.Errorf("claim pending balance: %w", err)
		}
		if !ok {
			return ErrNotEligible
		}
		req = &models.PayoutRequest{
			UserID:        userID,
			Amount:        amount,
			Status:        models.PayoutPending,
			FullName:      bank.FullName,
			SortCode:      bank.SortCode,
			AccountNumber: bank.AccountNumber,
		}
		if err := s.payouts.Insert(ctx, req); err != nil {
			return fmt.Errorf("insert payout request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.PayoutTransitions.WithLabelValues(string(models.PayoutPending)).Inc()
	s.log.Info("payout requested",
		zap.String("userId", userID.Hex()),
		zap.String("payoutId", req.ID.Hex()),
		zap.Stringer("amount", req.Amount))
	s.publish(ctx, events.Event{
		Kind:     events.PayoutRequested,
		UserID:   userID.Hex(),
		PayoutID: req.ID.Hex(),
		Amount:   req.Amount,
		Status:   req.Status,
		At:       req.CreatedAt,
	})
	return req, nil
}

// UpdatePayoutStatus applies an admin decision. Marking a request paid
// credits its amount to the affiliate's paid balance.
func (s *PayoutService) UpdatePayoutStatus(ctx context.Context, requestID primitive.ObjectID, next models.PayoutStatus, adminID primitive.ObjectID, notes *string) (*models.PayoutRequest, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	var updated *models.PayoutRequest
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		current, err := s.payouts.FindByID(ctx, requestID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPayoutNotFound
		}
		if err != nil {
			return fmt.Errorf("find payout request: %w", err)
		}
		if !current.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, next)
		}

		// The status filter makes a concurrent decision on the same request lose.
		updated, err = s.payouts.Transition(ctx, requestID, []models.PayoutStatus{current.Status}, next, adminID, notes, s.now())
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: request changed concurrently", ErrInvalidTransition)
		}
		if err != nil {
			return fmt.Errorf("update payout request: %w", err)
		}
		if next == models.PayoutPaid {
			if err := s.affiliates.AddPaid(ctx, updated.UserID, updated.Amount); err != nil {
				return fmt.Errorf("credit paid balance: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.PayoutTransitions.WithLabelValues(string(next)).Inc()
	s.log.Info("payout status changed",
		zap.String("payoutId", requestID.Hex()),
		zap.String("status", string(next)),
		zap.String("adminId", adminID.Hex()))
	ev := events.Event{
		Kind:     events.PayoutStatusChange,
		UserID:   updated.UserID.Hex(),
		PayoutID: updated.ID.Hex(),
		Amount:   updated.Amount,
		Status:   updated.Status,
		At:       updated.UpdatedAt,
	}
	if updated.Notes != nil {
		ev.Notes = *updated.Notes
	}
	s.publish(ctx, ev)
	return updated, nil
}

// ListForUser returns the user's requests, newest first.
func (s *PayoutService) ListForUser(ctx context.Context, userID primitive.ObjectID) ([]models.PayoutRequest, error) {
	out, err := s.payouts.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list payout requests: %w", err)
	}
	return out, nil
}

// ListPending returns pending requests oldest first with the requester attached.
func (s *PayoutService) ListPending(ctx context.Context) ([]models.PayoutRequest, error) {
	return s.ListByStatus(ctx, models.PayoutPending)
}

// ListByStatus returns requests in the given states, oldest first, with the
// requester attached. No states means every request.
func (s *PayoutService) ListByStatus(ctx context.Context, statuses ...models.PayoutStatus) ([]models.PayoutRequest, error) {
	out, err := s.payouts.ListByStatus(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list payout requests: %w", err)
	}
	ids := make([]primitive.ObjectID, 0, len(out))
	for _, p := range out {
		ids = append(ids, p.UserID)
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load payout users: %w", err)
	}
	for i := range out {
		if u, ok := users[out[i].UserID]; ok {
			out[i].User = &models.PayoutUser{ID: u.ID.Hex(), Name: u.Name, Email: u.Email}
		}
	}
	return out, nil
}

func (s *PayoutService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish payout event", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
