package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"genify/events"
	"genify/repository"
)

// LiveChannel pushes a message to a user's open dashboard connections.
type LiveChannel interface {
	SendToUser(userID, msgType string, payload any) int
}

// PushSender delivers a browser push notification.
type PushSender interface {
	Enabled() bool
	Notify(ctx context.Context, userID primitive.ObjectID, title, body, url string) error
}

// Notifier fans committed affiliate events out to the live dashboard,
// Web Push and email. Delivery failures are logged and never returned, so
// a dead channel cannot block the others.
type Notifier struct {
	users  repository.UserRepository
	live   LiveChannel
	push   PushSender
	mailer Mailer
	log    *zap.Logger
}

func NewNotifier(users repository.UserRepository, live LiveChannel, push PushSender, mailer Mailer, log *zap.Logger) *Notifier {
	return &Notifier{users: users, live: live, push: push, mailer: mailer, log: log}
}

var _ events.Handler = (*Notifier)(nil)

func (n *Notifier) Handle(ctx context.Context, ev events.Event) error {
	log := n.log.With(zap.String("kind", string(ev.Kind)), zap.String("userId", ev.UserID))
	if n.live != nil {
		n.live.SendToUser(ev.UserID, string(ev.Kind), ev)
	}

	userID, err := primitive.ObjectIDFromHex(ev.UserID)
	if err != nil {
		return fmt.Errorf("event user id: %w", err)
	}

	switch ev.Kind {
	case events.ReferralSignup:
		n.sendPush(ctx, log, userID, "New referral", "Someone signed up with your link.")
	case events.ReferralConverted:
		n.sendPush(ctx, log, userID, "You earned a commission", fmt.Sprintf("%s was added to your pending balance.", ev.Amount))
	case events.PayoutStatusChange:
		n.sendPush(ctx, log, userID, "Payout "+string(ev.Status), fmt.Sprintf("Your payout request for %s is now %s.", ev.Amount, ev.Status))
		return n.mailPayout(ctx, log, userID, ev)
	}
	return nil
}

func (n *Notifier) sendPush(ctx context.Context, log *zap.Logger, userID primitive.ObjectID, title, body string) {
	if n.push == nil || !n.push.Enabled() {
		return
	}
	if err := n.push.Notify(ctx, userID, title, body, "/affiliate"); err != nil {
		log.Warn("push notification failed", zap.Error(err))
	}
}

func (n *Notifier) mailPayout(ctx context.Context, log *zap.Logger, userID primitive.ObjectID, ev events.Event) error {
	if n.mailer == nil {
		return nil
	}
	u, err := n.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find payout owner: %w", err)
	}
	if err := n.mailer.SendPayoutStatus(ctx, u.Email, u.Name, ev.Status, ev.Amount, ev.Notes); err != nil {
		log.Warn("payout status email failed", zap.Error(err))
	}
	return nil
}
