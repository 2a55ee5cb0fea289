package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"genify/events"
	"genify/models"
)

type fakeLive struct {
	mu   sync.Mutex
	sent []string
}

func (l *fakeLive) SendToUser(userID, msgType string, _ any) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, userID+" "+msgType)
	return 1
}

type fakePush struct {
	titles []string
	err    error
}

func (p *fakePush) Enabled() bool { return true }

func (p *fakePush) Notify(_ context.Context, _ primitive.ObjectID, title, _, _ string) error {
	p.titles = append(p.titles, title)
	return p.err
}

func TestNotifierPayoutStatus(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner@example.com")
	live, push, mailer := &fakeLive{}, &fakePush{err: errors.New("push down")}, &fakeMailer{}
	n := NewNotifier(f.store.Users, live, push, mailer, zap.NewNop())

	err := n.Handle(context.Background(), events.Event{
		Kind:   events.PayoutStatusChange,
		UserID: owner.ID.Hex(),
		Amount: 2500,
		Status: models.PayoutPaid,
		Notes:  "sent",
	})
	require.NoError(t, err, "push failures are logged, not returned")

	assert.Equal(t, []string{owner.ID.Hex() + " payout.status"}, live.sent)
	assert.Equal(t, []string{"Payout paid"}, push.titles)
	mail := mailer.last()
	assert.Equal(t, "owner@example.com", mail.To)
	assert.Equal(t, models.PayoutPaid, mail.Status)
	assert.Equal(t, models.Money(2500), mail.Amount)
}

func TestNotifierConversionSkipsMail(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner@example.com")
	live, push, mailer := &fakeLive{}, &fakePush{}, &fakeMailer{}
	n := NewNotifier(f.store.Users, live, push, mailer, zap.NewNop())

	require.NoError(t, n.Handle(context.Background(), events.Event{Kind: events.ReferralConverted, UserID: owner.ID.Hex(), Amount: 500}))
	assert.Equal(t, []string{"You earned a commission"}, push.titles)
	assert.Equal(t, 0, mailer.count())

	require.NoError(t, n.Handle(context.Background(), events.Event{Kind: events.ClickTracked, UserID: owner.ID.Hex()}))
	assert.Len(t, live.sent, 2)
	assert.Len(t, push.titles, 1)
}

func TestNotifierUnknownOwner(t *testing.T) {
	f := newFixture(t)
	n := NewNotifier(f.store.Users, nil, nil, &fakeMailer{}, zap.NewNop())

	err := n.Handle(context.Background(), events.Event{Kind: events.PayoutStatusChange, UserID: primitive.NewObjectID().Hex(), Status: models.PayoutRejected})
	assert.Error(t, err)

	assert.Error(t, n.Handle(context.Background(), events.Event{Kind: events.ClickTracked, UserID: "not-an-id"}))
}
